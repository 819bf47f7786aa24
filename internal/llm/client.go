package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrAnalysisUnavailable indicates the language-analysis call failed or timed
// out. Callers must apply the conservative fallback, never allow.
var ErrAnalysisUnavailable = errors.New("llm: analysis unavailable")

// Turn is one prior message handed to the analysis service for context.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request carries the normalized message plus conversation context.
type Request struct {
	Text           string   `json:"text"`
	EmbeddedTexts  []string `json:"embedded_texts,omitempty"`
	SenderRole     string   `json:"sender_role"`
	Recent         []Turn   `json:"recent,omitempty"`
	ProjectBudget  string   `json:"project_budget,omitempty"`
	ProjectUrgency string   `json:"project_urgency,omitempty"`
}

// ThreatFinding is one detected threat from the analysis service.
type ThreatFinding struct {
	Kind       string  `json:"kind"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale,omitempty"`
}

// ThreatJudgement is the structured threat verdict.
type ThreatJudgement struct {
	Findings          []ThreatFinding `json:"findings"`
	RecommendedAction string          `json:"recommended_action"`
	Rationale         string          `json:"rationale,omitempty"`
}

// ScopeFinding is one extracted scope-change proposal.
type ScopeFinding struct {
	ChangeKind   string  `json:"change_kind"`
	FieldPath    string  `json:"field_path"`
	OldValueHint string  `json:"old_value_hint,omitempty"`
	NewValueHint string  `json:"new_value_hint,omitempty"`
	Confidence   float64 `json:"confidence"`
}

// AnalysisClient is the language-analysis collaborator. Implementations are
// model-agnostic; they must return the structured shapes or fail.
type AnalysisClient interface {
	AnalyzeThreats(ctx context.Context, req Request) (ThreatJudgement, error)
	ExtractScopeChanges(ctx context.Context, req Request) ([]ScopeFinding, error)
}

const threatSystemPrompt = `You review messages exchanged between a homeowner and a contractor on a marketplace that must keep all communication and payment on-platform.
Identify attempts to exchange contact information (phone, email, address, social handles), propose off-platform meetings, mention payment apps, or move the relationship off the platform.
Respond with JSON only, in this exact shape:
{"findings":[{"kind":"contact_info|social_media|external_meeting|payment_bypass|platform_bypass","confidence":0.0,"rationale":"..."}],"recommended_action":"allow|redact|block","rationale":"..."}
Use high confidence only for unambiguous signals. Soft language like "call me" without a number is low confidence. If nothing is suspicious return an empty findings array and "allow".`

const scopeSystemPrompt = `You review messages exchanged between a homeowner and a contractor about a renovation project.
Identify firm decisions or strong proposals to change the agreed project scope: material, size, feature_addition, feature_removal, timeline, or budget.
Questions and open discussion ("should we consider granite?") are NOT changes. Only report decisions or strong proposals.
Respond with JSON only: {"changes":[{"change_kind":"material","field_path":"counters.material","old_value_hint":"quartz","new_value_hint":"granite","confidence":0.9}]}
If nothing changed, return {"changes":[]}.`

func buildUserPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Sender role: ")
	b.WriteString(req.SenderRole)
	b.WriteString("\n")
	if req.ProjectBudget != "" {
		fmt.Fprintf(&b, "Project budget: %s\n", req.ProjectBudget)
	}
	if req.ProjectUrgency != "" {
		fmt.Fprintf(&b, "Project urgency: %s\n", req.ProjectUrgency)
	}
	if len(req.Recent) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, turn := range req.Recent {
			fmt.Fprintf(&b, "- %s: %s\n", turn.Role, turn.Content)
		}
	}
	b.WriteString("Message under review:\n")
	b.WriteString(req.Text)
	for _, embedded := range req.EmbeddedTexts {
		b.WriteString("\nText extracted from attachment:\n")
		b.WriteString(embedded)
	}
	return b.String()
}

// decodeJSONBlock tolerates models that wrap JSON in prose or code fences.
func decodeJSONBlock(raw string, v any) error {
	raw = strings.TrimSpace(raw)
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("llm: no JSON object in response")
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), v); err != nil {
		return fmt.Errorf("llm: decode response: %w", err)
	}
	return nil
}

type scopeEnvelope struct {
	Changes []ScopeFinding `json:"changes"`
}
