package analysis

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/instabids/messaging-guard/internal/extract"
	"github.com/instabids/messaging-guard/internal/llm"
	"github.com/instabids/messaging-guard/internal/message"
	"github.com/instabids/messaging-guard/pkg/logging"
)

// Thresholds are the tunable action boundaries. They come from configuration,
// never from constants.
type Thresholds struct {
	Redact float64
	Block  float64
}

// ContextMessage is one prior turn handed to the classifier.
type ContextMessage struct {
	Role    message.SenderRole
	Content string
}

// Context carries the caller's conversation state. It is read-only during a
// pipeline run. Project metadata calibrates tone only, never detection.
type Context struct {
	Sender         message.SenderRole
	Recent         []ContextMessage
	ProjectBudget  string
	ProjectUrgency string
}

// Classifier inspects normalized content for contact-info leaks, payment
// bypass, and off-platform moves. A deterministic pattern layer always runs;
// an optional language-analysis layer refines confidence upward.
type Classifier struct {
	llm        llm.AnalysisClient
	thresholds Thresholds
	logger     *logging.Logger
}

func NewClassifier(analysisClient llm.AnalysisClient, thresholds Thresholds, logger *logging.Logger) *Classifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &Classifier{
		llm:        analysisClient,
		thresholds: thresholds,
		logger:     logger,
	}
}

// Classify produces the structured threat judgement for one message. When the
// language-analysis layer is configured but unreachable, the pattern-layer
// result is returned together with llm.ErrAnalysisUnavailable so the caller
// can apply the conservative fallback without losing deterministic spans.
func (c *Classifier) Classify(ctx context.Context, content extract.NormalizedContent, convCtx Context) (Result, error) {
	result := c.patternPass(content, convCtx)

	if c.llm == nil {
		return result, nil
	}

	judgement, err := c.llm.AnalyzeThreats(ctx, analysisRequest(content, convCtx))
	if err != nil {
		return result, fmt.Errorf("analysis: classify: %w", err)
	}
	return c.merge(result, judgement), nil
}

// patternPass runs the weighted regex table over the message body and any
// embedded attachment text. Spans are only recorded for the body, where byte
// offsets are meaningful for redaction.
func (c *Classifier) patternPass(content extract.NormalizedContent, convCtx Context) Result {
	kindConfidence := map[ThreatKind]float64{}
	var spans []Span
	var reasons []string
	signals := 0
	embedded := false

	scan := func(text string, recordSpans bool) {
		for _, p := range allThreatPatterns {
			matches := p.re.FindAllStringIndex(text, -1)
			if len(matches) == 0 {
				continue
			}
			signals++
			reasons = append(reasons, p.reason)
			if p.weight > kindConfidence[p.kind] {
				kindConfidence[p.kind] = p.weight
			}
			if recordSpans && !p.soft {
				for _, m := range matches {
					spans = append(spans, Span{Start: m[0], End: m[1], Kind: p.kind})
				}
			}
			if !recordSpans && !p.soft {
				embedded = true
			}
		}
	}

	scan(content.Text, true)
	for _, embedded := range content.EmbeddedTexts {
		scan(embedded, false)
	}

	if conf, ok := c.contextDigitProbe(content.Text, convCtx); ok {
		signals++
		reasons = append(reasons, "contact:digits_across_turns")
		if conf > kindConfidence[ThreatContactInfo] {
			kindConfidence[ThreatContactInfo] = conf
		}
		spans = append(spans, digitRunSpans(content.Text)...)
	}

	result := Result{Spans: MergeSpans(spans), EmbeddedThreat: embedded}
	maxSingle := 0.0
	for kind, conf := range kindConfidence {
		result.Threats = append(result.Threats, kind)
		if conf > maxSingle {
			maxSingle = conf
		}
	}
	result.Confidence = maxSingle

	// Multiple independent signals compound, capped at 1.0.
	if signals > 1 {
		result.Confidence += float64(signals-1) * 0.05
		if result.Confidence > 1.0 {
			result.Confidence = 1.0
		}
	}

	// Blocking requires a single unambiguous signal above the block
	// threshold; compounding of weaker signals can only reach redact.
	result.RecommendedAction = c.actionFor(result.Confidence)
	if result.RecommendedAction == ActionBlock && maxSingle < c.thresholds.Block {
		result.RecommendedAction = ActionRedact
	}
	result.Rationale = strings.Join(reasons, "; ")
	return result
}

// actionFor applies the configured thresholds to a confidence score.
func (c *Classifier) actionFor(confidence float64) Action {
	switch {
	case confidence >= c.thresholds.Block:
		return ActionBlock
	case confidence >= c.thresholds.Redact:
		return ActionRedact
	default:
		return ActionAllow
	}
}

// merge folds the language-analysis judgement into the pattern result. Model
// findings can raise confidence and add threat kinds, but never lower what
// the deterministic layer already established.
func (c *Classifier) merge(pattern Result, judgement llm.ThreatJudgement) Result {
	merged := pattern
	var extra []string
	for _, finding := range judgement.Findings {
		kind := ThreatKind(finding.Kind)
		switch kind {
		case ThreatContactInfo, ThreatSocialMedia, ThreatExternalMeeting, ThreatPaymentBypass, ThreatPlatformBypass:
		default:
			c.logger.Warn("analysis model returned unknown threat kind", "kind", finding.Kind)
			continue
		}
		if !merged.HasThreat(kind) {
			merged.Threats = append(merged.Threats, kind)
		}
		if finding.Confidence > merged.Confidence {
			merged.Confidence = finding.Confidence
		}
		if finding.Rationale != "" {
			extra = append(extra, finding.Rationale)
		}
	}
	if merged.Confidence > 1.0 {
		merged.Confidence = 1.0
	}
	merged.RecommendedAction = MaxAction(pattern.RecommendedAction, c.actionFor(merged.Confidence))
	if len(extra) > 0 {
		if merged.Rationale != "" {
			merged.Rationale += "; "
		}
		merged.Rationale += strings.Join(extra, "; ")
	}
	return merged
}

// contextDigitProbe catches phone numbers spelled out a few digits at a time
// across successive turns by the same sender. The current message must itself
// carry digits so the span-local redaction has something to remove.
func (c *Classifier) contextDigitProbe(text string, convCtx Context) (float64, bool) {
	current := digitsOf(text)
	if len(current) < 3 || len(current) >= 10 {
		return 0, false
	}
	prior := 0
	for _, turn := range convCtx.Recent {
		if turn.Role != convCtx.Sender {
			continue
		}
		d := len(digitsOf(turn.Content))
		// Only count fragmentary digit runs; a full number in a prior turn
		// was already handled when that message ran through the pipeline.
		if d >= 2 && d < 10 {
			prior += d
		}
	}
	if prior+len(current) >= 10 {
		return 0.8, true
	}
	return 0, false
}

var digitRunRe = regexp.MustCompile(`[0-9][0-9\s\-.]*[0-9]|[0-9]`)

func digitRunSpans(text string) []Span {
	var spans []Span
	for _, m := range digitRunRe.FindAllStringIndex(text, -1) {
		spans = append(spans, Span{Start: m[0], End: m[1], Kind: ThreatContactInfo})
	}
	return spans
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func analysisRequest(content extract.NormalizedContent, convCtx Context) llm.Request {
	req := llm.Request{
		Text:           content.CleanText,
		EmbeddedTexts:  content.EmbeddedTexts,
		SenderRole:     string(convCtx.Sender),
		ProjectBudget:  convCtx.ProjectBudget,
		ProjectUrgency: convCtx.ProjectUrgency,
	}
	for _, turn := range convCtx.Recent {
		req.Recent = append(req.Recent, llm.Turn{Role: string(turn.Role), Content: turn.Content})
	}
	return req
}
