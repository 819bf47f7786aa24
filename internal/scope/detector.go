package scope

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

// Context mirrors the classifier's conversation context; the detector runs on
// the same inputs but stays fully independent of threat classification.
type Context struct {
	Sender message.SenderRole
	Recent []Turn
}

// Turn is one prior message in the conversation.
type Turn struct {
	Role    message.SenderRole
	Content string
}

// Detector finds firm scope-change decisions in a message. Mere discussion
// ("should we consider granite?") is filtered out; only decisions and strong
// proposals become candidates.
type Detector struct {
	llm    llm.AnalysisClient
	logger *logging.Logger
}

func NewDetector(analysisClient llm.AnalysisClient, logger *logging.Logger) *Detector {
	if logger == nil {
		logger = logging.Default()
	}
	return &Detector{llm: analysisClient, logger: logger}
}

// Detect returns scope-change candidates found in the content, possibly none.
// Pure: no side effects; question generation happens downstream.
func (d *Detector) Detect(ctx context.Context, content extract.NormalizedContent, convCtx Context) ([]Candidate, error) {
	candidates := d.patternPass(content.Combined())

	if d.llm == nil {
		return candidates, nil
	}

	findings, err := d.llm.ExtractScopeChanges(ctx, scopeRequest(content, convCtx))
	if err != nil {
		return candidates, fmt.Errorf("scope: detect: %w", err)
	}
	return d.merge(candidates, findings), nil
}

var sentenceSplitRe = regexp.MustCompile(`[.!\n]+`)

func (d *Detector) patternPass(text string) []Candidate {
	var candidates []Candidate
	for _, sentence := range sentenceSplitRe.Split(text, -1) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" || isDiscussion(sentence) {
			continue
		}
		candidates = append(candidates, detectInSentence(sentence)...)
	}
	return dedupe(candidates)
}

// Discussion markers: questions and hedged musings never become candidates.
var discussionRe = regexp.MustCompile(`(?i)^(?:should|could|would|can|do|does|did|what|how|have you|are you|is it|maybe|perhaps|what if|i wonder|just wondering|thinking about|any thoughts)`)

func isDiscussion(sentence string) bool {
	if strings.Contains(sentence, "?") {
		return true
	}
	return discussionRe.MatchString(sentence)
}

// Decision cues, strongest first. The first cue that matches a sentence sets
// the candidate confidence.
var decisionCues = []struct {
	re         *regexp.Regexp
	confidence float64
}{
	{regexp.MustCompile(`(?i)\binstead\s+of\b`), 0.85},
	{regexp.MustCompile(`(?i)\blet'?s\s+(?:go\s+with|use|do|switch\s+to|change\s+to)\b`), 0.8},
	{regexp.MustCompile(`(?i)\b(?:switch|switching|change|changing|upgrade|upgrading|downgrade)\s+(?:it\s+)?to\b`), 0.8},
	{regexp.MustCompile(`(?i)\bwe(?:'ll|\s+will)\s+(?:go\s+with|use|do)\b`), 0.75},
	{regexp.MustCompile(`(?i)\bi\s+(?:want|would\s+like|decided)\s+to\s+(?:go\s+with|use|add|remove|change|switch)\b`), 0.75},
	{regexp.MustCompile(`(?i)\bgo\s+ahead\s+(?:and|with)\b`), 0.7},
	{regexp.MustCompile(`(?i)\b(?:add|adding|include|including)\s+(?:a|an|the)\b`), 0.6},
	{regexp.MustCompile(`(?i)\b(?:remove|removing|drop|dropping|skip|skipping|cut|cutting)\s+(?:the|that)\b`), 0.6},
	{regexp.MustCompile(`(?i)\b(?:push|pushing|move|moving|extend|extending|delay|delaying)\s+(?:back\s+)?the\s+(?:timeline|deadline|schedule|start|completion)\b`), 0.75},
	{regexp.MustCompile(`(?i)\b(?:increase|increasing|raise|raising|bump|lower|lowering|reduce|reducing)\s+the\s+budget\b`), 0.75},
}

// Known materials, used both for kind tagging and hint extraction.
var materialRe = regexp.MustCompile(`(?i)\b(granite|quartz|marble|quartzite|butcher\s?block|laminate|hardwood|engineered\s+wood|vinyl|tile|ceramic|porcelain|slate|concrete|stainless\s+steel|copper|brass|oak|maple|walnut|cherry|bamboo|carpet|linoleum|subway\s+tile|shiplap|drywall|brick|stone|stucco|cedar|composite|fiberglass|asphalt|metal\s+roofing)\b`)

// Project subjects, mapped to canonical field-path roots.
var subjectPaths = []struct {
	re   *regexp.Regexp
	path string
}{
	{regexp.MustCompile(`(?i)\bcounter(?:top)?s?\b`), "counters"},
	{regexp.MustCompile(`(?i)\bfloor(?:ing)?s?\b`), "flooring"},
	{regexp.MustCompile(`(?i)\bcabinet(?:ry|s)?\b`), "cabinets"},
	{regexp.MustCompile(`(?i)\bbacksplash\b`), "backsplash"},
	{regexp.MustCompile(`(?i)\broof(?:ing)?\b`), "roof"},
	{regexp.MustCompile(`(?i)\bdeck\b`), "deck"},
	{regexp.MustCompile(`(?i)\bfence\b`), "fence"},
	{regexp.MustCompile(`(?i)\bshower\b`), "bathroom.shower"},
	{regexp.MustCompile(`(?i)\bbath(?:room)?\b`), "bathroom"},
	{regexp.MustCompile(`(?i)\bkitchen\b`), "kitchen"},
	{regexp.MustCompile(`(?i)\bwindows?\b`), "windows"},
	{regexp.MustCompile(`(?i)\bdoors?\b`), "doors"},
	{regexp.MustCompile(`(?i)\bpaint\b|\bwalls?\b`), "walls.paint"},
	{regexp.MustCompile(`(?i)\blight(?:ing)?\b|\bfixtures?\b`), "lighting"},
	{regexp.MustCompile(`(?i)\bisland\b`), "kitchen.island"},
	{regexp.MustCompile(`(?i)\bgarage\b`), "garage"},
	{regexp.MustCompile(`(?i)\bbasement\b`), "basement"},
	{regexp.MustCompile(`(?i)\bpatio\b`), "patio"},
}

var (
	budgetAmountRe = regexp.MustCompile(`\$\s?[0-9][0-9,]*(?:\.[0-9]{2})?k?|\b[0-9][0-9,]{2,}\s+dollars\b`)
	timelineRe     = regexp.MustCompile(`(?i)\b(?:\d+\s+(?:more\s+)?(?:days?|weeks?|months?)|(?:january|february|march|april|may|june|july|august|september|october|november|december)\b|\bnext\s+(?:week|month|spring|summer|fall|winter)\b)`)
	sizeRe         = regexp.MustCompile(`(?i)\b\d[\d,]*\s*(?:sq\.?\s?(?:ft|feet)|square\s+(?:feet|foot)|sf)\b|\b(?:bigger|smaller|larger|wider|expand(?:ed)?|extend(?:ed)?)\b`)
	insteadOfRe    = regexp.MustCompile(`(?i)(?:go\s+with|use|with|do)\s+([a-z][a-z\s]{1,25}?)\s+instead\s+of\s+([a-z][a-z\s]{1,25}?)(?:\s+for\b|\s+on\b|,|$)`)
	fromToRe       = regexp.MustCompile(`(?i)from\s+([a-z0-9$][a-z0-9$,.\s]{0,25}?)\s+to\s+([a-z0-9$][a-z0-9$,.\s]{0,25})`)
	changeToRe     = regexp.MustCompile(`(?i)(?:switch|change|upgrade|downgrade)\s+(?:it\s+)?to\s+([a-z0-9$][a-z0-9$,.\s]{0,25})`)
)

func detectInSentence(sentence string) []Candidate {
	cueConfidence := 0.0
	for _, cue := range decisionCues {
		if cue.re.MatchString(sentence) {
			cueConfidence = cue.confidence
			break
		}
	}
	if cueConfidence == 0 {
		return nil
	}

	subject := subjectPath(sentence)
	oldHint, newHint := extractHints(sentence)

	kind, ok := classifyKind(sentence)
	if !ok {
		return nil
	}

	candidate := Candidate{
		ChangeKind:   kind,
		FieldPath:    fieldPathFor(kind, subject),
		OldValueHint: oldHint,
		NewValueHint: newHint,
		Confidence:   cueConfidence,
	}

	// Hints only make sense for value-carrying kinds; additions/removals name
	// the feature itself instead.
	switch kind {
	case ChangeFeatureAdd, ChangeFeatureRemove:
		candidate.OldValueHint = ""
		if candidate.NewValueHint == "" && subject != "" {
			candidate.NewValueHint = subject
		}
	case ChangeBudget:
		if candidate.NewValueHint == "" {
			candidate.NewValueHint = strings.TrimSpace(budgetAmountRe.FindString(sentence))
		}
	case ChangeTimeline:
		if candidate.NewValueHint == "" {
			candidate.NewValueHint = strings.TrimSpace(timelineRe.FindString(sentence))
		}
	}

	return []Candidate{candidate}
}

func classifyKind(sentence string) (ChangeKind, bool) {
	hasMaterial := materialRe.MatchString(sentence)
	lower := strings.ToLower(sentence)
	switch {
	case strings.Contains(lower, "budget") || (budgetAmountRe.MatchString(sentence) && !hasMaterial && !sizeRe.MatchString(sentence)):
		return ChangeBudget, true
	case strings.Contains(lower, "timeline") || strings.Contains(lower, "deadline") || strings.Contains(lower, "schedule"):
		return ChangeTimeline, true
	case sizeRe.MatchString(sentence):
		return ChangeSize, true
	case hasMaterial:
		// A material mention outranks an incidental date ("granite, starting
		// in May" is a material change, not a timeline one).
		return ChangeMaterial, true
	case timelineRe.MatchString(sentence):
		return ChangeTimeline, true
	case additionRe.MatchString(sentence):
		return ChangeFeatureAdd, true
	case removalRe.MatchString(sentence):
		return ChangeFeatureRemove, true
	}
	return "", false
}

var (
	additionRe = regexp.MustCompile(`(?i)\b(?:add|adding|include|including)\b`)
	removalRe  = regexp.MustCompile(`(?i)\b(?:remove|removing|drop|dropping|skip|skipping|cut|cutting)\b`)
)

func subjectPath(sentence string) string {
	for _, s := range subjectPaths {
		if s.re.MatchString(sentence) {
			return s.path
		}
	}
	return ""
}

func fieldPathFor(kind ChangeKind, subject string) string {
	switch kind {
	case ChangeMaterial:
		if subject == "" {
			return "project.material"
		}
		return subject + ".material"
	case ChangeSize:
		if subject == "" {
			return "project.size"
		}
		return subject + ".size"
	case ChangeFeatureAdd, ChangeFeatureRemove:
		if subject == "" {
			return "project.features"
		}
		return subject + ".features"
	case ChangeTimeline:
		return "project.timeline"
	case ChangeBudget:
		return "project.budget"
	}
	return "project"
}

func extractHints(sentence string) (oldHint, newHint string) {
	if m := insteadOfRe.FindStringSubmatch(sentence); m != nil {
		return cleanHint(m[2]), cleanHint(m[1])
	}
	if m := fromToRe.FindStringSubmatch(sentence); m != nil {
		return cleanHint(m[1]), cleanHint(m[2])
	}
	if m := changeToRe.FindStringSubmatch(sentence); m != nil {
		return "", cleanHint(m[1])
	}
	// Fall back to naming a known material if one appears.
	if m := materialRe.FindString(sentence); m != "" {
		return "", strings.ToLower(m)
	}
	return "", ""
}

func cleanHint(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	// Prefer the known material inside a longer capture ("granite counters").
	if m := materialRe.FindString(s); m != "" {
		return strings.ToLower(m)
	}
	return s
}

func dedupe(candidates []Candidate) []Candidate {
	seen := map[string]int{}
	var out []Candidate
	for _, c := range candidates {
		key := string(c.ChangeKind) + "|" + c.FieldPath
		if idx, ok := seen[key]; ok {
			if c.Confidence > out[idx].Confidence {
				out[idx] = c
			}
			continue
		}
		seen[key] = len(out)
		out = append(out, c)
	}
	return out
}

// merge folds model findings into the pattern candidates. Model findings can
// add candidates or raise confidence; they never drop a deterministic hit.
func (d *Detector) merge(pattern []Candidate, findings []llm.ScopeFinding) []Candidate {
	merged := append([]Candidate(nil), pattern...)
	for _, f := range findings {
		kind := ChangeKind(f.ChangeKind)
		if !kind.Valid() {
			d.logger.Warn("analysis model returned unknown change kind", "change_kind", f.ChangeKind)
			continue
		}
		candidate := Candidate{
			ChangeKind:   kind,
			FieldPath:    f.FieldPath,
			OldValueHint: f.OldValueHint,
			NewValueHint: f.NewValueHint,
			Confidence:   f.Confidence,
		}
		if candidate.FieldPath == "" {
			candidate.FieldPath = fieldPathFor(kind, "")
		}
		merged = append(merged, candidate)
	}
	return dedupe(merged)
}

func scopeRequest(content extract.NormalizedContent, convCtx Context) llm.Request {
	req := llm.Request{
		Text:          content.CleanText,
		EmbeddedTexts: content.EmbeddedTexts,
		SenderRole:    string(convCtx.Sender),
	}
	for _, turn := range convCtx.Recent {
		req.Recent = append(req.Recent, llm.Turn{Role: string(turn.Role), Content: turn.Content})
	}
	return req
}
