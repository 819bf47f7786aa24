package analysis

import "sort"

// ThreatKind classifies a detected bypass attempt.
type ThreatKind string

const (
	ThreatContactInfo     ThreatKind = "contact_info"
	ThreatSocialMedia     ThreatKind = "social_media"
	ThreatExternalMeeting ThreatKind = "external_meeting"
	ThreatPaymentBypass   ThreatKind = "payment_bypass"
	ThreatPlatformBypass  ThreatKind = "platform_bypass"
)

// Action is the moderation verdict for a message. Severity order:
// allow < redact < block.
type Action string

const (
	ActionAllow  Action = "allow"
	ActionRedact Action = "redact"
	ActionBlock  Action = "block"
)

var actionSeverity = map[Action]int{
	ActionAllow:  0,
	ActionRedact: 1,
	ActionBlock:  2,
}

// Severity returns the ordering rank of the action.
func (a Action) Severity() int {
	return actionSeverity[a]
}

// MaxAction returns the stricter of two actions.
func MaxAction(a, b Action) Action {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// Span marks a matched region of the message body, as byte offsets into the
// raw content. Redaction replaces exactly these regions.
type Span struct {
	Start int        `json:"start"`
	End   int        `json:"end"`
	Kind  ThreatKind `json:"kind"`
}

// Result is the threat classifier's verdict for one message.
type Result struct {
	Threats           []ThreatKind `json:"threats"`
	Confidence        float64      `json:"confidence"`
	RecommendedAction Action       `json:"recommended_action"`
	Rationale         string       `json:"rationale"`
	Spans             []Span       `json:"spans,omitempty"`

	// EmbeddedThreat marks a hit found only inside attachment text. Spans
	// cannot reach into an attachment, so such hits have to escalate rather
	// than redact.
	EmbeddedThreat bool `json:"embedded_threat,omitempty"`
}

// HasThreat reports whether a specific kind was detected.
func (r Result) HasThreat(kind ThreatKind) bool {
	for _, t := range r.Threats {
		if t == kind {
			return true
		}
	}
	return false
}

// MergeSpans sorts spans and collapses overlapping or adjacent regions so the
// redactor replaces each region exactly once.
func MergeSpans(spans []Span) []Span {
	if len(spans) <= 1 {
		return spans
	}
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End > spans[j].End
	})
	merged := spans[:1]
	for _, s := range spans[1:] {
		last := &merged[len(merged)-1]
		if s.Start <= last.End {
			if s.End > last.End {
				last.End = s.End
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}
