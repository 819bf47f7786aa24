package decision

import (
	"strings"

	"github.com/instabids/messaging-guard/internal/analysis"
)

// RedactionPlaceholder replaces each matched span in redacted content.
const RedactionPlaceholder = "[CONTACT REMOVED]"

// analysisFallbackNotice substitutes a message body when the classifier was
// unavailable and no deterministic spans exist.
const analysisFallbackNotice = "[Message held: automated review was unavailable. The original content will be re-reviewed shortly.]"

// unreadableAttachmentNotice is delivered in place of a message whose
// attachment could not be read.
const unreadableAttachmentNotice = "This message was removed because an attachment could not be scanned. It is pending manual review."

// Redact replaces exactly the matched spans with the placeholder token.
// Content outside the spans is preserved byte for byte. Spans are clamped to
// the content bounds and merged when they overlap.
func Redact(raw string, spans []analysis.Span) string {
	if len(spans) == 0 {
		return raw
	}

	clamped := make([]analysis.Span, 0, len(spans))
	for _, s := range spans {
		if s.Start < 0 {
			s.Start = 0
		}
		if s.End > len(raw) {
			s.End = len(raw)
		}
		if s.Start >= s.End {
			continue
		}
		clamped = append(clamped, s)
	}
	if len(clamped) == 0 {
		return raw
	}
	merged := analysis.MergeSpans(clamped)

	var b strings.Builder
	prev := 0
	for _, s := range merged {
		b.WriteString(raw[prev:s.Start])
		b.WriteString(RedactionPlaceholder)
		prev = s.End
	}
	b.WriteString(raw[prev:])
	return b.String()
}

// blockNotice names only the category of what was removed, never the matched
// value, so senders are not taught what slipped through detection.
func blockNotice(threats []analysis.ThreatKind) string {
	label := "prohibited content"
	for _, t := range threats {
		switch t {
		case analysis.ThreatContactInfo:
			return "This message was removed because it contained contact information. Please keep communication on the platform."
		case analysis.ThreatPaymentBypass:
			label = "an off-platform payment reference"
		case analysis.ThreatSocialMedia:
			label = "a social media reference"
		case analysis.ThreatExternalMeeting:
			label = "an off-platform meeting proposal"
		case analysis.ThreatPlatformBypass:
			label = "an attempt to move off the platform"
		}
	}
	return "This message was removed because it contained " + label + ". Please keep communication on the platform."
}
