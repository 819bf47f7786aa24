package decision

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/instabids/messaging-guard/internal/analysis"
	"github.com/instabids/messaging-guard/internal/message"
	"github.com/instabids/messaging-guard/internal/scope"
)

func testMessage(role message.SenderRole, content string) message.Message {
	return message.New(uuid.New(), role, content, nil)
}

func TestDecide_CleanMessagePassesThrough(t *testing.T) {
	msg := testMessage(message.SenderContractor, "The tile work wraps up on Friday.")
	res := analysis.Result{RecommendedAction: analysis.ActionAllow}

	dec := Decide(msg, res, nil, Options{ScopeConfirmThreshold: 0.5})

	assert.Equal(t, analysis.ActionAllow, dec.Action)
	assert.Equal(t, msg.RawContent, dec.DeliveredContent)
	assert.Empty(t, dec.GeneratedQuestion)
	assert.False(t, dec.UpdateRequestEmitted)
	assert.Equal(t, msg.ID, dec.MessageID)
	assert.Equal(t, msg.ConversationID, dec.ConversationID)
}

func TestDecide_RedactReplacesOnlySpans(t *testing.T) {
	raw := "Sounds good, call me at 555-867-5309 tomorrow."
	msg := testMessage(message.SenderContractor, raw)
	res := analysis.Result{
		Threats:           []analysis.ThreatKind{analysis.ThreatContactInfo},
		RecommendedAction: analysis.ActionRedact,
		Spans:             []analysis.Span{{Start: 24, End: 36, Kind: analysis.ThreatContactInfo}},
	}

	dec := Decide(msg, res, nil, Options{ScopeConfirmThreshold: 0.5})

	assert.Equal(t, analysis.ActionRedact, dec.Action)
	assert.Equal(t, "Sounds good, call me at "+RedactionPlaceholder+" tomorrow.", dec.DeliveredContent)
	assert.NotContains(t, dec.DeliveredContent, "555")
}

func TestDecide_EmbeddedOnlyThreatEscalatesToBlock(t *testing.T) {
	msg := testMessage(message.SenderContractor, "full quote in the attached photo")
	res := analysis.Result{
		Threats:           []analysis.ThreatKind{analysis.ThreatContactInfo},
		RecommendedAction: analysis.ActionRedact,
		EmbeddedThreat:    true,
	}

	dec := Decide(msg, res, nil, Options{ScopeConfirmThreshold: 0.5})

	assert.Equal(t, analysis.ActionBlock, dec.Action, "a threat living in the attachment cannot be span-redacted")
	assert.NotEqual(t, msg.RawContent, dec.DeliveredContent)
	assert.Contains(t, dec.DeliveredContent, "contact information")
}

func TestDecide_EmbeddedThreatWithBodySpansStillBlocks(t *testing.T) {
	raw := "find me on instagram, quote attached"
	msg := testMessage(message.SenderContractor, raw)
	res := analysis.Result{
		Threats:           []analysis.ThreatKind{analysis.ThreatSocialMedia, analysis.ThreatContactInfo},
		RecommendedAction: analysis.ActionRedact,
		Spans:             []analysis.Span{{Start: 11, End: 20, Kind: analysis.ThreatSocialMedia}},
		EmbeddedThreat:    true,
	}

	dec := Decide(msg, res, nil, Options{ScopeConfirmThreshold: 0.5})

	assert.Equal(t, analysis.ActionBlock, dec.Action, "span redaction cannot reach into the attachment")
	assert.NotContains(t, dec.DeliveredContent, "instagram")
}

func TestDecide_QualifiedCandidateForcesRedactAndQuestion(t *testing.T) {
	msg := testMessage(message.SenderContractor, "Let's use granite instead of quartz for the counters")
	res := analysis.Result{RecommendedAction: analysis.ActionAllow}
	candidates := []scope.Candidate{{
		ChangeKind:   scope.ChangeMaterial,
		FieldPath:    "counters.material",
		OldValueHint: "quartz",
		NewValueHint: "granite",
		Confidence:   0.85,
	}}

	dec := Decide(msg, res, candidates, Options{ScopeConfirmThreshold: 0.5})

	assert.Equal(t, analysis.ActionRedact, dec.Action)
	// No threat spans, so the body itself is untouched.
	assert.Equal(t, msg.RawContent, dec.DeliveredContent)
	assert.Contains(t, dec.GeneratedQuestion, "Your contractor proposed a change")
	assert.Contains(t, dec.GeneratedQuestion, "counters.material from quartz to granite")
	assert.False(t, dec.UpdateRequestEmitted, "updates wait for homeowner confirmation")
}

func TestDecide_BlockWinsOverScopeRedact(t *testing.T) {
	msg := testMessage(message.SenderContractor, "venmo me and let's do granite instead of quartz")
	res := analysis.Result{
		Threats:           []analysis.ThreatKind{analysis.ThreatPaymentBypass},
		RecommendedAction: analysis.ActionBlock,
	}
	candidates := []scope.Candidate{{ChangeKind: scope.ChangeMaterial, FieldPath: "counters.material", Confidence: 0.85}}

	dec := Decide(msg, res, candidates, Options{ScopeConfirmThreshold: 0.5})

	assert.Equal(t, analysis.ActionBlock, dec.Action)
	assert.NotContains(t, dec.DeliveredContent, "venmo")
	assert.Contains(t, dec.DeliveredContent, "off-platform payment reference")
	assert.NotEmpty(t, dec.GeneratedQuestion, "the confirmation still goes out even when the body is blocked")
}

func TestDecide_DegradedClassifierNeverAllows(t *testing.T) {
	msg := testMessage(message.SenderHomeowner, "Everything looks great so far!")
	res := analysis.Result{RecommendedAction: analysis.ActionAllow}

	dec := Decide(msg, res, nil, Options{ScopeConfirmThreshold: 0.5, Degraded: true})

	assert.Equal(t, analysis.ActionRedact, dec.Action)
	assert.Equal(t, analysisFallbackNotice, dec.DeliveredContent, "no trusted spans means the whole body is substituted")
}

func TestDecide_DegradedKeepsPatternSpans(t *testing.T) {
	raw := "call me at 555-867-5309"
	msg := testMessage(message.SenderContractor, raw)
	res := analysis.Result{
		Threats:           []analysis.ThreatKind{analysis.ThreatContactInfo},
		RecommendedAction: analysis.ActionRedact,
		Spans:             []analysis.Span{{Start: 11, End: 23, Kind: analysis.ThreatContactInfo}},
	}

	dec := Decide(msg, res, nil, Options{ScopeConfirmThreshold: 0.5, Degraded: true})

	assert.Equal(t, analysis.ActionRedact, dec.Action)
	assert.Equal(t, "call me at "+RedactionPlaceholder, dec.DeliveredContent)
}

func TestBlockedForAttachment(t *testing.T) {
	msg := testMessage(message.SenderContractor, "see attached")

	dec := BlockedForAttachment(msg)

	assert.Equal(t, analysis.ActionBlock, dec.Action)
	assert.Equal(t, unreadableAttachmentNotice, dec.DeliveredContent)
	assert.Equal(t, msg.ID, dec.MessageID)
	assert.NotEmpty(t, dec.Rationale)
}

func TestConfirmationQuestion(t *testing.T) {
	candidates := []scope.Candidate{
		{ChangeKind: scope.ChangeBudget, FieldPath: "project.budget", NewValueHint: "$15,000", Confidence: 0.6},
		{ChangeKind: scope.ChangeMaterial, FieldPath: "counters.material", OldValueHint: "quartz", NewValueHint: "granite", Confidence: 0.85},
	}

	q := ConfirmationQuestion(message.SenderContractor, candidates)
	assert.Contains(t, q, "Your contractor proposed a change")
	assert.Contains(t, q, "counters.material from quartz to granite", "strongest candidate wins")
	assert.Contains(t, q, "Reply YES")

	q = ConfirmationQuestion(message.SenderHomeowner, candidates)
	assert.Contains(t, q, "It sounds like you want to change your project")

	assert.Empty(t, ConfirmationQuestion(message.SenderHomeowner, nil))
}

func TestRedact(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		spans []analysis.Span
		want  string
	}{
		{
			name:  "no spans returns raw",
			raw:   "hello there",
			spans: nil,
			want:  "hello there",
		},
		{
			name:  "single span",
			raw:   "email me at joe@example.com today",
			spans: []analysis.Span{{Start: 12, End: 27}},
			want:  "email me at " + RedactionPlaceholder + " today",
		},
		{
			name: "overlapping spans collapse to one placeholder",
			raw:  "0123456789",
			spans: []analysis.Span{
				{Start: 2, End: 6},
				{Start: 4, End: 8},
			},
			want: "01" + RedactionPlaceholder + "89",
		},
		{
			name: "out-of-bounds spans are clamped",
			raw:  "short",
			spans: []analysis.Span{
				{Start: -3, End: 2},
				{Start: 4, End: 99},
			},
			want: RedactionPlaceholder + "or" + RedactionPlaceholder,
		},
		{
			name:  "inverted span is dropped",
			raw:   "unchanged",
			spans: []analysis.Span{{Start: 5, End: 5}},
			want:  "unchanged",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Redact(tc.raw, tc.spans))
		})
	}
}

func TestBlockNotice_NamesCategoryNotValue(t *testing.T) {
	notice := blockNotice([]analysis.ThreatKind{analysis.ThreatPlatformBypass})
	assert.Contains(t, notice, "an attempt to move off the platform")

	notice = blockNotice([]analysis.ThreatKind{analysis.ThreatSocialMedia, analysis.ThreatContactInfo})
	assert.Contains(t, notice, "contact information", "contact info takes precedence")

	notice = blockNotice(nil)
	assert.Contains(t, notice, "prohibited content")

	require.False(t, strings.Contains(notice, "555"), "notices never echo matched values")
}
