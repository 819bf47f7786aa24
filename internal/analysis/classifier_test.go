package analysis

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/instabids/messaging-guard/internal/extract"
	"github.com/instabids/messaging-guard/internal/llm"
	"github.com/instabids/messaging-guard/internal/message"
	"github.com/instabids/messaging-guard/pkg/logging"
)

func testClassifier(client llm.AnalysisClient) *Classifier {
	return NewClassifier(client, Thresholds{Redact: 0.4, Block: 0.85}, logging.Default())
}

func contentOf(text string) extract.NormalizedContent {
	return extract.NormalizedContent{Text: text, CleanText: text}
}

func TestClassify_PatternLayer(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		wantAction Action
		wantKinds  []ThreatKind
		wantSpans  bool
	}{
		{
			name:       "normal project talk",
			text:       "The tile and grout will be finished by Friday.",
			wantAction: ActionAllow,
		},
		{
			name:       "question about materials",
			text:       "Would oak or maple hold up better in a kitchen?",
			wantAction: ActionAllow,
		},
		{
			name:       "phone number",
			text:       "Call me at 555-867-5309 when you get a chance.",
			wantAction: ActionBlock,
			wantKinds:  []ThreatKind{ThreatContactInfo},
			wantSpans:  true,
		},
		{
			name:       "email address",
			text:       "Send the quote to mike.builds@gmail.com please.",
			wantAction: ActionBlock,
			wantKinds:  []ThreatKind{ThreatContactInfo},
			wantSpans:  true,
		},
		{
			name:       "obfuscated email",
			text:       "I'm at mikebuilds (at) gmail (dot) com if you need me.",
			wantAction: ActionBlock,
			wantKinds:  []ThreatKind{ThreatContactInfo},
			wantSpans:  true,
		},
		{
			name:       "spelled out phone digits",
			text:       "My number is five five five eight six seven five three oh nine.",
			wantAction: ActionBlock,
			wantKinds:  []ThreatKind{ThreatContactInfo},
			wantSpans:  true,
		},
		{
			name:       "soft contact intent alone stays below redact",
			text:       "Feel free to give me a call sometime.",
			wantAction: ActionAllow,
			wantKinds:  []ThreatKind{ThreatContactInfo},
		},
		{
			name:       "social platform mention",
			text:       "Find me on instagram, I post all my finished decks there.",
			wantAction: ActionRedact,
			wantKinds:  []ThreatKind{ThreatSocialMedia},
			wantSpans:  true,
		},
		{
			name:       "payment app mention",
			text:       "You can just venmo me for the deposit.",
			wantAction: ActionBlock,
			wantKinds:  []ThreatKind{ThreatPaymentBypass},
		},
		{
			name:       "compounded soft signals cap at redact",
			text:       "Pay cash and we can skip the fees.",
			wantAction: ActionRedact,
			wantKinds:  []ThreatKind{ThreatPaymentBypass},
		},
		{
			name:       "off platform move",
			text:       "Let's take this off the platform and work directly.",
			wantAction: ActionRedact,
			wantKinds:  []ThreatKind{ThreatPlatformBypass},
		},
		{
			name:       "street address",
			text:       "The job is at 412 Maple Grove Lane if you want to look first.",
			wantAction: ActionRedact,
			wantKinds:  []ThreatKind{ThreatContactInfo},
			wantSpans:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testClassifier(nil)
			res, err := c.Classify(context.Background(), contentOf(tt.text), Context{Sender: message.SenderContractor})
			require.NoError(t, err)
			assert.Equal(t, tt.wantAction, res.RecommendedAction, "rationale: %s", res.Rationale)
			for _, kind := range tt.wantKinds {
				assert.True(t, res.HasThreat(kind), "expected threat %s", kind)
			}
			if tt.wantSpans {
				assert.NotEmpty(t, res.Spans)
			} else if tt.wantAction == ActionAllow && len(tt.wantKinds) == 0 {
				assert.Empty(t, res.Spans)
			}
		})
	}
}

func TestClassify_SpansCoverMatchedBytes(t *testing.T) {
	c := testClassifier(nil)
	text := "Call me at 555-867-5309 when you get a chance."
	res, err := c.Classify(context.Background(), contentOf(text), Context{Sender: message.SenderContractor})
	require.NoError(t, err)
	require.NotEmpty(t, res.Spans)

	found := false
	for _, span := range res.Spans {
		if text[span.Start:span.End] == "555-867-5309" {
			found = true
		}
	}
	assert.True(t, found, "expected a span over the phone number, got %+v", res.Spans)
}

func TestClassify_DigitsAcrossTurns(t *testing.T) {
	c := testClassifier(nil)
	convCtx := Context{
		Sender: message.SenderContractor,
		Recent: []ContextMessage{
			{Role: message.SenderContractor, Content: "area code is 555"},
			{Role: message.SenderHomeowner, Content: "ok, what's the rest?"},
			{Role: message.SenderContractor, Content: "then 867"},
		},
	}
	res, err := c.Classify(context.Background(), contentOf("and the last part is 5309"), convCtx)
	require.NoError(t, err)
	assert.True(t, res.HasThreat(ThreatContactInfo))
	assert.GreaterOrEqual(t, res.Confidence, 0.8)
	assert.NotEmpty(t, res.Spans, "current turn digits must be redactable")
}

func TestClassify_DigitsAcrossTurns_OtherSenderIgnored(t *testing.T) {
	c := testClassifier(nil)
	convCtx := Context{
		Sender: message.SenderContractor,
		Recent: []ContextMessage{
			{Role: message.SenderHomeowner, Content: "the house number is 4125"},
			{Role: message.SenderHomeowner, Content: "zip is 66 062"},
		},
	}
	res, err := c.Classify(context.Background(), contentOf("I can bring 3 guys"), convCtx)
	require.NoError(t, err)
	assert.Equal(t, ActionAllow, res.RecommendedAction)
}

func TestClassify_EmbeddedTextScansWithoutSpans(t *testing.T) {
	c := testClassifier(nil)
	content := extract.NormalizedContent{
		Text:          "here's my card",
		CleanText:     "here's my card",
		EmbeddedTexts: []string{"Mike's Tile — call 555-867-5309"},
	}
	res, err := c.Classify(context.Background(), content, Context{Sender: message.SenderContractor})
	require.NoError(t, err)
	assert.True(t, res.HasThreat(ThreatContactInfo))
	assert.Equal(t, ActionBlock, res.RecommendedAction)
	assert.Empty(t, res.Spans, "embedded text offsets are meaningless for body redaction")
	assert.True(t, res.EmbeddedThreat)
}

func TestClassify_EmbeddedOnlyThreatIsFlagged(t *testing.T) {
	c := testClassifier(nil)
	content := extract.NormalizedContent{
		Text:          "quote attached, let me know",
		CleanText:     "quote attached, let me know",
		EmbeddedTexts: []string{"Mike's Tile, 412 Maple Grove Lane"},
	}
	res, err := c.Classify(context.Background(), content, Context{Sender: message.SenderContractor})
	require.NoError(t, err)
	assert.Equal(t, ActionRedact, res.RecommendedAction)
	assert.Empty(t, res.Spans)
	assert.True(t, res.EmbeddedThreat, "a concrete hit inside attachment text must be flagged")
}

func TestClassify_BodyThreatDoesNotFlagEmbedded(t *testing.T) {
	c := testClassifier(nil)
	res, err := c.Classify(context.Background(), contentOf("Find me on instagram for photos"), Context{Sender: message.SenderContractor})
	require.NoError(t, err)
	assert.Equal(t, ActionRedact, res.RecommendedAction)
	assert.False(t, res.EmbeddedThreat)
}

type stubAnalysisClient struct {
	judgement llm.ThreatJudgement
	err       error
}

func (s *stubAnalysisClient) AnalyzeThreats(ctx context.Context, req llm.Request) (llm.ThreatJudgement, error) {
	return s.judgement, s.err
}

func (s *stubAnalysisClient) ExtractScopeChanges(ctx context.Context, req llm.Request) ([]llm.ScopeFinding, error) {
	return nil, nil
}

func TestClassify_ModelRaisesConfidence(t *testing.T) {
	client := &stubAnalysisClient{judgement: llm.ThreatJudgement{
		Findings: []llm.ThreatFinding{{
			Kind:       "external_meeting",
			Confidence: 0.7,
			Rationale:  "proposes meeting at the property before contract",
		}},
	}}
	c := testClassifier(client)

	res, err := c.Classify(context.Background(), contentOf("Why don't I come take a look Saturday morning?"), Context{Sender: message.SenderContractor})
	require.NoError(t, err)
	assert.True(t, res.HasThreat(ThreatExternalMeeting))
	assert.Equal(t, ActionRedact, res.RecommendedAction)
}

func TestClassify_ModelNeverLowersPatternAction(t *testing.T) {
	client := &stubAnalysisClient{judgement: llm.ThreatJudgement{}}
	c := testClassifier(client)

	res, err := c.Classify(context.Background(), contentOf("text me at 555-867-5309"), Context{Sender: message.SenderContractor})
	require.NoError(t, err)
	assert.Equal(t, ActionBlock, res.RecommendedAction)
}

func TestClassify_UnavailableModelKeepsPatternResult(t *testing.T) {
	client := &stubAnalysisClient{err: llm.ErrAnalysisUnavailable}
	c := testClassifier(client)

	res, err := c.Classify(context.Background(), contentOf("reach me at 555-867-5309"), Context{Sender: message.SenderContractor})
	require.Error(t, err)
	assert.True(t, errors.Is(err, llm.ErrAnalysisUnavailable))
	assert.Equal(t, ActionBlock, res.RecommendedAction, "pattern verdict survives the outage")
	assert.NotEmpty(t, res.Spans)
}

func TestClassify_UnknownModelKindIgnored(t *testing.T) {
	client := &stubAnalysisClient{judgement: llm.ThreatJudgement{
		Findings: []llm.ThreatFinding{{Kind: "gossip", Confidence: 0.99}},
	}}
	c := testClassifier(client)

	res, err := c.Classify(context.Background(), contentOf("the backsplash looks great"), Context{Sender: message.SenderHomeowner})
	require.NoError(t, err)
	assert.Equal(t, ActionAllow, res.RecommendedAction)
	assert.Empty(t, res.Threats)
}
