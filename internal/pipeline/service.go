package pipeline

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/instabids/messaging-guard/internal/analysis"
	"github.com/instabids/messaging-guard/internal/conversation"
	"github.com/instabids/messaging-guard/internal/decision"
	"github.com/instabids/messaging-guard/internal/extract"
	"github.com/instabids/messaging-guard/internal/message"
	"github.com/instabids/messaging-guard/internal/observability/metrics"
	"github.com/instabids/messaging-guard/internal/scope"
	"github.com/instabids/messaging-guard/internal/storage"
	"github.com/instabids/messaging-guard/pkg/logging"
)

// threatClassifier and scopeDetector let tests substitute the analysis stages.
type threatClassifier interface {
	Classify(ctx context.Context, content extract.NormalizedContent, convCtx analysis.Context) (analysis.Result, error)
}

type scopeDetector interface {
	Detect(ctx context.Context, content extract.NormalizedContent, convCtx scope.Context) ([]scope.Candidate, error)
}

type contentExtractor interface {
	Extract(ctx context.Context, msg message.Message) (extract.NormalizedContent, error)
}

// Options tunes one pipeline service instance.
type Options struct {
	ScopeMinConfidence float64
	AnalysisTimeout    time.Duration
	ContextWindow      int
}

// Service runs the full filter pipeline for one inbound message: extraction,
// concurrent threat classification and scope detection, the merged decision,
// redaction, and atomic persistence. Runs within a conversation are
// serialized; runs across conversations proceed in parallel.
type Service struct {
	extractor  contentExtractor
	classifier threatClassifier
	detector   scopeDetector
	store      *storage.Store
	outbox     *storage.UpdateOutbox
	contexts   *conversation.ContextStore
	metrics    *metrics.PipelineMetrics
	logger     *logging.Logger
	locks      *convLocks
	opts       Options
}

func NewService(
	extractor contentExtractor,
	classifier threatClassifier,
	detector scopeDetector,
	store *storage.Store,
	outbox *storage.UpdateOutbox,
	contexts *conversation.ContextStore,
	m *metrics.PipelineMetrics,
	logger *logging.Logger,
	opts Options,
) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if opts.ScopeMinConfidence <= 0 {
		opts.ScopeMinConfidence = 0.5
	}
	if opts.AnalysisTimeout <= 0 {
		opts.AnalysisTimeout = 30 * time.Second
	}
	if opts.ContextWindow <= 0 {
		opts.ContextWindow = 10
	}
	return &Service{
		extractor:  extractor,
		classifier: classifier,
		detector:   detector,
		store:      store,
		outbox:     outbox,
		contexts:   contexts,
		metrics:    m,
		logger:     logger,
		locks:      newConvLocks(),
		opts:       opts,
	}
}

var (
	affirmativeRe = regexp.MustCompile(`(?i)^\s*(yes|yep|yeah|yup|confirm(ed)?|approved?|sounds good|correct|go ahead|do it)\b`)
	negativeRe    = regexp.MustCompile(`(?i)^\s*(no|nope|nah|don'?t|do not|decline[d]?|cancel|keep it|leave it)\b`)
)

// Process runs one message through the pipeline and returns the persisted
// decision. The message itself is always analyzed, even when it doubles as a
// confirmation reply; a bare "yes" is harmless, but "yes, call me at ..."
// still has to be filtered.
func (s *Service) Process(ctx context.Context, msg message.Message, bidID string) (decision.Decision, error) {
	if msg.ConversationID == uuid.Nil {
		return decision.Decision{}, errors.New("pipeline: conversation id required")
	}
	if !msg.SenderRole.Valid() {
		return decision.Decision{}, fmt.Errorf("pipeline: invalid sender role %q", msg.SenderRole)
	}

	release := s.locks.acquire(msg.ConversationID)
	defer release()

	start := time.Now()

	conv, err := s.store.EnsureConversation(ctx, msg.ConversationID, bidID)
	if err != nil {
		return decision.Decision{}, err
	}

	recent, err := s.contexts.Recent(ctx, msg.ConversationID, s.opts.ContextWindow)
	if err != nil {
		s.logger.Warn("context window unavailable, analyzing without history",
			"error", err, "conversation_id", msg.ConversationID)
		recent = nil
	}

	extractStart := time.Now()
	content, err := s.extractor.Extract(ctx, msg)
	s.metrics.ObserveStageLatency("extract", time.Since(extractStart).Seconds())
	if err != nil {
		if errors.Is(err, extract.ErrUnextractableAttachment) {
			dec := decision.BlockedForAttachment(msg)
			dec.Superseded = conv.Archived
			res := analysis.Result{
				RecommendedAction: analysis.ActionBlock,
				Rationale:         dec.Rationale,
			}
			if err := s.store.SaveRun(ctx, nil, msg, res, nil, dec); err != nil {
				return decision.Decision{}, err
			}
			s.metrics.ObserveRun(string(dec.Action), "unextractable_attachment")
			s.appendContext(ctx, msg)
			return dec, nil
		}
		return decision.Decision{}, err
	}

	res, candidates, degraded := s.analyze(ctx, content, msg, recent)

	qualified := scope.Qualified(candidates, s.opts.ScopeMinConfidence)
	dec := decision.Decide(msg, res, qualified, decision.Options{
		ScopeConfirmThreshold: s.opts.ScopeMinConfidence,
		Degraded:              degraded,
	})
	dec.Superseded = conv.Archived

	pc, status, err := s.confirmationIntent(ctx, msg, conv)
	if err != nil {
		return decision.Decision{}, err
	}
	confirmed := status == "confirmed"
	dec.UpdateRequestEmitted = confirmed

	if err := s.persistRun(ctx, msg, res, candidates, dec, pc, status); err != nil {
		return decision.Decision{}, err
	}

	if dec.GeneratedQuestion != "" && !conv.Archived {
		if err := s.openConfirmation(ctx, conv, dec, qualified); err != nil {
			s.logger.Error("failed to open pending confirmation",
				"error", err, "conversation_id", msg.ConversationID, "decision_id", dec.ID)
		}
	}

	s.appendContext(ctx, msg)
	s.observeRun(dec, res, candidates, qualified, degraded, confirmed, pc)
	s.metrics.ObserveStageLatency("pipeline", time.Since(start).Seconds())

	return dec, nil
}

// analyze fans out the threat classifier and the scope detector under one
// deadline. Either stage failing degrades, never aborts: the pattern layers
// still produce deterministic results.
func (s *Service) analyze(ctx context.Context, content extract.NormalizedContent, msg message.Message, recent []conversation.ContextEntry) (analysis.Result, []scope.Candidate, bool) {
	analysisCtx, cancel := context.WithTimeout(ctx, s.opts.AnalysisTimeout)
	defer cancel()

	var (
		wg          sync.WaitGroup
		res         analysis.Result
		classifyErr error
		candidates  []scope.Candidate
		detectErr   error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		stageStart := time.Now()
		res, classifyErr = s.classifier.Classify(analysisCtx, content, analysis.Context{
			Sender: msg.SenderRole,
			Recent: classifierHistory(recent),
		})
		s.metrics.ObserveStageLatency("classify", time.Since(stageStart).Seconds())
	}()
	go func() {
		defer wg.Done()
		stageStart := time.Now()
		candidates, detectErr = s.detector.Detect(analysisCtx, content, scope.Context{
			Sender: msg.SenderRole,
			Recent: detectorHistory(recent),
		})
		s.metrics.ObserveStageLatency("detect", time.Since(stageStart).Seconds())
	}()
	wg.Wait()

	degraded := classifyErr != nil
	if degraded {
		s.logger.Warn("threat classifier degraded, applying conservative fallback",
			"error", classifyErr, "message_id", msg.ID)
	}
	if detectErr != nil {
		// Pattern candidates survive a detector LLM failure.
		s.logger.Warn("scope detector degraded, using pattern candidates only",
			"error", detectErr, "message_id", msg.ID)
	}
	return res, candidates, degraded
}

// confirmationIntent reports whether the message answers an open scope-change
// confirmation, and which way. Read-only; the resolution itself is written by
// persistRun inside the run transaction.
func (s *Service) confirmationIntent(ctx context.Context, msg message.Message, conv storage.Conversation) (*storage.PendingConfirmation, string, error) {
	if msg.SenderRole != message.SenderHomeowner || conv.Archived {
		return nil, "", nil
	}
	body := strings.TrimSpace(msg.RawContent)
	affirmed := affirmativeRe.MatchString(body)
	declined := negativeRe.MatchString(body)
	if !affirmed && !declined {
		return nil, "", nil
	}

	pc, err := s.store.LatestPendingConfirmation(ctx, msg.ConversationID)
	if err != nil {
		if errors.Is(err, storage.ErrNoPendingConfirmation) {
			return nil, "", nil
		}
		return nil, "", err
	}

	status := "declined"
	if affirmed {
		status = "confirmed"
	}
	return &pc, status, nil
}

// persistRun writes the run and, when the message settles an open
// confirmation, closes it and queues the update request in the same
// transaction. One commit covers all of it, so a redelivered message never
// finds a resolved confirmation next to a missing run, or the reverse.
func (s *Service) persistRun(ctx context.Context, msg message.Message, res analysis.Result, candidates []scope.Candidate, dec decision.Decision, pc *storage.PendingConfirmation, status string) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: begin run: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.store.SaveRun(ctx, tx, msg, res, candidates, dec); err != nil {
		return err
	}

	if pc != nil {
		if err := s.store.ResolveConfirmation(ctx, tx, pc.ID, status); err != nil {
			return err
		}
		if status == "confirmed" {
			_, err := s.outbox.Insert(ctx, tx, storage.UpdateRequest{
				BidID:          pc.BidID,
				ConversationID: pc.ConversationID.String(),
				ChangeKind:     pc.ChangeKind,
				FieldPath:      pc.FieldPath,
				OldValueHint:   pc.OldValueHint,
				NewValueHint:   pc.NewValueHint,
				Source:         "homeowner_confirmation",
			})
			if err != nil {
				return err
			}
			if err := s.store.MarkUpdateEmitted(ctx, tx, pc.DecisionID); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pipeline: commit run: %w", err)
	}

	if pc != nil {
		s.logger.Info("scope-change confirmation resolved",
			"conversation_id", msg.ConversationID, "confirmation_id", pc.ID, "status", status)
	}
	return nil
}

func (s *Service) openConfirmation(ctx context.Context, conv storage.Conversation, dec decision.Decision, qualified []scope.Candidate) error {
	if len(qualified) == 0 {
		return nil
	}
	top := qualified[0]
	for _, cand := range qualified[1:] {
		if cand.Confidence > top.Confidence {
			top = cand
		}
	}
	_, err := s.store.CreatePendingConfirmation(ctx, nil, storage.PendingConfirmation{
		ConversationID: conv.ID,
		DecisionID:     dec.ID,
		BidID:          conv.BidID,
		ChangeKind:     string(top.ChangeKind),
		FieldPath:      top.FieldPath,
		OldValueHint:   top.OldValueHint,
		NewValueHint:   top.NewValueHint,
	})
	return err
}

func (s *Service) appendContext(ctx context.Context, msg message.Message) {
	err := s.contexts.Append(ctx, msg.ConversationID, conversation.ContextEntry{
		ID:         msg.ID.String(),
		Role:       msg.SenderRole,
		RawContent: msg.RawContent,
		Timestamp:  msg.CreatedAt,
	})
	if err != nil {
		s.logger.Warn("failed to append conversation context",
			"error", err, "conversation_id", msg.ConversationID)
	}
}

func (s *Service) observeRun(dec decision.Decision, res analysis.Result, candidates, qualified []scope.Candidate, degraded, confirmed bool, pc *storage.PendingConfirmation) {
	status := "ok"
	switch {
	case degraded:
		status = "degraded"
	case confirmed && pc != nil:
		status = "confirmed_update"
	}
	s.metrics.ObserveRun(string(dec.Action), status)
	for _, kind := range res.Threats {
		s.metrics.ObserveThreat(string(kind))
	}
	qualifiedSet := make(map[string]bool, len(qualified))
	for _, cand := range qualified {
		qualifiedSet[string(cand.ChangeKind)+"|"+cand.FieldPath] = true
	}
	for _, cand := range candidates {
		s.metrics.ObserveScopeCandidate(string(cand.ChangeKind), qualifiedSet[string(cand.ChangeKind)+"|"+cand.FieldPath])
	}
}

func classifierHistory(recent []conversation.ContextEntry) []analysis.ContextMessage {
	out := make([]analysis.ContextMessage, 0, len(recent))
	for _, entry := range recent {
		out = append(out, analysis.ContextMessage{Role: entry.Role, Content: entry.RawContent})
	}
	return out
}

func detectorHistory(recent []conversation.ContextEntry) []scope.Turn {
	out := make([]scope.Turn, 0, len(recent))
	for _, entry := range recent {
		out = append(out, scope.Turn{Role: entry.Role, Content: entry.RawContent})
	}
	return out
}
