package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/instabids/messaging-guard/internal/analysis"
	"github.com/instabids/messaging-guard/internal/decision"
	"github.com/instabids/messaging-guard/internal/message"
	"github.com/instabids/messaging-guard/internal/scope"
)

func TestSaveRun_CommitsAllRowsTogether(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	msg := message.New(uuid.New(), message.SenderContractor, "let's use granite instead of quartz", nil)
	res := analysis.Result{
		Confidence:        0,
		RecommendedAction: analysis.ActionAllow,
		Rationale:         "no threats",
	}
	candidates := []scope.Candidate{{
		ChangeKind:   scope.ChangeMaterial,
		FieldPath:    "counters.material",
		OldValueHint: "quartz",
		NewValueHint: "granite",
		Confidence:   0.85,
	}}
	dec := decision.Decision{
		ID:               uuid.New(),
		MessageID:        msg.ID,
		ConversationID:   msg.ConversationID,
		Action:           analysis.ActionAllow,
		DeliveredContent: msg.RawContent,
		Rationale:        "no threats",
		CreatedAt:        time.Now().UTC(),
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO messages").
		WithArgs(msg.ID, msg.ConversationID, string(msg.SenderRole), msg.RawContent, pgxmock.AnyArg(), msg.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO analysis_results").
		WithArgs(msg.ID, pgxmock.AnyArg(), res.Confidence, string(res.RecommendedAction), res.Rationale, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO scope_candidates").
		WithArgs(pgxmock.AnyArg(), msg.ID, "material", "counters.material", "quartz", "granite", 0.85).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO decisions").
		WithArgs(dec.ID, dec.MessageID, dec.ConversationID, "allow", dec.DeliveredContent, dec.GeneratedQuestion,
			dec.UpdateRequestEmitted, dec.Superseded, dec.Rationale, dec.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	store := NewStore(mock)
	if err := store.SaveRun(context.Background(), nil, msg, res, candidates, dec); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveRun_RollsBackOnFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	msg := message.New(uuid.New(), message.SenderHomeowner, "hello", nil)
	dec := decision.Decision{ID: uuid.New(), MessageID: msg.ID, ConversationID: msg.ConversationID}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO messages").
		WithArgs(msg.ID, msg.ConversationID, string(msg.SenderRole), msg.RawContent, pgxmock.AnyArg(), msg.CreatedAt).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	store := NewStore(mock)
	if err := store.SaveRun(context.Background(), nil, msg, analysis.Result{}, nil, dec); err == nil {
		t.Fatal("expected SaveRun error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEnsureConversation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	convID := uuid.New()
	created := time.Now().UTC()
	mock.ExpectQuery("INSERT INTO conversations").
		WithArgs(convID, "bid-42").
		WillReturnRows(pgxmock.NewRows([]string{"id", "bid_id", "archived", "created_at"}).
			AddRow(convID, "bid-42", false, created))

	store := NewStore(mock)
	conv, err := store.EnsureConversation(context.Background(), convID, "bid-42")
	if err != nil {
		t.Fatalf("EnsureConversation: %v", err)
	}
	if conv.BidID != "bid-42" || conv.Archived {
		t.Fatalf("unexpected conversation: %+v", conv)
	}
}

func TestArchiveConversation_SupersedesDecisions(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	convID := uuid.New()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE conversations SET archived").
		WithArgs(convID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE decisions SET superseded").
		WithArgs(convID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	mock.ExpectExec("UPDATE pending_confirmations SET status").
		WithArgs(convID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	store := NewStore(mock)
	if err := store.ArchiveConversation(context.Background(), convID); err != nil {
		t.Fatalf("ArchiveConversation: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListDecisions(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	convID := uuid.New()
	decID := uuid.New()
	msgID := uuid.New()
	created := time.Now().UTC()
	mock.ExpectQuery("SELECT (.+) FROM decisions").
		WithArgs(convID, 50).
		WillReturnRows(pgxmock.NewRows([]string{"id", "message_id", "conversation_id", "action", "delivered_content",
			"generated_question", "update_request_emitted", "superseded", "rationale", "created_at"}).
			AddRow(decID, msgID, convID, "redact", "call me at [CONTACT REMOVED]", "", false, false, "contact info", created))

	store := NewStore(mock)
	decs, err := store.ListDecisions(context.Background(), convID, 0)
	if err != nil {
		t.Fatalf("ListDecisions: %v", err)
	}
	if len(decs) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(decs))
	}
	if decs[0].Action != analysis.ActionRedact {
		t.Fatalf("expected redact action, got %s", decs[0].Action)
	}
}

func TestLatestPendingConfirmation_NoRows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	convID := uuid.New()
	mock.ExpectQuery("SELECT (.+) FROM pending_confirmations").
		WithArgs(convID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "conversation_id", "decision_id", "bid_id", "change_kind",
			"field_path", "old_value_hint", "new_value_hint", "status", "created_at"}))

	store := NewStore(mock)
	if _, err := store.LatestPendingConfirmation(context.Background(), convID); !errors.Is(err, ErrNoPendingConfirmation) {
		t.Fatalf("expected ErrNoPendingConfirmation, got %v", err)
	}
}

func TestCreatePendingConfirmation_SupersedesPrior(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	convID := uuid.New()
	pc := PendingConfirmation{
		ConversationID: convID,
		DecisionID:     uuid.New(),
		BidID:          "bid-42",
		ChangeKind:     "material",
		FieldPath:      "counters.material",
		OldValueHint:   "quartz",
		NewValueHint:   "granite",
	}

	mock.ExpectExec("UPDATE pending_confirmations SET status = 'superseded'").
		WithArgs(convID, "counters.material").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO pending_confirmations").
		WithArgs(pgxmock.AnyArg(), convID, pc.DecisionID, "bid-42", "material", "counters.material", "quartz", "granite").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	store := NewStore(mock)
	id, err := store.CreatePendingConfirmation(context.Background(), nil, pc)
	if err != nil {
		t.Fatalf("CreatePendingConfirmation: %v", err)
	}
	if id == uuid.Nil {
		t.Fatal("expected generated id")
	}
}
