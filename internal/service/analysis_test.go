package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sales-academy/backend/internal/models"
)

const validResponse = `{
  "customer_segment": "Brides",
  "scores": {"greeting": 7, "needs_discovery": 5, "presentation": 6, "objection_handling": 4, "closing": 6, "cross_sell": 3},
  "overall_score": 5.2,
  "missed_opportunities": ["follow up"],
  "is_ethical": true,
  "summary": "ok"
}`

type fakeStore struct {
	snapshots []models.ConversationSnapshot
	latest    map[string]models.AnalysisRecord
	appended  []models.AnalysisRecord
	appendErr error
}

func (f *fakeStore) GetConversationsForAnalysis(ctx context.Context, limit int) ([]models.ConversationSnapshot, error) {
	return f.snapshots, nil
}

func (f *fakeStore) LatestAnalyses(ctx context.Context) (map[string]models.AnalysisRecord, error) {
	if f.latest == nil {
		return map[string]models.AnalysisRecord{}, nil
	}
	return f.latest, nil
}

func (f *fakeStore) AppendAnalysis(ctx context.Context, rec models.AnalysisRecord) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appended = append(f.appended, rec)
	return nil
}

type fakeScorer struct {
	response string
	err      error
	calls    int
}

func (f *fakeScorer) Score(ctx context.Context, prompt string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func snapshot(id string, messageCount int, status string) models.ConversationSnapshot {
	conv := models.Conversation{ID: id, AgentID: "a1", AgentName: "Agent One", Channel: "wa", Status: status}
	msgs := make([]models.Message, 0, messageCount)
	for i := 0; i < messageCount; i++ {
		direction := "in"
		if i%2 == 1 {
			direction = "out"
		}
		msgs = append(msgs, models.Message{
			ConversationID: id,
			MessageID:      fmt.Sprintf("%s-m%d", id, i),
			Direction:      direction,
			Text:           strings.Repeat("hello there ", 3),
			SentAt:         time.Now().UTC(),
		})
	}
	return models.ConversationSnapshot{Conversation: conv, Messages: msgs}
}

func newService(store *fakeStore, scorer *fakeScorer, cap int) *AnalysisService {
	return &AnalysisService{
		Store:  store,
		Scorer: scorer,
		Logger: zerolog.Nop(),
		Cap:    cap,
		Pause:  time.Minute,
		Sleep:  func(time.Duration) {},
	}
}

func TestRunOnceCapsCandidatesAndReportsDeferred(t *testing.T) {
	store := &fakeStore{}
	for i := 0; i < 25; i++ {
		store.snapshots = append(store.snapshots, snapshot(fmt.Sprintf("c%02d", i), 4, "open"))
	}
	scorer := &fakeScorer{response: validResponse}

	summary, err := newService(store, scorer, 10).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Scored != 10 {
		t.Fatalf("expected 10 scored, got %d", summary.Scored)
	}
	if summary.Deferred != 15 {
		t.Fatalf("expected 15 deferred, got %d", summary.Deferred)
	}
	if scorer.calls != 10 {
		t.Fatalf("expected 10 scoring calls, got %d", scorer.calls)
	}
}

func TestRunOnceIdempotentWhenNothingChanged(t *testing.T) {
	store := &fakeStore{snapshots: []models.ConversationSnapshot{
		snapshot("c1", 4, "open"),
		snapshot("c2", 6, "paid"),
	}}
	scorer := &fakeScorer{response: validResponse}
	svc := newService(store, scorer, 10)

	summary, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if summary.Scored != 2 {
		t.Fatalf("expected 2 scored on first run, got %d", summary.Scored)
	}

	store.latest = map[string]models.AnalysisRecord{}
	for _, rec := range store.appended {
		store.latest[rec.ConversationID] = rec
	}
	store.appended = nil

	summary, err = svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.Scored != 0 || len(store.appended) != 0 {
		t.Fatalf("expected no new records on unchanged rerun, got %d scored", summary.Scored)
	}
}

func TestRunOnceParseFailureLeavesConversationPending(t *testing.T) {
	store := &fakeStore{snapshots: []models.ConversationSnapshot{snapshot("c1", 4, "open")}}
	scorer := &fakeScorer{response: "sorry, I cannot help with that"}

	summary, err := newService(store, scorer, 10).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Errors != 1 || summary.Scored != 0 {
		t.Fatalf("expected 1 error and 0 scored, got %+v", summary)
	}
	if len(store.appended) != 0 {
		t.Fatalf("no record must be written on parse failure")
	}
}

func TestRunOnceScoringErrorCountedBatchContinues(t *testing.T) {
	store := &fakeStore{snapshots: []models.ConversationSnapshot{
		snapshot("c1", 4, "open"),
		snapshot("c2", 4, "open"),
	}}
	scorer := &fakeScorer{err: errors.New("boom")}

	summary, err := newService(store, scorer, 10).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Errors != 2 {
		t.Fatalf("expected both candidates to error, got %d", summary.Errors)
	}
}

func TestRunOnceSkipsShortDialogs(t *testing.T) {
	snap := snapshot("c1", 2, "open")
	snap.Messages[0].Text = "hi"
	snap.Messages[1].Text = "yes"
	store := &fakeStore{snapshots: []models.ConversationSnapshot{snap}}
	scorer := &fakeScorer{response: validResponse}

	summary, err := newService(store, scorer, 10).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Skipped != 1 || summary.Errors != 0 {
		t.Fatalf("expected a silent skip, got %+v", summary)
	}
	if scorer.calls != 0 {
		t.Fatalf("short dialog must not reach the scorer")
	}
}

func TestRunOnceStatusChangeAppendsNewRecord(t *testing.T) {
	store := &fakeStore{
		snapshots: []models.ConversationSnapshot{snapshot("c1", 4, "paid")},
		latest: map[string]models.AnalysisRecord{
			"c1": {ConversationID: "c1", MessageCount: 4, ChatStatus: "open"},
		},
	}
	scorer := &fakeScorer{response: validResponse}

	summary, err := newService(store, scorer, 10).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Updated != 1 || summary.Scored != 1 {
		t.Fatalf("expected one updated candidate scored, got %+v", summary)
	}
	if len(store.appended) != 1 {
		t.Fatalf("expected one appended record")
	}
	rec := store.appended[0]
	if rec.ChatStatus != "paid" || rec.MessageCount != 4 {
		t.Fatalf("record must capture current status and count, got %+v", rec)
	}
	if rec.SkillScores["greeting_score"] != 7 {
		t.Fatalf("expected mapped greeting score 7, got %v", rec.SkillScores)
	}
}

func TestRunOncePersistenceErrorCounted(t *testing.T) {
	store := &fakeStore{
		snapshots: []models.ConversationSnapshot{snapshot("c1", 4, "open")},
		appendErr: errors.New("write failed"),
	}
	scorer := &fakeScorer{response: validResponse}

	summary, err := newService(store, scorer, 10).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Errors != 1 || summary.Scored != 0 {
		t.Fatalf("persistence failure must count as error, got %+v", summary)
	}
}
