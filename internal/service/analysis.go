package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sales-academy/backend/internal/models"
	"github.com/sales-academy/backend/internal/scoring"
)

// snapshotLimit bounds how many conversations are read per run before
// change detection; the per-run scoring cap is much smaller.
const snapshotLimit = 200

// AnalysisStore is the slice of the store the orchestrator needs.
type AnalysisStore interface {
	GetConversationsForAnalysis(ctx context.Context, limit int) ([]models.ConversationSnapshot, error)
	LatestAnalyses(ctx context.Context) (map[string]models.AnalysisRecord, error)
	AppendAnalysis(ctx context.Context, rec models.AnalysisRecord) error
}

// AnalysisService drives one incremental scoring pass: detect stale
// conversations, score a capped slice of them sequentially, persist one
// append-only record per successful parse.
type AnalysisService struct {
	Store  AnalysisStore
	Scorer scoring.Scorer
	Logger zerolog.Logger

	Cap   int
	Pause time.Duration

	// Sleep is swappable in tests; nil means time.Sleep.
	Sleep func(time.Duration)
}

type RunSummary struct {
	Candidates int `json:"candidates"`
	New        int `json:"new"`
	Updated    int `json:"updated"`
	Scored     int `json:"scored"`
	Skipped    int `json:"skipped"`
	Errors     int `json:"errors"`
	Deferred   int `json:"deferred"`

	Events []map[string]any `json:"events,omitempty"`
}

type candidate struct {
	snapshot models.ConversationSnapshot
	reason   string
}

func (s *AnalysisService) RunOnce(ctx context.Context) (RunSummary, error) {
	summary := RunSummary{}
	start := time.Now()

	snapshots, err := s.Store.GetConversationsForAnalysis(ctx, snapshotLimit)
	if err != nil {
		return summary, err
	}
	latest, err := s.Store.LatestAnalyses(ctx)
	if err != nil {
		return summary, err
	}

	// Candidate order is snapshot order: new and changed conversations
	// interleave as encountered, no prioritization.
	var candidates []candidate
	for _, snap := range snapshots {
		var prior *models.AnalysisRecord
		if rec, ok := latest[snap.Conversation.ID]; ok {
			prior = &rec
		}
		need, reason := NeedsReanalysis(snap.Conversation.ID, snap.MessageCount(), snap.BusinessStatus(), prior)
		if !need {
			continue
		}
		candidates = append(candidates, candidate{snapshot: snap, reason: reason})
		if reason == "new" {
			summary.New++
		} else {
			summary.Updated++
		}
	}
	summary.Candidates = len(candidates)

	runCap := s.Cap
	if runCap <= 0 {
		runCap = 10
	}
	if len(candidates) > runCap {
		summary.Deferred = len(candidates) - runCap
		candidates = candidates[:runCap]
	}

	summary.Events = append(summary.Events, map[string]any{
		"type":     "selection",
		"total":    summary.Candidates,
		"new":      summary.New,
		"updated":  summary.Updated,
		"deferred": summary.Deferred,
		"time":     time.Now().UTC(),
	})

	sleep := s.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	for i, cand := range candidates {
		conv := cand.snapshot.Conversation
		log := s.Logger.With().Str("conversation_id", conv.ID).Str("reason", cand.reason).Logger()

		dialog := scoring.FormatDialog(cand.snapshot.Messages)
		if len([]rune(dialog)) < scoring.MinDialogChars {
			log.Info().Msg("dialog too short, skipping")
			summary.Skipped++
			continue
		}

		raw, err := s.Scorer.Score(ctx, scoring.BuildPrompt(dialog))
		if err != nil {
			log.Error().Err(err).Msg("scoring failed")
			summary.Errors++
			continue
		}

		result := scoring.Parse(raw)
		if result == nil {
			log.Error().Str("response_head", head(raw, 500)).Msg("unparsable model response")
			summary.Errors++
			continue
		}

		rec := buildRecord(cand.snapshot, result)
		if err := s.Store.AppendAnalysis(ctx, rec); err != nil {
			// No record written, so the conversation stays pending and
			// is retried next run.
			log.Error().Err(err).Msg("failed to persist analysis")
			summary.Errors++
			continue
		}
		summary.Scored++
		log.Info().
			Str("segment", rec.CustomerSegment).
			Float64("overall", rec.OverallScore).
			Msg("conversation scored")

		if i < len(candidates)-1 {
			sleep(s.Pause)
		}
	}

	summary.Events = append(summary.Events, map[string]any{
		"type":       "scoring",
		"scored":     summary.Scored,
		"skipped":    summary.Skipped,
		"errors":     summary.Errors,
		"elapsed_ms": time.Since(start).Milliseconds(),
		"time":       time.Now().UTC(),
	})

	return summary, nil
}

func buildRecord(snap models.ConversationSnapshot, result *scoring.Result) models.AnalysisRecord {
	conv := snap.Conversation
	skillScores := map[string]float64{}
	for modelKey, skillKey := range modelScoreKeys {
		skillScores[skillKey] = result.Scores[modelKey]
	}
	return models.AnalysisRecord{
		ID:                  uuid.NewString(),
		ConversationID:      conv.ID,
		AgentID:             conv.AgentID,
		AgentName:           conv.AgentName,
		Channel:             conv.Channel,
		MessageCount:        snap.MessageCount(),
		ChatStatus:          snap.BusinessStatus(),
		CustomerSegment:     result.CustomerSegment,
		SkillScores:         skillScores,
		OverallScore:        result.OverallScore,
		TechniquesUsed:      result.TechniquesUsed,
		MissedOpportunities: result.MissedOpportunities,
		IsEthical:           result.IsEthical,
		Summary:             result.Summary,
		AnalyzedAt:          time.Now().UTC(),
	}
}

func head(s string, n int) string {
	if runes := []rune(s); len(runes) > n {
		return string(runes[:n])
	}
	return s
}
