package service

import (
	"strings"
	"time"

	"github.com/sales-academy/backend/internal/models"
)

// missedSamplesPerRecord caps how many missed-opportunity examples one
// record contributes to an agent's running sample list.
const missedSamplesPerRecord = 3

// Aggregate rolls analysis records inside the trailing window up into
// per-agent skill score lists. Records with an unknown (zero) analyzed
// time are conservatively treated as within the window. Zero scores mean
// "no data for this stage" and are not collected.
func Aggregate(records []models.AnalysisRecord, now time.Time, windowDays int) map[string]*models.AgentAggregate {
	cutoff := now.Add(-time.Duration(windowDays) * 24 * time.Hour)

	agents := map[string]*models.AgentAggregate{}
	for _, rec := range records {
		if !rec.AnalyzedAt.IsZero() && rec.AnalyzedAt.Before(cutoff) {
			continue
		}

		agentID := strings.TrimSpace(rec.AgentID)
		if agentID == "" {
			continue
		}

		agg, ok := agents[agentID]
		if !ok {
			name := rec.AgentName
			if name == "" {
				name = "Unknown"
			}
			agg = &models.AgentAggregate{
				AgentID:             agentID,
				AgentName:           name,
				Skills:              map[string][]float64{},
				MissedOpportunities: []string{},
			}
			agents[agentID] = agg
		}

		agg.ChatCount++
		for _, key := range SkillKeys {
			if score, ok := rec.SkillScores[key]; ok && score > 0 {
				agg.Skills[key] = append(agg.Skills[key], score)
			}
		}

		missed := rec.MissedOpportunities
		if len(missed) > missedSamplesPerRecord {
			missed = missed[:missedSamplesPerRecord]
		}
		agg.MissedOpportunities = append(agg.MissedOpportunities, missed...)
	}
	return agents
}
