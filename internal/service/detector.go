package service

import (
	"fmt"

	"github.com/sales-academy/backend/internal/models"
)

// NeedsReanalysis decides whether a conversation's latest analysis is
// stale. Only the most recent record matters; older history is audit
// only. Pure function.
func NeedsReanalysis(conversationID string, messageCount int, status string, prior *models.AnalysisRecord) (bool, string) {
	if prior == nil {
		return true, "new"
	}
	if messageCount > prior.MessageCount {
		return true, fmt.Sprintf("new messages (%d→%d)", prior.MessageCount, messageCount)
	}
	if status != prior.ChatStatus && status != "" {
		return true, fmt.Sprintf("status changed (%s→%s)", prior.ChatStatus, status)
	}
	return false, ""
}
