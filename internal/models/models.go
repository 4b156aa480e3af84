package models

import (
	"encoding/json"
	"time"
)

type Conversation struct {
	ID            string    `json:"id"`
	Channel       string    `json:"channel"`
	AgentID       string    `json:"agent_id"`
	AgentName     string    `json:"agent_name"`
	ClientID      string    `json:"client_id"`
	OrderID       string    `json:"order_id"`
	HasOrder      bool      `json:"has_order"`
	PaymentStatus string    `json:"payment_status"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	Outcome       string    `json:"outcome"`
}

type Message struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	SentAt         time.Time `json:"sent_at"`
	Direction      string    `json:"direction"` // "in" = client, "out" = agent
	AgentID        string    `json:"agent_id"`
	Text           string    `json:"text"`
}

// ConversationSnapshot is one conversation with its full message log,
// ordered by sent_at ascending.
type ConversationSnapshot struct {
	Conversation Conversation `json:"conversation"`
	Messages     []Message    `json:"messages"`
}

func (s ConversationSnapshot) MessageCount() int {
	return len(s.Messages)
}

// BusinessStatus is the state compared during change detection: the
// conversation status, falling back to the outcome column when empty.
func (s ConversationSnapshot) BusinessStatus() string {
	if s.Conversation.Status != "" {
		return s.Conversation.Status
	}
	return s.Conversation.Outcome
}

type Technique struct {
	Technique string `json:"technique"`
	Example   string `json:"example"`
}

// AnalysisRecord is one scored conversation-version. Records are
// append-only: a conversation that changes gets a new record, older rows
// stay for history.
type AnalysisRecord struct {
	ID                  string             `json:"id"`
	ConversationID      string             `json:"conversation_id"`
	AgentID             string             `json:"agent_id"`
	AgentName           string             `json:"agent_name"`
	Channel             string             `json:"channel"`
	MessageCount        int                `json:"message_count"`
	ChatStatus          string             `json:"chat_status"`
	CustomerSegment     string             `json:"customer_segment"`
	SkillScores         map[string]float64 `json:"skill_scores"`
	OverallScore        float64            `json:"overall_score"`
	TechniquesUsed      []Technique        `json:"techniques_used"`
	MissedOpportunities []string           `json:"missed_opportunities"`
	IsEthical           bool               `json:"is_ethical"`
	Summary             string             `json:"summary"`
	AnalyzedAt          time.Time          `json:"analyzed_at"`
}

// AgentAggregate is recomputed on every report cycle and discarded after
// use; it is never persisted.
type AgentAggregate struct {
	AgentID             string               `json:"agent_id"`
	AgentName           string               `json:"agent_name"`
	ChatCount           int                  `json:"chat_count"`
	Skills              map[string][]float64 `json:"skills"`
	MissedOpportunities []string             `json:"missed_opportunities"`
}

type Run struct {
	ID         string          `json:"id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at"`
	Status     string          `json:"status"`
	Summary    json.RawMessage `json:"summary"`
}

// UserContact maps an agent to the chat where reports and training
// modules are delivered. Agents register through the academy bot.
type UserContact struct {
	AgentName string `json:"agent_name"`
	ChatID    string `json:"chat_id"`
}
