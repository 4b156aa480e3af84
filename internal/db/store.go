package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sales-academy/backend/internal/models"
	"github.com/sales-academy/backend/internal/utils"
)

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) InsertConversations(ctx context.Context, conversations []models.Conversation) (int64, error) {
	rows := make([][]any, 0, len(conversations))
	for _, c := range conversations {
		rows = append(rows, []any{c.ID, c.Channel, c.AgentID, c.AgentName, c.ClientID, c.OrderID, c.HasOrder, c.PaymentStatus, c.Status, c.CreatedAt, c.Outcome})
	}
	return s.Pool.CopyFrom(ctx, pgx.Identifier{"conversations"},
		[]string{"id", "channel", "agent_id", "agent_name", "client_id", "order_id", "has_order", "payment_status", "status", "created_at", "outcome"},
		pgx.CopyFromRows(rows))
}

func (s *Store) InsertMessages(ctx context.Context, messages []models.Message) (int64, error) {
	rows := make([][]any, 0, len(messages))
	for _, m := range messages {
		rows = append(rows, []any{m.ConversationID, m.MessageID, m.SentAt, m.Direction, m.AgentID, m.Text})
	}
	return s.Pool.CopyFrom(ctx, pgx.Identifier{"messages"},
		[]string{"conversation_id", "message_id", "sent_at", "direction", "agent_id", "text"},
		pgx.CopyFromRows(rows))
}

// GetConversationsForAnalysis reads up to limit conversations with their
// full message logs ordered by sent_at. Conversations with fewer than
// two messages carry nothing to score and are left out.
func (s *Store) GetConversationsForAnalysis(ctx context.Context, limit int) ([]models.ConversationSnapshot, error) {
	if limit <= 0 {
		limit = 200
	}

	rows, err := s.Pool.Query(ctx, `
		SELECT id, channel, agent_id, agent_name, client_id, order_id, has_order, payment_status, status, created_at, outcome
		FROM conversations
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []models.Conversation
	var ids []string
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.Channel, &c.AgentID, &c.AgentName, &c.ClientID, &c.OrderID, &c.HasOrder, &c.PaymentStatus, &c.Status, &c.CreatedAt, &c.Outcome); err != nil {
			return nil, err
		}
		conversations = append(conversations, c)
		ids = append(ids, c.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	messagesByConversation, err := s.listMessages(ctx, ids)
	if err != nil {
		return nil, err
	}

	var out []models.ConversationSnapshot
	for _, c := range conversations {
		msgs := messagesByConversation[c.ID]
		if len(msgs) < 2 {
			continue
		}
		out = append(out, models.ConversationSnapshot{Conversation: c, Messages: msgs})
	}
	return out, nil
}

func (s *Store) listMessages(ctx context.Context, conversationIDs []string) (map[string][]models.Message, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT conversation_id, message_id, sent_at, direction, agent_id, text
		FROM messages
		WHERE conversation_id = ANY($1)
		ORDER BY sent_at ASC
	`, conversationIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string][]models.Message{}
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ConversationID, &m.MessageID, &m.SentAt, &m.Direction, &m.AgentID, &m.Text); err != nil {
			return nil, err
		}
		out[m.ConversationID] = append(out[m.ConversationID], m)
	}
	return out, rows.Err()
}

const analysisColumns = `id, conversation_id, agent_id, agent_name, channel, message_count, chat_status,
	customer_segment, greeting_score, needs_score, presentation_score, objection_score, closing_score, cross_sell_score,
	overall_score, techniques, missed_opportunities, is_ethical, summary, analyzed_at`

// LatestAnalyses returns the newest analysis record per conversation,
// which is the only one change detection consults.
func (s *Store) LatestAnalyses(ctx context.Context) (map[string]models.AnalysisRecord, error) {
	rows, err := s.Pool.Query(ctx, fmt.Sprintf(`
		SELECT DISTINCT ON (conversation_id) %s
		FROM analysis_results
		ORDER BY conversation_id, analyzed_at DESC
	`, analysisColumns))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]models.AnalysisRecord{}
	for rows.Next() {
		rec, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out[rec.ConversationID] = rec
	}
	return out, rows.Err()
}

// ListAnalysisRecords returns records analyzed at or after since. Rows
// with no analyzed_at are included so that a record with a broken
// timestamp is never dropped from reporting.
func (s *Store) ListAnalysisRecords(ctx context.Context, since time.Time) ([]models.AnalysisRecord, error) {
	rows, err := s.Pool.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM analysis_results
		WHERE analyzed_at IS NULL OR analyzed_at >= $1
		ORDER BY analyzed_at ASC NULLS FIRST
	`, analysisColumns), since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AnalysisRecord
	for rows.Next() {
		rec, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AppendAnalysis inserts a new record. There is deliberately no conflict
// clause: history rows are immutable and every rescoring appends.
func (s *Store) AppendAnalysis(ctx context.Context, rec models.AnalysisRecord) error {
	techniques, _ := json.Marshal(rec.TechniquesUsed)
	missed, _ := json.Marshal(rec.MissedOpportunities)

	_, err := s.Pool.Exec(ctx, `
		INSERT INTO analysis_results (
			id, conversation_id, agent_id, agent_name, channel, message_count, chat_status,
			customer_segment, greeting_score, needs_score, presentation_score, objection_score, closing_score, cross_sell_score,
			overall_score, techniques, missed_opportunities, is_ethical, summary, analyzed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	`,
		rec.ID, rec.ConversationID, rec.AgentID, rec.AgentName, rec.Channel, rec.MessageCount, rec.ChatStatus,
		rec.CustomerSegment,
		rec.SkillScores["greeting_score"], rec.SkillScores["needs_score"], rec.SkillScores["presentation_score"],
		rec.SkillScores["objection_score"], rec.SkillScores["closing_score"], rec.SkillScores["cross_sell_score"],
		rec.OverallScore, techniques, missed, rec.IsEthical, rec.Summary, rec.AnalyzedAt,
	)
	return err
}

func scanAnalysis(rows pgx.Rows) (models.AnalysisRecord, error) {
	var (
		rec        models.AnalysisRecord
		greeting   float64
		needs      float64
		present    float64
		objection  float64
		closing    float64
		crossSell  float64
		techniques []byte
		missed     []byte
		analyzedAt *time.Time
	)
	if err := rows.Scan(
		&rec.ID, &rec.ConversationID, &rec.AgentID, &rec.AgentName, &rec.Channel, &rec.MessageCount, &rec.ChatStatus,
		&rec.CustomerSegment, &greeting, &needs, &present, &objection, &closing, &crossSell,
		&rec.OverallScore, &techniques, &missed, &rec.IsEthical, &rec.Summary, &analyzedAt,
	); err != nil {
		return rec, err
	}
	rec.SkillScores = map[string]float64{
		"greeting_score":     greeting,
		"needs_score":        needs,
		"presentation_score": present,
		"objection_score":    objection,
		"closing_score":      closing,
		"cross_sell_score":   crossSell,
	}
	if len(techniques) > 0 {
		_ = json.Unmarshal(techniques, &rec.TechniquesUsed)
	}
	if len(missed) > 0 {
		_ = json.Unmarshal(missed, &rec.MissedOpportunities)
	}
	if analyzedAt != nil {
		rec.AnalyzedAt = *analyzedAt
	}
	return rec, nil
}

// ListConversations serves the browsing endpoint: conversation rows with
// message counts and the latest analysis snippet where one exists.
func (s *Store) ListConversations(ctx context.Context, agentID, q string, limit, offset int) ([]map[string]any, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT c.id, c.channel, c.agent_id, c.agent_name, c.status, c.created_at, c.outcome,
			(SELECT count(*) FROM messages m WHERE m.conversation_id = c.id) AS message_count,
			a.overall_score, a.customer_segment, a.analyzed_at
		FROM conversations c
		LEFT JOIN LATERAL (
			SELECT overall_score, customer_segment, analyzed_at
			FROM analysis_results ar
			WHERE ar.conversation_id = c.id
			ORDER BY ar.analyzed_at DESC
			LIMIT 1
		) a ON true`
	var args []any
	var wheres []string
	if agentID != "" {
		args = append(args, agentID)
		wheres = append(wheres, fmt.Sprintf("c.agent_id = $%d", len(args)))
	}
	if q != "" {
		args = append(args, "%"+q+"%")
		wheres = append(wheres, fmt.Sprintf("(c.id ILIKE $%d OR c.agent_name ILIKE $%d)", len(args), len(args)))
	}
	if len(wheres) > 0 {
		query += " WHERE " + strings.Join(wheres, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY c.created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var (
			c            models.Conversation
			messageCount int
			overallScore *float64
			segment      *string
			analyzedAt   *time.Time
		)
		if err := rows.Scan(&c.ID, &c.Channel, &c.AgentID, &c.AgentName, &c.Status, &c.CreatedAt, &c.Outcome, &messageCount, &overallScore, &segment, &analyzedAt); err != nil {
			return nil, err
		}
		out = append(out, map[string]any{
			"id":               c.ID,
			"channel":          c.Channel,
			"agent_id":         c.AgentID,
			"agent_name":       c.AgentName,
			"status":           c.Status,
			"created_at":       c.CreatedAt,
			"outcome":          c.Outcome,
			"message_count":    messageCount,
			"overall_score":    overallScore,
			"customer_segment": segment,
			"analyzed_at":      analyzedAt,
		})
	}
	return out, rows.Err()
}

// GetConversationDetails returns one conversation with its messages and
// full analysis history, newest first.
func (s *Store) GetConversationDetails(ctx context.Context, conversationID string) (map[string]any, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, channel, agent_id, agent_name, client_id, order_id, has_order, payment_status, status, created_at, outcome
		FROM conversations WHERE id = $1
	`, conversationID)

	var c models.Conversation
	if err := row.Scan(&c.ID, &c.Channel, &c.AgentID, &c.AgentName, &c.ClientID, &c.OrderID, &c.HasOrder, &c.PaymentStatus, &c.Status, &c.CreatedAt, &c.Outcome); err != nil {
		return nil, err
	}

	messagesByConversation, err := s.listMessages(ctx, []string{conversationID})
	if err != nil {
		return nil, err
	}

	rows, err := s.Pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM analysis_results
		WHERE conversation_id = $1
		ORDER BY analyzed_at DESC
	`, analysisColumns), conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []models.AnalysisRecord
	for rows.Next() {
		rec, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return map[string]any{
		"conversation": c,
		"messages":     messagesByConversation[conversationID],
		"analyses":     history,
	}, nil
}

func (s *Store) ListUserContacts(ctx context.Context) ([]models.UserContact, error) {
	rows, err := s.Pool.Query(ctx, `SELECT agent_name, chat_id FROM users WHERE chat_id <> ''`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.UserContact
	for rows.Next() {
		var u models.UserContact
		if err := rows.Scan(&u.AgentName, &u.ChatID); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) CreateRun(ctx context.Context, status string) (string, error) {
	var id string
	err := s.Pool.QueryRow(ctx, `INSERT INTO runs (status, started_at) VALUES ($1, NOW()) RETURNING id`, status).Scan(&id)
	return id, err
}

func (s *Store) FinishRun(ctx context.Context, runID string, status string, summary []byte) error {
	_, err := s.Pool.Exec(ctx, `UPDATE runs SET status = $1, summary = $2, finished_at = NOW() WHERE id = $3`, status, summary, runID)
	return err
}

func (s *Store) GetLatestRun(ctx context.Context) (models.Run, error) {
	row := s.Pool.QueryRow(ctx, `SELECT id, started_at, finished_at, status, summary FROM runs ORDER BY started_at DESC LIMIT 1`)
	var r models.Run
	if err := row.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Status, &r.Summary); err != nil {
		return models.Run{}, err
	}
	return r, nil
}

// JobLock is a session-scoped advisory lock held on a dedicated pool
// connection until released.
type JobLock struct {
	conn *pgxpool.Conn
	key  int64
}

// AcquireJobLock takes an advisory lock keyed by job name, refusing
// rather than waiting when another run holds it. This is what prevents
// two overlapping analysis runs from double-calling the scoring endpoint
// for the same candidates.
func (s *Store) AcquireJobLock(ctx context.Context, jobName string) (*JobLock, bool, error) {
	key := int64(utils.HashStringToUint64(jobName))

	conn, err := s.Pool.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}

	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&locked); err != nil {
		conn.Release()
		return nil, false, err
	}
	if !locked {
		conn.Release()
		return nil, false, nil
	}
	return &JobLock{conn: conn, key: key}, true, nil
}

func (l *JobLock) Release(ctx context.Context) {
	if l == nil || l.conn == nil {
		return
	}
	_, _ = l.conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, l.key)
	l.conn.Release()
	l.conn = nil
}
