package handlers

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/sales-academy/backend/internal/config"
	"github.com/sales-academy/backend/internal/db"
	"github.com/sales-academy/backend/internal/models"
	"github.com/sales-academy/backend/internal/notify"
	"github.com/sales-academy/backend/internal/scoring"
	"github.com/sales-academy/backend/internal/service"
)

const (
	analysisJobName = "analysis"
	reportJobName   = "weekly-report"
)

type Handler struct {
	Store     *db.Store
	Scorer    scoring.Scorer
	Notifier  notify.Notifier
	Validator *validator.Validate
	Logger    zerolog.Logger
	Cfg       config.Config
}

type ImportSummary struct {
	Conversations struct {
		Parsed   int `json:"parsed"`
		Inserted int `json:"inserted"`
		Errors   int `json:"errors"`
	} `json:"conversations"`
	Messages struct {
		Parsed   int `json:"parsed"`
		Inserted int `json:"inserted"`
		Errors   int `json:"errors"`
	} `json:"messages"`
	Errors []string `json:"errors"`
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary Run analysis batch
// @Description Scores new and changed conversations, bounded by the per-run cap
// @Tags analysis
// @Produce json
// @Success 200 {object} service.RunSummary
// @Failure 409 {object} map[string]any
// @Router /api/analysis/run [post]
func (h *Handler) RunAnalysis(c *gin.Context) {
	ctx := c.Request.Context()

	lock, acquired, err := h.Store.AcquireJobLock(ctx, analysisJobName)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to acquire job lock", err.Error())
		return
	}
	if !acquired {
		writeError(c, http.StatusConflict, "RUN_IN_PROGRESS", "An analysis run is already in progress", nil)
		return
	}
	defer lock.Release(context.WithoutCancel(ctx))

	runID, err := h.Store.CreateRun(ctx, "RUNNING")
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to create run", err.Error())
		return
	}

	analyzer := &service.AnalysisService{
		Store:  h.Store,
		Scorer: h.Scorer,
		Logger: h.Logger,
		Cap:    h.Cfg.AnalysisCap,
		Pause:  h.Cfg.AnalysisPause,
	}
	summary, err := analyzer.RunOnce(ctx)

	status := "SUCCESS"
	if err != nil {
		status = "FAILED"
	}
	b, _ := json.Marshal(summary)
	if finishErr := h.Store.FinishRun(ctx, runID, status, b); finishErr != nil {
		h.Logger.Error().Err(finishErr).Msg("failed to finish run")
	}

	h.notifyRunResult(ctx, summary, err)

	if err != nil {
		h.Logger.Error().Err(err).Msg("analysis run failed")
		writeError(c, http.StatusInternalServerError, "ANALYSIS_ERROR", "Analysis run failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) notifyRunResult(ctx context.Context, summary service.RunSummary, runErr error) {
	var msg string
	switch {
	case runErr != nil:
		msg = fmt.Sprintf("<b>Sales Academy</b>\n\nAnalysis failed:\n<pre>%s</pre>", head(runErr.Error(), 500))
	case summary.Candidates == 0:
		msg = "Sales Academy: no new or changed conversations"
	default:
		msg = fmt.Sprintf(
			"<b>Sales Academy</b>\n\nAnalysis finished:\n- Scored: %d\n- Errors: %d\n- Deferred: %d",
			summary.Scored, summary.Errors, summary.Deferred,
		)
	}
	if err := h.Notifier.Notify(ctx, msg); err != nil {
		h.Logger.Warn().Err(err).Msg("run notification not delivered")
	}
}

type WeeklyReportRequest struct {
	Days int `json:"days" validate:"omitempty,gte=1,lte=90"`
	TopN int `json:"top_n" validate:"omitempty,gte=1,lte=6"`
}

// @Summary Send weekly coaching reports
// @Description Aggregates the analysis window per agent and delivers reports with training-module buttons
// @Tags reports
// @Accept json
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/reports/weekly [post]
func (h *Handler) WeeklyReport(c *gin.Context) {
	ctx := c.Request.Context()

	var req WeeklyReportRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
			return
		}
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}
	days := req.Days
	if days == 0 {
		days = h.Cfg.ReportWindowDays
	}
	topN := req.TopN
	if topN == 0 {
		topN = h.Cfg.ReportTopN
	}

	lock, acquired, err := h.Store.AcquireJobLock(ctx, reportJobName)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to acquire job lock", err.Error())
		return
	}
	if !acquired {
		writeError(c, http.StatusConflict, "RUN_IN_PROGRESS", "A report run is already in progress", nil)
		return
	}
	defer lock.Release(context.WithoutCancel(ctx))

	now := time.Now().UTC()
	records, err := h.Store.ListAnalysisRecords(ctx, now.AddDate(0, 0, -days))
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load analysis records", err.Error())
		return
	}

	agents := service.Aggregate(records, now, days)
	if len(agents) == 0 {
		if err := h.Notifier.Notify(ctx, fmt.Sprintf("Weekly report: no analysis data in the last %d days", days)); err != nil {
			h.Logger.Warn().Err(err).Msg("report notification not delivered")
		}
		c.JSON(http.StatusOK, gin.H{"agents": 0, "reports_sent": 0})
		return
	}

	contacts, err := h.Store.ListUserContacts(ctx)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load user contacts", err.Error())
		return
	}
	chatByAgent := map[string]string{}
	for _, u := range contacts {
		chatByAgent[u.AgentName] = u.ChatID
	}

	reportsSent := 0
	unregistered := 0
	adminSummary := []string{"<b>Weekly coaching digest</b>", ""}

	for _, agg := range agents {
		weakest := service.WeakestSkills(agg, topN)
		if len(weakest) == 0 {
			h.Logger.Info().Str("agent", agg.AgentName).Msg("not enough data for a report")
			continue
		}

		examples := service.MissedExamples(agg.MissedOpportunities, topN)
		report := service.FormatWeeklyReport(agg.ChatCount, weakest, examples)
		training := service.FormatTrainingMessage(agg.AgentName, weakest)
		buttons := moduleButtons(weakest)

		chatID := chatByAgent[agg.AgentName]
		if chatID == "" {
			unregistered++
			adminSummary = append(adminSummary, fmt.Sprintf("⚠️ %s: not registered in the bot", agg.AgentName))
			continue
		}

		if err := h.Notifier.SendTo(ctx, chatID, report); err != nil {
			h.Logger.Warn().Err(err).Str("agent", agg.AgentName).Msg("report not delivered")
			adminSummary = append(adminSummary, fmt.Sprintf("❌ %s: delivery failed", agg.AgentName))
			continue
		}
		if err := h.Notifier.SendWithButtons(ctx, chatID, training, buttons); err != nil {
			h.Logger.Warn().Err(err).Str("agent", agg.AgentName).Msg("training modules not delivered")
		}
		reportsSent++
		adminSummary = append(adminSummary, fmt.Sprintf("✅ %s: sent", agg.AgentName))
	}

	adminSummary = append(adminSummary, "", fmt.Sprintf("Sent: %d, unregistered: %d", reportsSent, unregistered))
	if err := h.Notifier.Notify(ctx, strings.Join(adminSummary, "\n")); err != nil {
		h.Logger.Warn().Err(err).Msg("admin digest not delivered")
	}

	c.JSON(http.StatusOK, gin.H{
		"agents":       len(agents),
		"reports_sent": reportsSent,
		"unregistered": unregistered,
		"window_days":  days,
	})
}

// moduleButtons builds one training button per mapped skill. Skills
// without a module stay in the textual report only.
func moduleButtons(weakest []service.SkillAverage) []notify.Button {
	var buttons []notify.Button
	for _, skill := range weakest {
		moduleID, ok := service.SkillModules[skill.Key]
		if !ok {
			continue
		}
		name := service.SkillNames[skill.Key]
		if name == "" {
			name = skill.Key
		}
		buttons = append(buttons, notify.Button{
			Text:         "Start: " + name,
			CallbackData: "module:" + moduleID,
		})
	}
	return buttons
}

// @Summary Agent skill preview
// @Tags reports
// @Produce json
// @Param days query int false "Window in days"
// @Success 200 {object} map[string]any
// @Router /api/agents/skills [get]
func (h *Handler) AgentsSkills(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", strconv.Itoa(h.Cfg.ReportWindowDays)))
	if days <= 0 {
		days = h.Cfg.ReportWindowDays
	}

	now := time.Now().UTC()
	records, err := h.Store.ListAnalysisRecords(c.Request.Context(), now.AddDate(0, 0, -days))
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load analysis records", err.Error())
		return
	}

	agents := service.Aggregate(records, now, days)
	items := make([]gin.H, 0, len(agents))
	for _, agg := range agents {
		items = append(items, gin.H{
			"agent_id":   agg.AgentID,
			"agent_name": agg.AgentName,
			"chat_count": agg.ChatCount,
			"weakest":    service.WeakestSkills(agg, h.Cfg.ReportTopN),
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "window_days": days})
}

// @Summary Latest run
// @Tags runs
// @Produce json
// @Success 200 {object} models.Run
// @Router /api/runs/latest [get]
func (h *Handler) RunsLatest(c *gin.Context) {
	run, err := h.Store.GetLatestRun(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "No runs found", err.Error())
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *Handler) ConversationsList(c *gin.Context) {
	agentID := c.Query("agent_id")
	q := c.Query("q")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	items, err := h.Store.ListConversations(c.Request.Context(), agentID, q, limit, offset)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list conversations", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "limit": limit, "offset": offset})
}

func (h *Handler) ConversationDetails(c *gin.Context) {
	id := c.Param("id")
	result, err := h.Store.GetConversationDetails(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Conversation not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to get conversation", err.Error())
		return
	}
	c.JSON(http.StatusOK, result)
}

// @Summary Import CSV data
// @Description Upload conversation and message CSV snapshots
// @Tags import
// @Accept multipart/form-data
// @Produce json
// @Param conversations formData file true "conversations.csv"
// @Param messages formData file true "messages.csv"
// @Success 200 {object} ImportSummary
// @Failure 400 {object} map[string]any
// @Router /api/import [post]
func (h *Handler) Import(c *gin.Context) {
	conversationsFile, err := c.FormFile("conversations")
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "conversations file required", nil)
		return
	}
	messagesFile, err := c.FormFile("messages")
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "messages file required", nil)
		return
	}
	if !validateExt(conversationsFile.Filename) || !validateExt(messagesFile.Filename) {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "all files must be .csv", nil)
		return
	}

	summary := ImportSummary{Errors: []string{}}
	ctx := c.Request.Context()

	conversations, errs := parseConversationsCSV(conversationsFile)
	summary.Conversations.Parsed = len(conversations)
	summary.Conversations.Errors = len(errs)
	summary.Errors = append(summary.Errors, errs...)

	messages, errs := parseMessagesCSV(messagesFile)
	summary.Messages.Parsed = len(messages)
	summary.Messages.Errors = len(errs)
	summary.Errors = append(summary.Errors, errs...)

	if len(summary.Errors) > 0 {
		writeError(c, http.StatusBadRequest, "CSV_PARSE_ERROR", "CSV validation errors", summary.Errors)
		return
	}

	// Snapshot tables are replaced wholesale; analysis_results history is
	// untouched so change detection still sees prior scores.
	err = h.Store.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `TRUNCATE conversations, messages`)
		return err
	})
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to reset snapshot tables", err.Error())
		return
	}

	inserted, err := h.Store.InsertConversations(ctx, conversations)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to insert conversations", err.Error())
		return
	}
	summary.Conversations.Inserted = int(inserted)

	inserted, err = h.Store.InsertMessages(ctx, messages)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to insert messages", err.Error())
		return
	}
	summary.Messages.Inserted = int(inserted)

	c.JSON(http.StatusOK, summary)
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

func validateExt(filename string) bool {
	return strings.EqualFold(strings.TrimSpace(filenameExt(filename)), ".csv")
}

func filenameExt(filename string) string {
	if i := strings.LastIndex(filename, "."); i >= 0 {
		return filename[i:]
	}
	return ""
}

func parseConversationsCSV(file *multipart.FileHeader) ([]models.Conversation, []string) {
	f, err := file.Open()
	if err != nil {
		return nil, []string{err.Error()}
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true
	headers, err := reader.Read()
	if err != nil {
		return nil, []string{"failed to read header"}
	}
	index := headerIndex(headers)

	var errs []string
	var out []models.Conversation
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}

		id := strings.TrimSpace(getFieldAny(rec, index, "conversation_id", "chat_id", "id"))
		if id == "" {
			errs = append(errs, "conversation_id required")
			continue
		}
		createdAt, err := time.Parse(time.RFC3339, strings.TrimSpace(getFieldAny(rec, index, "created_at", "created")))
		if err != nil {
			createdAt = time.Now().UTC()
		}

		out = append(out, models.Conversation{
			ID:            id,
			Channel:       strings.TrimSpace(getFieldAny(rec, index, "channel")),
			AgentID:       strings.TrimSpace(getFieldAny(rec, index, "agent_id", "manager_id")),
			AgentName:     strings.TrimSpace(getFieldAny(rec, index, "agent_name", "manager_name")),
			ClientID:      strings.TrimSpace(getFieldAny(rec, index, "client_id")),
			OrderID:       strings.TrimSpace(getFieldAny(rec, index, "order_id")),
			HasOrder:      parseBool(getFieldAny(rec, index, "has_order")),
			PaymentStatus: strings.TrimSpace(getFieldAny(rec, index, "payment_status")),
			Status:        strings.TrimSpace(getFieldAny(rec, index, "status")),
			CreatedAt:     createdAt,
			Outcome:       strings.TrimSpace(getFieldAny(rec, index, "outcome")),
		})
	}
	return out, errs
}

func parseMessagesCSV(file *multipart.FileHeader) ([]models.Message, []string) {
	f, err := file.Open()
	if err != nil {
		return nil, []string{err.Error()}
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true
	headers, err := reader.Read()
	if err != nil {
		return nil, []string{"failed to read header"}
	}
	index := headerIndex(headers)

	var errs []string
	var out []models.Message
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}

		conversationID := strings.TrimSpace(getFieldAny(rec, index, "conversation_id", "chat_id"))
		if conversationID == "" {
			errs = append(errs, "conversation_id required")
			continue
		}
		direction := strings.ToLower(strings.TrimSpace(getFieldAny(rec, index, "direction")))
		if direction != "in" && direction != "out" {
			errs = append(errs, fmt.Sprintf("message for %s: direction must be in or out", conversationID))
			continue
		}
		sentAt, err := time.Parse(time.RFC3339, strings.TrimSpace(getFieldAny(rec, index, "sent_at")))
		if err != nil {
			errs = append(errs, fmt.Sprintf("message for %s: invalid sent_at", conversationID))
			continue
		}

		out = append(out, models.Message{
			ConversationID: conversationID,
			MessageID:      strings.TrimSpace(getFieldAny(rec, index, "message_id", "id")),
			SentAt:         sentAt,
			Direction:      direction,
			AgentID:        strings.TrimSpace(getFieldAny(rec, index, "agent_id", "manager_id")),
			Text:           getFieldAny(rec, index, "text", "message"),
		})
	}
	return out, errs
}

func headerIndex(headers []string) map[string]int {
	index := map[string]int{}
	for i, hname := range headers {
		index[strings.ToLower(strings.TrimSpace(hname))] = i
	}
	return index
}

func getFieldAny(rec []string, index map[string]int, names ...string) string {
	for _, name := range names {
		if i, ok := index[name]; ok && i < len(rec) {
			return rec[i]
		}
	}
	return ""
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

func head(s string, n int) string {
	if runes := []rune(s); len(runes) > n {
		return string(runes[:n])
	}
	return s
}
