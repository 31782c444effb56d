package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/dvloznov/spend-assistant/internal/api/middleware"
	"github.com/dvloznov/spend-assistant/internal/assistant"
	"github.com/dvloznov/spend-assistant/internal/domain"
	"github.com/dvloznov/spend-assistant/internal/jobs"
	"github.com/dvloznov/spend-assistant/internal/ledger"
	"github.com/dvloznov/spend-assistant/internal/llm"
	"github.com/rs/zerolog"
)

// maxBodyBytes caps chat request bodies.
const maxBodyBytes = 1 << 20

// Dispatcher handles one chat message.
type Dispatcher interface {
	HandleMessage(ctx context.Context, msg assistant.Message) (assistant.Reply, error)
}

// LedgerReader loads a user's ledger.
type LedgerReader interface {
	Ledger(ctx context.Context, userID string) (domain.LedgerDocument, error)
}

// StateReporter exposes a circuit breaker state such as "closed" or "open".
type StateReporter interface {
	State() string
}

// HealthHandler handles GET /api/health.
type HealthHandler struct {
	chat StateReporter
}

// NewHealthHandler creates a health handler. chat may be nil when the chat
// model is not guarded by a breaker.
func NewHealthHandler(chat StateReporter) *HealthHandler {
	return &HealthHandler{chat: chat}
}

// Health reports liveness and, when known, the chat breaker state.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{"status": "ok"}
	if h.chat != nil {
		body["chat"] = h.chat.State()
	}
	middleware.WriteJSON(w, http.StatusOK, body)
}

// ChatHandler handles the chat endpoint.
type ChatHandler struct {
	assistant Dispatcher
	log       zerolog.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(a Dispatcher, log zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		assistant: a,
		log:       log,
	}
}

type chatRequest struct {
	Message string     `json:"message"`
	History []llm.Turn `json:"history"`
	UserID  string     `json:"user_id"`
}

type chatResponse struct {
	Reply       string              `json:"reply"`
	Outcome     assistant.Outcome   `json:"outcome"`
	Transaction *domain.LedgerEntry `json:"transaction,omitempty"`
	Balance     string              `json:"balance,omitempty"`
}

// Chat handles POST /api/chat
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx := r.Context()

	reply, err := h.assistant.HandleMessage(ctx, assistant.Message{
		Text:    req.Message,
		UserID:  req.UserID,
		History: req.History,
	})
	if err != nil {
		status, msg := chatError(err)
		if status >= http.StatusInternalServerError {
			h.log.Error().Err(err).
				Str("request_id", middleware.RequestIDFromContext(ctx)).
				Int("status", status).
				Msg("Chat request failed")
		}
		middleware.WriteError(w, status, msg)
		return
	}

	resp := chatResponse{
		Reply:       reply.Text,
		Outcome:     reply.Outcome,
		Transaction: reply.Entry,
	}
	if reply.Balance != nil {
		resp.Balance = reply.Balance.StringFixed(2)
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// chatError maps a dispatch failure to a status code and a client message.
func chatError(err error) (int, string) {
	switch {
	case errors.Is(err, assistant.ErrEmptyMessage):
		return http.StatusBadRequest, "Message is required"
	case errors.Is(err, llm.ErrTimeout):
		return http.StatusGatewayTimeout, "AI service timeout"
	case errors.Is(err, llm.ErrUpstream):
		return http.StatusBadGateway, "Upstream AI error"
	case errors.Is(err, llm.ErrUnavailable):
		return http.StatusServiceUnavailable, "AI service unavailable"
	case errors.Is(err, ledger.ErrConflictExhausted), errors.Is(err, ledger.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "Ledger temporarily unavailable, please retry"
	default:
		return http.StatusInternalServerError, "Server error"
	}
}

// LedgerHandler serves ledger documents.
type LedgerHandler struct {
	ledger LedgerReader
	log    zerolog.Logger
}

// NewLedgerHandler creates a new ledger handler.
func NewLedgerHandler(l LedgerReader, log zerolog.Logger) *LedgerHandler {
	return &LedgerHandler{
		ledger: l,
		log:    log,
	}
}

// GetLedger handles GET /api/ledger/{userId}
func (h *LedgerHandler) GetLedger(w http.ResponseWriter, r *http.Request, userID string) {
	doc, err := h.ledger.Ledger(r.Context(), userID)
	switch {
	case errors.Is(err, ledger.ErrIdentityRequired):
		middleware.WriteError(w, http.StatusBadRequest, "User ID is required")
		return
	case err != nil:
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to load ledger")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to load ledger")
		return
	}

	income, expense := doc.Totals()
	entries := doc.Entries
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":  doc.UserID,
		"balance":  doc.Balance.StringFixed(2),
		"income":   income.StringFixed(2),
		"expense":  expense.StringFixed(2),
		"revision": doc.Revision,
		"entries":  entries,
		"count":    len(entries),
	})
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()

	job, err := h.store.GetJob(ctx, jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query()
	filter := jobs.JobFilter{
		UserID: strings.TrimSpace(query.Get("user_id")),
		Status: jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
