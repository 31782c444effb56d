package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/spend-assistant/internal/assistant"
	"github.com/dvloznov/spend-assistant/internal/domain"
	"github.com/dvloznov/spend-assistant/internal/jobs"
	jobsmem "github.com/dvloznov/spend-assistant/internal/jobs/inmemory"
	"github.com/dvloznov/spend-assistant/internal/ledger"
	"github.com/dvloznov/spend-assistant/internal/llm"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type mockDispatcher struct {
	HandleMessageFunc func(ctx context.Context, msg assistant.Message) (assistant.Reply, error)
}

func (m *mockDispatcher) HandleMessage(ctx context.Context, msg assistant.Message) (assistant.Reply, error) {
	return m.HandleMessageFunc(ctx, msg)
}

type mockLedger struct {
	LedgerFunc func(ctx context.Context, userID string) (domain.LedgerDocument, error)
}

func (m *mockLedger) Ledger(ctx context.Context, userID string) (domain.LedgerDocument, error) {
	return m.LedgerFunc(ctx, userID)
}

type mockStateReporter struct {
	StateFunc func() string
}

func (m *mockStateReporter) State() string {
	return m.StateFunc()
}

func TestHealthHandler_Health(t *testing.T) {
	tests := []struct {
		name     string
		chat     StateReporter
		wantBody string
	}{
		{
			name:     "no breaker",
			wantBody: `{"status":"ok"}`,
		},
		{
			name:     "breaker open",
			chat:     &mockStateReporter{StateFunc: func() string { return "open" }},
			wantBody: `{"chat":"open","status":"ok"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewHealthHandler(tt.chat).Health(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			if strings.TrimSpace(rec.Body.String()) != tt.wantBody {
				t.Errorf("body = %s, want %s", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestChatHandler_Chat(t *testing.T) {
	balance := decimal.RequireFromString("2500")
	entry := domain.NewLedgerEntry("e1", domain.TransactionIntent{Kind: domain.KindIncome, Amount: decimal.NewFromInt(3000), Note: domain.IncomeNote}, time.Now())

	tests := []struct {
		name       string
		body       string
		reply      assistant.Reply
		err        error
		wantStatus int
		wantBody   []string
	}{
		{
			name:       "recorded",
			body:       `{"message":"Credit ₹3000","user_id":"alice"}`,
			reply:      assistant.Reply{Outcome: assistant.OutcomeRecorded, Text: "ok", Entry: &entry, Balance: &balance},
			wantStatus: http.StatusOK,
			wantBody:   []string{`"outcome":"recorded"`, `"balance":"2500.00"`, `"transaction":{`},
		},
		{
			name:       "chat",
			body:       `{"message":"hi","history":[{"role":"user","content":"x"}]}`,
			reply:      assistant.Reply{Outcome: assistant.OutcomeChat, Text: "hello"},
			wantStatus: http.StatusOK,
			wantBody:   []string{`"reply":"hello"`, `"outcome":"chat"`},
		},
		{name: "invalid json", body: `{`, wantStatus: http.StatusBadRequest},
		{name: "empty message", body: `{"message":""}`, err: assistant.ErrEmptyMessage, wantStatus: http.StatusBadRequest, wantBody: []string{"Message is required"}},
		{name: "upstream", body: `{"message":"hi"}`, err: fmt.Errorf("chat: %w", llm.ErrUpstream), wantStatus: http.StatusBadGateway},
		{name: "timeout", body: `{"message":"hi"}`, err: fmt.Errorf("chat: %w", llm.ErrTimeout), wantStatus: http.StatusGatewayTimeout},
		{name: "breaker open", body: `{"message":"hi"}`, err: llm.ErrUnavailable, wantStatus: http.StatusServiceUnavailable},
		{
			name:       "conflict exhausted",
			body:       `{"message":"spent 5","user_id":"bob"}`,
			err:        &ledger.StorageError{Op: "apply", UserID: "bob", Kind: ledger.ErrConflictExhausted, Err: ledger.ErrRevisionConflict},
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "corrupt ledger",
			body:       `{"message":"spent 5","user_id":"bob"}`,
			err:        &ledger.StorageError{Op: "apply", UserID: "bob", Kind: ledger.ErrCorruptLedger, Err: domain.ErrBalanceMismatch},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewChatHandler(&mockDispatcher{
				HandleMessageFunc: func(ctx context.Context, msg assistant.Message) (assistant.Reply, error) {
					return tt.reply, tt.err
				},
			}, zerolog.Nop())

			rec := httptest.NewRecorder()
			h.Chat(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(tt.body)))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			for _, want := range tt.wantBody {
				if !strings.Contains(rec.Body.String(), want) {
					t.Errorf("body %s does not contain %s", rec.Body.String(), want)
				}
			}
		})
	}
}

func TestChatHandler_PassesMessageThrough(t *testing.T) {
	var got assistant.Message
	h := NewChatHandler(&mockDispatcher{
		HandleMessageFunc: func(ctx context.Context, msg assistant.Message) (assistant.Reply, error) {
			got = msg
			return assistant.Reply{Outcome: assistant.OutcomeChat}, nil
		},
	}, zerolog.Nop())

	body := `{"message":"hello","user_id":"carol","history":[{"role":"assistant","content":"hi"}]}`
	h.Chat(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body)))

	if got.Text != "hello" || got.UserID != "carol" {
		t.Errorf("message = %+v", got)
	}
	if len(got.History) != 1 || got.History[0].Role != llm.RoleAssistant {
		t.Errorf("history = %+v", got.History)
	}
}

func TestLedgerHandler_GetLedger(t *testing.T) {
	doc := domain.EmptyLedger("alice")
	doc = doc.Append(domain.NewLedgerEntry("e1", domain.TransactionIntent{Kind: domain.KindIncome, Amount: decimal.NewFromInt(100), Note: domain.IncomeNote}, time.Now()))
	doc = doc.Append(domain.NewLedgerEntry("e2", domain.TransactionIntent{Kind: domain.KindExpense, Amount: decimal.RequireFromString("40.5"), Note: domain.ExpenseNote}, time.Now()))

	h := NewLedgerHandler(&mockLedger{
		LedgerFunc: func(ctx context.Context, userID string) (domain.LedgerDocument, error) {
			switch userID {
			case "alice":
				return doc, nil
			case "down":
				return domain.LedgerDocument{}, &ledger.StorageError{Op: "load", UserID: userID, Kind: ledger.ErrStorageUnavailable}
			default:
				return domain.EmptyLedger(userID), nil
			}
		},
	}, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.GetLedger(rec, httptest.NewRequest(http.MethodGet, "/api/ledger/alice", nil), "alice")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		UserID   string `json:"user_id"`
		Balance  string `json:"balance"`
		Income   string `json:"income"`
		Expense  string `json:"expense"`
		Revision int64  `json:"revision"`
		Count    int    `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.UserID != "alice" || resp.Balance != "59.50" || resp.Income != "100.00" || resp.Expense != "40.50" || resp.Count != 2 || resp.Revision != 2 {
		t.Errorf("response = %+v", resp)
	}

	rec = httptest.NewRecorder()
	h.GetLedger(rec, httptest.NewRequest(http.MethodGet, "/api/ledger/nobody", nil), "nobody")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"entries":[]`) {
		t.Errorf("empty ledger: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.GetLedger(rec, httptest.NewRequest(http.MethodGet, "/api/ledger/down", nil), "down")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("storage failure status = %d", rec.Code)
	}
}

func TestJobsHandler(t *testing.T) {
	ctx := context.Background()
	store := jobsmem.NewStore()
	for _, j := range []*jobs.ExportEntryJob{
		{JobID: "j1", UserID: "alice", Status: jobs.JobStatusCompleted, CreatedAt: time.Unix(1, 0)},
		{JobID: "j2", UserID: "bob", Status: jobs.JobStatusFailed, CreatedAt: time.Unix(2, 0)},
	} {
		if err := store.SaveJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}
	h := NewJobsHandler(store, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.GetJob(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/j1", nil), "j1")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"job_id":"j1"`) {
		t.Errorf("GetJob: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.GetJob(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/nope", nil), "nope")
	if rec.Code != http.StatusNotFound {
		t.Errorf("GetJob missing: status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ListJobs(rec, httptest.NewRequest(http.MethodGet, "/api/jobs?user_id=bob&limit=5", nil))
	var resp struct {
		Jobs  []jobs.ExportEntryJob `json:"jobs"`
		Count int                   `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || resp.Jobs[0].JobID != "j2" {
		t.Errorf("ListJobs = %+v", resp)
	}
}

func TestChatError_Default(t *testing.T) {
	status, _ := chatError(errors.New("boom"))
	if status != http.StatusInternalServerError {
		t.Errorf("status = %d", status)
	}
}
