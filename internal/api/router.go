// Package api assembles the HTTP surface of the assistant.
package api

import (
	"net/http"
	"strings"

	"github.com/dvloznov/spend-assistant/internal/api/handlers"
	"github.com/dvloznov/spend-assistant/internal/api/middleware"
	"github.com/dvloznov/spend-assistant/internal/jobs"
	"github.com/rs/zerolog"
)

// Deps are the collaborators behind the routes. ChatState is the chat
// breaker and may be nil.
type Deps struct {
	Assistant   handlers.Dispatcher
	Ledger      handlers.LedgerReader
	Jobs        jobs.JobStore
	ChatState   handlers.StateReporter
	CORSOrigins []string
	Log         zerolog.Logger
}

// NewRouter registers every route on a new mux.
func NewRouter(d Deps) *http.ServeMux {
	healthHandler := handlers.NewHealthHandler(d.ChatState)
	chatHandler := handlers.NewChatHandler(d.Assistant, d.Log)
	ledgerHandler := handlers.NewLedgerHandler(d.Ledger, d.Log)
	jobsHandler := handlers.NewJobsHandler(d.Jobs, d.Log)

	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			healthHandler.Health(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			chatHandler.Chat(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/ledger/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		userID := strings.TrimPrefix(r.URL.Path, "/api/ledger/")
		if strings.TrimSpace(userID) == "" {
			middleware.WriteError(w, http.StatusBadRequest, "User ID is required")
			return
		}
		ledgerHandler.GetLedger(w, r, userID)
	})

	if d.Jobs != nil {
		mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet {
				jobsHandler.ListJobs(w, r)
			} else {
				middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
		})

		mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
				return
			}
			jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
			if jobID == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
				return
			}
			jobsHandler.GetJob(w, r, jobID)
		})
	}

	return mux
}

// NewHandler wraps NewRouter in the middleware chain.
func NewHandler(d Deps) http.Handler {
	return middleware.Chain(NewRouter(d),
		middleware.Recovery(d.Log),
		middleware.RequestID(d.Log),
		middleware.Logger(d.Log),
		middleware.CORS(d.CORSOrigins),
	)
}
