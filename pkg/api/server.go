// Package api exposes the desk's HTTP surface: the paginated ticket
// fetch, session control per WhatsApp account, and a health endpoint.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/supportdesk/waticket/internal/session"
	"github.com/supportdesk/waticket/internal/store"
)

// SessionManager is the slice of the lifecycle manager the API needs.
type SessionManager interface {
	Initialize(ctx context.Context, account *store.Account) (*session.Handle, error)
	GetSession(accountID int64) (*session.Handle, error)
	Teardown(accountID int64)
}

// Server wires the HTTP routes to the store and the session manager.
type Server struct {
	accounts store.AccountRepository
	tickets  store.TicketRepository
	sessions SessionManager
	monitor  *session.Monitor
	log      *slog.Logger
}

// NewServer creates a server. monitor may be nil.
func NewServer(accounts store.AccountRepository, tickets store.TicketRepository, sessions SessionManager, monitor *session.Monitor, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		accounts: accounts,
		tickets:  tickets,
		sessions: sessions,
		monitor:  monitor,
		log:      log,
	}
}

// RegisterRoutes registers the HTTP routes.
func (s *Server) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/tickets", s.handleListTickets).Methods(http.MethodGet)
	r.HandleFunc("/whatsapp/{id}", s.handleGetAccount).Methods(http.MethodGet)
	r.HandleFunc("/whatsapp/{id}/start", s.handleStartSession).Methods(http.MethodPost)
	r.HandleFunc("/whatsapp/{id}", s.handleTeardownSession).Methods(http.MethodDelete)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"error": true, "message": message})
}

// ticketsResponse is the paginated fetch result the reconciliation engine
// consumes.
type ticketsResponse struct {
	Tickets []store.Ticket `json:"tickets"`
	HasMore bool           `json:"hasMore"`
}

// GET /tickets
func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page := store.PageRequest{
		PageNumber:  1,
		SearchParam: q.Get("searchParam"),
		Status:      q.Get("status"),
		ShowAll:     q.Get("showAll") == "true",
	}
	if raw := q.Get("pageNumber"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid pageNumber")
			return
		}
		page.PageNumber = n
	}
	if raw := q.Get("queueIds"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &page.QueueIDs); err != nil {
			writeError(w, http.StatusBadRequest, "queueIds must be a JSON array of ids")
			return
		}
	}
	if raw := q.Get("whatsappId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid whatsappId")
			return
		}
		page.WhatsappID = id
	}
	if raw := q.Get("userId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid userId")
			return
		}
		page.UserID = id
	}

	tickets, hasMore, err := s.tickets.List(r.Context(), page)
	if err != nil {
		s.log.Error("failed to list tickets", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list tickets")
		return
	}
	if tickets == nil {
		tickets = []store.Ticket{}
	}
	writeJSON(w, http.StatusOK, ticketsResponse{Tickets: tickets, HasMore: hasMore})
}

// GET /whatsapp/{id}
func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, ok := s.loadAccount(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// POST /whatsapp/{id}/start
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	account, ok := s.loadAccount(w, r)
	if !ok {
		return
	}

	if _, err := s.sessions.GetSession(account.ID); err == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "already started"})
		return
	}

	// Initialization spans QR scanning by a human; it cannot complete
	// within the request. Progress is broadcast as session events.
	go func() {
		if _, err := s.sessions.Initialize(context.Background(), account); err != nil {
			s.log.Error("session initialization failed",
				"account", account.ID, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]interface{}{"status": "starting"})
}

// DELETE /whatsapp/{id}
func (s *Server) handleTeardownSession(w http.ResponseWriter, r *http.Request) {
	account, ok := s.loadAccount(w, r)
	if !ok {
		return
	}

	s.sessions.Teardown(account.ID)

	status := store.StatusDisconnected
	if err := s.accounts.Update(r.Context(), account.ID, store.AccountPartial{Status: &status}); err != nil {
		s.log.Error("failed to mark account disconnected",
			"account", account.ID, "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{"healthy": true}
	if s.monitor != nil {
		body["sessions"] = s.monitor.GetStatus()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) loadAccount(w http.ResponseWriter, r *http.Request) (*store.Account, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return nil, false
	}

	account, err := s.accounts.Load(r.Context(), id)
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "account not found")
		return nil, false
	}
	if err != nil {
		s.log.Error("failed to load account", "account", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load account")
		return nil, false
	}
	return account, true
}
