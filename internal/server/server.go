package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"worklink/internal/app"
	"worklink/internal/live"
	"worklink/internal/ratelimit"
	"worklink/internal/usertoken"
	"worklink/internal/util"
	"worklink/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Hub            *live.Hub
	TokenVerifier  *usertoken.Verifier
	SendLimiter    *ratelimit.FixedWindowLimiter
	TrustedProxies *util.TrustedProxies
}

// Server exposes the messaging HTTP and websocket endpoints.
type Server struct {
	app           *app.App
	hub           *live.Hub
	tokenVerifier *usertoken.Verifier
	sendLimiter   *ratelimit.FixedWindowLimiter
	trusted       *util.TrustedProxies
	mux           *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:           cfg.App,
		hub:           cfg.Hub,
		tokenVerifier: cfg.TokenVerifier,
		sendLimiter:   cfg.SendLimiter,
		trusted:       cfg.TrustedProxies,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(s.trusted, util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.Handle("/api/conversations", s.withUser(s.handleConversations))
	s.mux.Handle("/api/conversations/", s.withUser(s.handleConversationByID))
	s.mux.Handle("/api/messages/", s.withUser(s.handleMessageByID))
	s.mux.Handle("/api/unread", s.withUser(s.handleUnread))
	s.mux.Handle("/api/attachments", s.withUser(s.handleAttachments))
	s.mux.Handle("/api/ws", s.withUser(s.handleWS))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, string)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tokenVerifier == nil {
			writeError(w, http.StatusInternalServerError, "token verifier not configured")
			return
		}
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		userID, err := s.tokenVerifier.VerifySubject(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, userID)
	})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateConversation(w, r, userID)
	case http.MethodGet:
		s.handleListConversations(w, r, userID)
	default:
		methodNotAllowed(w)
	}
}

type createConversationRequest struct {
	JobID    *int64 `json:"jobId"`
	ClientID string `json:"clientId"`
	WorkerID string `json:"workerId"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request, userID string) {
	var req createConversationRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	conv, err := s.app.GetOrCreateConversation(r.Context(), userID, req.JobID, req.ClientID, req.WorkerID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request, userID string) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	items, err := s.app.ListConversations(r.Context(), userID, domain.ConversationFilter(q.Get("filter")), page, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": items})
}

// /api/conversations/{id}/status, /api/conversations/{id}/messages,
// /api/conversations/{id}/read or the websocket-free conversation fetch.
func (s *Server) handleConversationByID(w http.ResponseWriter, r *http.Request, userID string) {
	path := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w)
		return
	}
	if len(parts) == 1 {
		notFound(w)
		return
	}
	switch parts[1] {
	case "status":
		s.handleConversationStatus(w, r, userID, id)
	case "messages":
		s.handleConversationMessages(w, r, userID, id)
	case "read":
		s.handleConversationRead(w, r, userID, id)
	default:
		notFound(w)
	}
}

type statusRequest struct {
	Action string `json:"action"`
}

func (s *Server) handleConversationStatus(w http.ResponseWriter, r *http.Request, userID, convID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req statusRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	conv, err := s.app.SetConversationStatus(r.Context(), convID, userID, app.StatusAction(req.Action))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

type sendMessageRequest struct {
	Content   domain.Content `json:"content"`
	ClientKey string         `json:"clientKey"`
}

func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request, userID, convID string) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		msgs, cursor, err := s.app.Messages(r.Context(), convID, userID, q.Get("cursor"), limit)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": msgs, "nextCursor": cursor})
	case http.MethodPost:
		if !s.sendLimiter.Allow(r.Context(), userID) {
			writeError(w, http.StatusTooManyRequests, "send rate exceeded")
			return
		}
		var req sendMessageRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		msg, err := s.app.SendMessage(r.Context(), convID, userID, req.Content, req.ClientKey)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleConversationRead(w http.ResponseWriter, r *http.Request, userID, convID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	changed, err := s.app.MarkRead(r.Context(), convID, userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked": changed})
}

// /api/messages/{id}
func (s *Server) handleMessageByID(w http.ResponseWriter, r *http.Request, userID string) {
	id := strings.TrimPrefix(r.URL.Path, "/api/messages/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w)
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.DeleteMessage(r.Context(), id, userID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleUnread(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	totals, err := s.app.UnreadTotals(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func (s *Server) handleAttachments(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field required")
		return
	}
	defer file.Close()
	info, err := s.app.UploadAttachment(r.Context(), userID, header.Filename, file, header.Size)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrAttachmentTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, app.ErrAttachmentsDisabled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token != "" {
			return token, true
		}
	}
	// Browser websocket clients cannot set headers on the upgrade request.
	if token := strings.TrimSpace(r.URL.Query().Get("access_token")); token != "" {
		return token, true
	}
	return "", false
}
