package relay

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"codraft/internal/auth"
	"codraft/internal/protocol"
	"codraft/internal/store"
)

// heartbeatInterval is the server-side ping cadence. Clients that stop
// answering are considered gone after two and a half missed pings, which
// matches the client side of the channel.
const heartbeatInterval = 4 * time.Second

type HTTPServer struct {
	service    *Service
	hub        *Hub
	corsOrigin string
	accessTTL  time.Duration
	heartbeat  time.Duration
	upgrader   websocket.Upgrader
}

func NewHTTPServer(service *Service, hub *Hub, corsOrigin string, accessTTL time.Duration) *HTTPServer {
	return &HTTPServer{
		service:    service,
		hub:        hub,
		corsOrigin: corsOrigin,
		accessTTL:  accessTTL,
		heartbeat:  heartbeatInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *HTTPServer) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/api/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/api/session/login", s.handleLogin).Methods(http.MethodPost)

	r.HandleFunc("/api/documents", s.authed(s.handleListDocuments)).Methods(http.MethodGet)
	r.HandleFunc("/api/documents", s.authed(s.handleCreateDocument)).Methods(http.MethodPost)
	r.HandleFunc("/api/documents/{id}", s.authed(s.handleGetDocument)).Methods(http.MethodGet)
	r.HandleFunc("/api/documents/{id}/draft", s.authed(s.handleGetDraft)).Methods(http.MethodGet)
	r.HandleFunc("/api/documents/{id}/versions", s.authed(s.handleListVersions)).Methods(http.MethodGet)
	r.HandleFunc("/api/documents/{id}/versions", s.authed(s.handleCommit)).Methods(http.MethodPost)
	r.HandleFunc("/api/documents/{id}/rollback", s.authed(s.handleRollback)).Methods(http.MethodPost)
	r.HandleFunc("/api/documents/{id}/comments", s.authed(s.handleListComments)).Methods(http.MethodGet)
	r.HandleFunc("/api/documents/{id}/comments", s.authed(s.handleCreateComment)).Methods(http.MethodPost)
	r.HandleFunc("/api/documents/{id}/chat", s.authed(s.handleChatHistory)).Methods(http.MethodGet)
	r.HandleFunc("/api/users/search", s.authed(s.handleSearchUsers)).Methods(http.MethodGet)

	r.HandleFunc("/ws/documents/{id}", s.handleWebsocket).Methods(http.MethodGet)

	return s.withMiddleware(r)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"userId"`
		Name   string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	user, token, err := s.service.Login(r.Context(), body.UserID, body.Name, s.accessTTL)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":    token,
		"userId":   user.ID,
		"userName": user.DisplayName,
	})
}

func (s *HTTPServer) handleListDocuments(w http.ResponseWriter, r *http.Request, _ Session) {
	docs, err := s.service.ListDocuments(r.Context())
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	payload := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		payload = append(payload, documentPayload(doc))
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleCreateDocument(w http.ResponseWriter, r *http.Request, _ Session) {
	var body struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	doc, err := s.service.CreateDocument(r.Context(), body.Title, body.Content)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, documentPayload(doc))
}

func (s *HTTPServer) handleGetDocument(w http.ResponseWriter, r *http.Request, _ Session) {
	doc, err := s.service.GetDocument(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, documentPayload(doc))
}

func (s *HTTPServer) handleGetDraft(w http.ResponseWriter, r *http.Request, _ Session) {
	state, ttl, found, err := s.service.FetchDraft(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "No draft cached", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"content":    state.Content,
		"savedBy":    state.SavedBy,
		"ttlSeconds": ttl,
		"found":      true,
	})
}

func (s *HTTPServer) handleListVersions(w http.ResponseWriter, r *http.Request, _ Session) {
	versions, err := s.service.ListVersions(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	payload := make([]map[string]any, 0, len(versions))
	for _, version := range versions {
		payload = append(payload, versionPayload(version))
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleCommit(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Content string `json:"content"`
		Message string `json:"message"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	version, err := s.service.Commit(r.Context(), session, mux.Vars(r)["id"], body.Content, body.Message)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, versionPayload(version))
}

func (s *HTTPServer) handleRollback(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Version int `json:"version"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.Version <= 0 {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "version must be positive", nil)
		return
	}
	content, err := s.service.Rollback(r.Context(), session, mux.Vars(r)["id"], body.Version)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"content": content})
}

func (s *HTTPServer) handleListComments(w http.ResponseWriter, r *http.Request, _ Session) {
	comments, err := s.service.ListComments(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	payload := make([]map[string]any, 0, len(comments))
	for _, comment := range comments {
		payload = append(payload, commentPayload(comment))
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleCreateComment(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Body string `json:"body"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	comment, err := s.service.CreateComment(r.Context(), session, mux.Vars(r)["id"], body.Body)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, commentPayload(comment))
}

func (s *HTTPServer) handleChatHistory(w http.ResponseWriter, r *http.Request, _ Session) {
	entries, err := s.service.ChatHistory(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	payload := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, map[string]any{
			"id":       entry.ID,
			"userId":   entry.UserID,
			"nickname": entry.Nickname,
			"content":  entry.Content,
		})
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleSearchUsers(w http.ResponseWriter, r *http.Request, _ Session) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		limit = parsed
	}
	users, err := s.service.SearchUsers(r.Context(), q, limit)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	payload := make([]map[string]any, 0, len(users))
	for _, user := range users {
		payload = append(payload, map[string]any{
			"id":          user.ID,
			"displayName": user.DisplayName,
		})
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleWebsocket authenticates before upgrading so a bad token gets a plain
// 401 instead of a failed handshake mid-upgrade.
func (s *HTTPServer) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		// Browsers cannot set headers on websocket dials; allow the token
		// as a query parameter there.
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	session, err := s.service.SessionFromToken(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	documentID := mux.Vars(r)["id"]
	if _, err := s.service.GetDocument(r.Context(), documentID); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	client := NewClient(session.UserID, session.Nickname)
	s.hub.Attach(documentID, client)

	go s.writePump(ws, client)
	s.readPump(ws, documentID, client)
}

// readPump consumes intents until the socket dies. A peer that stops
// answering pings trips the read deadline, so a half-open connection is
// detached and its presence cleaned up instead of lingering in the roster.
func (s *HTTPServer) readPump(ws *websocket.Conn, documentID string, client *Client) {
	defer func() {
		s.service.Disconnected(context.Background(), documentID, client)
		s.hub.Detach(documentID, client)
		ws.Close()
	}()

	pongWait := s.heartbeat*2 + s.heartbeat/2
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}
		intent, err := protocol.DecodeIntent(message)
		if err != nil {
			log.Printf("bad intent from user=%s: %v", client.UserID, err)
			continue
		}
		s.service.HandleIntent(context.Background(), documentID, client, intent)
	}
}

func (s *HTTPServer) writePump(ws *websocket.Conn, client *Client) {
	ticker := time.NewTicker(s.heartbeat)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()
	for {
		select {
		case frame, ok := <-client.Send:
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(s.heartbeat)
			if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

type authedHandler func(http.ResponseWriter, *http.Request, Session)

func (s *HTTPServer) authed(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		session, err := s.service.SessionFromToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		next(w, r, session)
	}
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}

		if websocket.IsWebSocketUpgrade(r) {
			// No wrapping; the upgrader needs the raw ResponseWriter.
			next.ServeHTTP(w, r)
			return
		}

		if r.Method == http.MethodOptions {
			setCORSHeaders(w.Header(), s.corsOrigin)
			w.WriteHeader(http.StatusNoContent)
			return
		}

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func documentPayload(doc store.Document) map[string]any {
	return map[string]any{
		"id":             doc.ID,
		"title":          doc.Title,
		"content":        doc.Content,
		"currentVersion": doc.CurrentVersion,
		"updatedAt":      doc.UpdatedAt,
	}
}

func versionPayload(version store.Version) map[string]any {
	return map[string]any{
		"documentId": version.DocumentID,
		"number":     version.Number,
		"content":    version.Content,
		"message":    version.Message,
		"authorId":   version.AuthorID,
		"authorName": version.AuthorName,
		"createdAt":  version.CreatedAt,
	}
}

func commentPayload(comment store.Comment) map[string]any {
	return map[string]any{
		"id":         comment.ID,
		"documentId": comment.DocumentID,
		"authorId":   comment.UserID,
		"authorName": comment.Nickname,
		"body":       comment.Content,
		"createdAt":  comment.CreatedAt,
	}
}
