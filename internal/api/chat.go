package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/chatrelay/internal/chat"
	"github.com/ashureev/chatrelay/internal/domain"
	"github.com/ashureev/chatrelay/internal/prompt"
)

// defaultMaxRequestBodySize is the maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20 // 1MB

// ChatService is the orchestrator behind the chat endpoints.
type ChatService interface {
	Chat(ctx context.Context, req chat.Request) chat.Reply
	History(sessionID string) []domain.HistoryEntry
	Tools() []string
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message        string `json:"message"`
	Tool           string `json:"tool,omitempty"`
	TargetLanguage string `json:"target_language,omitempty"`
	Language       string `json:"language,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
}

// ChatResponse is the body returned by POST /api/chat.
type ChatResponse struct {
	Reply     string `json:"reply"`
	SessionID string `json:"session_id"`
}

// HistoryResponse is the body returned by GET /api/session/{id}/history.
type HistoryResponse struct {
	SessionID string                `json:"session_id"`
	History   []domain.HistoryEntry `json:"history"`
}

// ChatHandler serves the chat API.
type ChatHandler struct {
	svc         ChatService
	logger      *slog.Logger
	maxBodySize int64
}

// NewChatHandler creates a chat handler.
func NewChatHandler(svc ChatService, logger *slog.Logger) *ChatHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandler{
		svc:         svc,
		logger:      logger,
		maxBodySize: defaultMaxRequestBodySize,
	}
}

// RegisterRoutes registers the chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/", h.Status)
		r.Post("/chat", h.Chat)
		r.Get("/session/{id}/history", h.History)
		r.Get("/tools", h.Tools)
		r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
			Error(w, http.StatusNotFound, "API endpoint not found")
		})
	})
	// Older clients post to /chat.
	r.Post("/chat", h.Chat)
}

// Status reports that the API is up.
func (h *ChatHandler) Status(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"message": "AI Assistant API is running"})
}

// Chat runs one chat turn. Model failures still answer 200 with the error in
// the reply text.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.logger.Info("Chat request",
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"session_id", req.SessionID,
		"tool", req.Tool,
		"message_length", len(req.Message),
	)

	reply := h.svc.Chat(r.Context(), chat.Request{
		SessionID: req.SessionID,
		Message:   req.Message,
		Tool:      req.Tool,
		Params: prompt.Params{
			TargetLanguage: req.TargetLanguage,
			Language:       req.Language,
		},
	})

	JSON(w, http.StatusOK, ChatResponse{Reply: reply.Text, SessionID: reply.SessionID})
}

// History returns the stored turns of a session. Unknown sessions have an
// empty history.
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	history := h.svc.History(id)
	if history == nil {
		history = []domain.HistoryEntry{}
	}
	JSON(w, http.StatusOK, HistoryResponse{SessionID: id, History: history})
}

// Tools lists the available prompt tools.
func (h *ChatHandler) Tools(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string][]string{"tools": h.svc.Tools()})
}
