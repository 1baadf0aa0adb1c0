package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fogmoe/fogchat/internal/fogchat/chat"
	"github.com/fogmoe/fogchat/internal/fogchat/history"
)

// HistoryStore is the slice of the history store the HTTP layer needs.
type HistoryStore interface {
	Get(ctx context.Context, conversationID int64) (*history.Record, error)
	Clear(ctx context.Context, conversationID int64) (bool, error)
}

type handlers struct {
	orch    *chat.Orchestrator
	hist    HistoryStore
	version string
	logger  *slog.Logger
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	History   []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"history"`
}

type chatResponse struct {
	Response          string `json:"response"`
	Timestamp         string `json:"timestamp"`
	Provider          string `json:"provider,omitempty"`
	Error             bool   `json:"error,omitempty"`
	CoinShortage      bool   `json:"coinShortage,omitempty"`
	RateLimitExceeded bool   `json:"rateLimitExceeded,omitempty"`
	RetryAfter        int    `json:"retryAfter,omitempty"`
	UpdatedCoins      *int64 `json:"updatedCoins,omitempty"`
}

func (h *handlers) handleChat(w http.ResponseWriter, r *http.Request) {
	var body chatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	clientHistory := make([]history.Turn, 0, len(body.History))
	for _, t := range body.History {
		clientHistory = append(clientHistory, history.Turn{Role: t.Role, Content: t.Content})
	}

	sid := body.SessionID
	if sid == "" {
		sid = sessionID(r)
	}
	req := chat.TurnRequest{
		Message:       body.Message,
		SessionID:     sid,
		UserID:        userID(r.Context()),
		ClientHistory: clientHistory,
	}

	res, err := h.orch.Turn(r.Context(), req)
	if errors.Is(err, chat.ErrInvalidInput) {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("chat turn failed", "err", err)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	status := http.StatusOK
	if res.RateLimited {
		status = http.StatusTooManyRequests
		JSON(w, status, map[string]any{
			"error":             res.Response,
			"rateLimitExceeded": true,
			"retryAfter":        res.RetryAfter,
			"timestamp":         res.Timestamp.UTC().Format(time.RFC3339),
		})
		return
	}

	JSON(w, status, chatResponse{
		Response:     res.Response,
		Timestamp:    res.Timestamp.UTC().Format(time.RFC3339),
		Provider:     res.Provider,
		Error:        res.Error,
		CoinShortage: res.CoinShortage,
		UpdatedCoins: res.UpdatedCoins,
	})
}

type historyMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt,omitempty"`
}

func (h *handlers) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := h.conversationID(w, r)
	if !ok {
		return
	}

	rec, err := h.hist.Get(r.Context(), conversationID)
	if err != nil {
		h.logger.Error("history read failed", "conversation_id", conversationID, "err", err)
		Error(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	messages := []historyMessage{}
	if rec != nil {
		for _, t := range rec.Turns {
			m := historyMessage{Role: t.Role, Content: t.Content}
			if !t.CreatedAt.IsZero() {
				m.CreatedAt = t.CreatedAt.UTC().Format(time.RFC3339)
			}
			messages = append(messages, m)
		}
	}

	JSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"messages":  messages,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *handlers) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := h.conversationID(w, r)
	if !ok {
		return
	}

	deleted, err := h.hist.Clear(r.Context(), conversationID)
	if err != nil {
		h.logger.Error("history delete failed", "conversation_id", conversationID, "err", err)
		Error(w, http.StatusInternalServerError, "failed to delete history")
		return
	}
	if !deleted {
		Error(w, http.StatusNotFound, "no history for this conversation")
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// conversationID parses the path parameter and enforces that callers only
// touch their own conversation.
func (h *handlers) conversationID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "conversationID"), 10, 64)
	if err != nil || id <= 0 {
		Error(w, http.StatusBadRequest, "invalid conversation id")
		return 0, false
	}
	if id != userID(r.Context()) {
		Error(w, http.StatusForbidden, "conversation belongs to another user")
		return 0, false
	}
	return id, true
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   h.version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
