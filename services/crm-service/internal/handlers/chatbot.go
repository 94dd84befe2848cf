package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/modernmen/shopfront/libs/httpx"
	"github.com/modernmen/shopfront/services/crm-service/internal/chatbot"
)

type chatRequest struct {
	Message string         `json:"message"`
	History []chatbot.Turn `json:"history"`
}

type chatResponse struct {
	chatbot.Reply
	Timestamp string `json:"timestamp"`
}

type chatInfo struct {
	Message      string   `json:"message"`
	Capabilities []string `json:"capabilities"`
}

func (h *Handler) chatbotEnabled(r *http.Request) (bool, error) {
	tenantID, err := httpx.TenantFromRequest(r)
	if err != nil {
		return false, err
	}
	cfg, err := h.settings.Get(r.Context(), tenantID)
	if err != nil {
		return false, err
	}
	return cfg.Chatbot.Enabled, nil
}

func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	enabled, err := h.chatbotEnabled(r)
	if err != nil {
		h.fail(w, r, "load settings failed", err)
		return
	}
	if !enabled {
		httpx.WriteError(w, r, apperr.Disabled("Chatbot is not enabled"))
		return
	}
	var req chatRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		httpx.WriteError(w, r, apperr.Validation("Message is required"))
		return
	}
	reply := h.bot.Respond(message, req.History)
	httpx.WriteSuccess(w, http.StatusOK, chatResponse{Reply: reply, Timestamp: h.now().UTC().Format(time.RFC3339)})
}

func (h *Handler) ChatInfo(w http.ResponseWriter, r *http.Request) {
	enabled, err := h.chatbotEnabled(r)
	if err != nil {
		h.fail(w, r, "load settings failed", err)
		return
	}
	if !enabled {
		httpx.WriteError(w, r, apperr.Disabled("Chatbot is not enabled"))
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, chatInfo{
		Message:      "ModernMen chatbot is ready to help",
		Capabilities: chatbot.Capabilities,
	})
}
