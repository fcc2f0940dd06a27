// Package chat serves the stateless endpoints: the client posts the whole
// history with each request and nothing is kept server side.
package chat

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/studypal/backend/internal/model/chat"
	"github.com/zhouzirui/studypal/backend/internal/service/channel"
	"github.com/zhouzirui/studypal/backend/internal/service/provider"
	"github.com/zhouzirui/studypal/backend/pkg/utils"
)

// FailureMessage is the error text of a failed buffered call.
const FailureMessage = "Failed to get response from Learning Coach."

// Handler 无状态聊天接口的HTTP处理器
type Handler struct {
	registry *provider.Registry
	log      logrus.FieldLogger
}

// New 创建聊天处理器
func New(registry *provider.Registry, log logrus.FieldLogger) *Handler {
	return &Handler{registry: registry, log: log}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	r.Post("/chat/stream", h.handleChatStream)
}

// handleChat 一次性返回完整回复
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	ctx := context.WithoutCancel(r.Context())
	reader, name, err := h.open(ctx, req)
	if err != nil {
		h.log.WithError(err).WithField("provider", name).Error("chat request failed")
		utils.RespondErrorDetails(w, http.StatusInternalServerError, FailureMessage, err.Error())
		return
	}

	text, err := channel.Collect(reader)
	if err != nil {
		h.log.WithError(err).WithField("provider", name).Error("chat request failed")
		utils.RespondErrorDetails(w, http.StatusInternalServerError, FailureMessage, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"text": text})
}

// handleChatStream 以SSE逐段返回回复
func (h *Handler) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	sse, err := utils.NewSSEWriter(w)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ctx := context.WithoutCancel(r.Context())
	reader, name, err := h.open(ctx, req)
	log := h.log.WithField("provider", name)
	if err != nil {
		log.WithError(err).Error("chat stream failed")
		h.sendEvent(sse, "error", map[string]string{"error": err.Error()})
		return
	}
	defer reader.Close()

	for {
		fragment, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.WithError(err).Error("chat stream interrupted")
			h.sendEvent(sse, "error", map[string]string{"error": err.Error()})
			return
		}
		h.sendEvent(sse, "delta", map[string]string{"content": fragment})
	}

	h.sendEvent(sse, "end", map[string]bool{"finished": true})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (chat.Request, bool) {
	var req chat.Request
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if strings.TrimSpace(req.NewText) == "" && len(req.NewAttachments) == 0 {
		utils.RespondError(w, http.StatusBadRequest, "newText or newAttachments is required")
		return req, false
	}
	return req, true
}

func (h *Handler) open(ctx context.Context, req chat.Request) (*channel.Reader, string, error) {
	name := h.registry.ResolveName(req.Provider)
	adapter, err := h.registry.Resolve(name)
	if err != nil {
		return nil, name, err
	}
	req.Provider = name
	reader, err := adapter.Open(ctx, req)
	return reader, name, err
}

func (h *Handler) sendEvent(sse *utils.SSEWriter, event string, data any) {
	if err := sse.Event(event, data); err != nil {
		h.log.WithError(err).Warn("failed to write sse event")
	}
}
