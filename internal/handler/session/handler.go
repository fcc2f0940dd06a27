// Package session exposes stateful conversations over REST, SSE and a
// websocket channel.
package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/studypal/backend/internal/model/chat"
	"github.com/zhouzirui/studypal/backend/internal/service/attachment"
	sessionService "github.com/zhouzirui/studypal/backend/internal/service/session"
	"github.com/zhouzirui/studypal/backend/pkg/utils"
)

// Handler 会话接口的HTTP处理器
type Handler struct {
	sessions *sessionService.Service
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
}

// New 创建会话处理器
func New(sessions *sessionService.Service, log logrus.FieldLogger) *Handler {
	return &Handler{
		sessions: sessions,
		log:      log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.handleCreateSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.handleGetSession)
			r.Delete("/", h.handleDeleteSession)
			r.Post("/provider", h.handleSetProvider)
			r.Post("/messages", h.handleSend)
			r.Delete("/messages", h.handleClear)
			r.Post("/capture", h.handleCapture)
			r.Post("/ask-other", h.handleAskOther)
			r.Get("/ws", h.handleWebSocket)
		})
	})
}

type createSessionRequest struct {
	Provider string `json:"provider"`
}

type sendRequest struct {
	Text        string                `json:"text"`
	Attachments []chat.WireAttachment `json:"attachments"`
	Provider    string                `json:"provider"`
}

type captureRequest struct {
	DataURL string `json:"dataUrl"`
}

// sessionView is a session snapshot plus its creation time.
type sessionView struct {
	sessionService.View
	CreatedAt time.Time `json:"createdAt"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	// 请求体可省略，包括 chunked 编码的空请求体。
	var payload createSessionRequest
	if err := utils.DecodeJSON(r, &payload); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.sessions.CreateSession(r.Context(), payload.Provider)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondErr(w, err)
		return
	}
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, sessionView{View: ctrl.Snapshot(), CreatedAt: session.CreatedAt})
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		h.respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSetProvider(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	var payload createSessionRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"provider": ctrl.SetProvider(payload.Provider)})
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}

	var payload sendRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	atts := make([]chat.Attachment, 0, len(payload.Attachments))
	for _, wire := range payload.Attachments {
		att, err := attachment.FromWire(wire)
		if err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		atts = append(atts, att)
	}

	h.stream(w, r, ctrl, func(ctx context.Context, observe sessionService.Observer) (sessionService.Result, error) {
		return ctrl.Send(ctx, payload.Text, atts, payload.Provider, observe)
	})
}

func (h *Handler) handleCapture(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}

	var payload captureRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.stream(w, r, ctrl, func(ctx context.Context, observe sessionService.Observer) (sessionService.Result, error) {
		return ctrl.SendCapture(ctx, payload.DataURL, observe)
	})
}

func (h *Handler) handleAskOther(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	h.stream(w, r, ctrl, ctrl.AskOther)
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}

	confirmed, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
	if !ctrl.Clear(func() bool { return confirmed }) {
		utils.RespondError(w, http.StatusConflict, "clearing a non-empty transcript requires confirm=true")
		return
	}
	utils.RespondJSON(w, http.StatusOK, ctrl.Snapshot())
}

// stream runs one cycle and forwards its updates as SSE events. The SSE
// response starts with the first update, so errors raised before any turn
// is appended still get a plain status code.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request, ctrl *sessionService.Controller, run func(context.Context, sessionService.Observer) (sessionService.Result, error)) {
	out := &updateStream{w: w, log: h.log.WithField("session", ctrl.ID())}

	// 客户端断开不终止本轮回复，保证会话到达终态。
	res, err := run(context.WithoutCancel(r.Context()), out.observe)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	if !out.started {
		utils.RespondJSON(w, http.StatusOK, res.Turn)
	}
}

type updateStream struct {
	w       http.ResponseWriter
	sse     *utils.SSEWriter
	log     logrus.FieldLogger
	started bool
	broken  bool
}

func (s *updateStream) observe(u sessionService.Update) {
	if s.broken {
		return
	}
	if s.sse == nil {
		sse, err := utils.NewSSEWriter(s.w)
		if err != nil {
			s.log.WithError(err).Warn("sse unavailable, replying once the cycle ends")
			s.broken = true
			return
		}
		s.sse = sse
		s.started = true
	}
	if err := s.sse.Event("update", u); err != nil {
		s.log.WithError(err).Warn("client went away, cycle continues")
		s.broken = true
		return
	}
	if u.State.Terminal() {
		if err := s.sse.Event("end", map[string]string{"state": string(u.State)}); err != nil {
			s.log.WithError(err).Warn("failed to send end event")
			s.broken = true
		}
	}
}

func (h *Handler) controller(w http.ResponseWriter, r *http.Request) (*sessionService.Controller, bool) {
	ctrl, err := h.sessions.Controller(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondErr(w, err)
		return nil, false
	}
	return ctrl, true
}

func (h *Handler) respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).Error("session request failed")
	}
	utils.RespondError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, sessionService.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, sessionService.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, sessionService.ErrEmptyMessage),
		errors.Is(err, sessionService.ErrMalformedCapture),
		errors.Is(err, sessionService.ErrNoUserTurn):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
