package session

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/studypal/backend/internal/model/chat"
	"github.com/zhouzirui/studypal/backend/internal/service/attachment"
	sessionService "github.com/zhouzirui/studypal/backend/internal/service/session"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// Inbound message types.
const (
	msgSend        = "send"
	msgCapture     = "capture"
	msgAskOther    = "ask_other"
	msgClear       = "clear"
	msgProvider    = "provider"
	msgRecordStart = "record_start"
	msgRecordStop  = "record_stop"
)

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type clearMessage struct {
	Confirm bool `json:"confirm"`
}

type recordStartMessage struct {
	MimeType string `json:"mimeType"`
}

// attachmentInfo describes a finished recording without echoing its payload.
type attachmentInfo struct {
	MimeType string              `json:"mimeType"`
	Type     chat.AttachmentType `json:"type"`
	Size     int                 `json:"size"`
	Pending  int                 `json:"pending"`
}

// wsConn serialises writes; gorilla allows one concurrent writer.
type wsConn struct {
	conn      *websocket.Conn
	sessionID string
	log       logrus.FieldLogger

	writeMu sync.Mutex

	recorder attachment.Recorder

	pendingMu sync.Mutex
	pending   []chat.Attachment
}

func (c *wsConn) send(msgType string, data interface{}) {
	msg := outgoingMessage{
		Type:      msgType,
		SessionID: c.sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		c.log.WithError(err).WithField("type", msgType).Debug("websocket write failed")
	}
}

func (c *wsConn) sendError(message string) {
	c.send("error", map[string]string{"message": message})
}

func (c *wsConn) takePending() []chat.Attachment {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	out := c.pending
	c.pending = nil
	return out
}

func (c *wsConn) restorePending(atts []chat.Attachment) {
	if len(atts) == 0 {
		return
	}
	c.pendingMu.Lock()
	c.pending = append(atts, c.pending...)
	c.pendingMu.Unlock()
}

func (c *wsConn) addPending(att chat.Attachment) int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.pending = append(c.pending, att)
	return len(c.pending)
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	ctrl, err := h.sessions.Controller(r.Context(), sessionID)
	if err != nil {
		h.respondErr(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	c := &wsConn{conn: conn, sessionID: sessionID, log: h.log.WithField("session", sessionID)}
	// 连接关闭时丢弃未完成的录音。
	defer c.recorder.Reset()

	c.log.Info("websocket connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go h.pingLoop(ctx, conn)

	c.send("connected", ctrl.Snapshot())

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Warn("websocket read error")
			}
			c.log.Info("websocket closed")
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		if msgType == websocket.BinaryMessage {
			h.handleAudioChunk(c, payload)
			continue
		}

		var msg inboundMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.sendError("invalid message")
			continue
		}
		if msg.SessionID != "" && msg.SessionID != sessionID {
			c.sendError("session mismatch")
			continue
		}
		h.handleMessage(c, ctrl, &msg)
	}
}

func (h *Handler) handleMessage(c *wsConn, ctrl *sessionService.Controller, msg *inboundMessage) {
	switch msg.Type {
	case msgSend:
		var payload sendRequest
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			c.sendError("invalid send payload")
			return
		}
		h.handleSendMessage(c, ctrl, payload)
	case msgCapture:
		var payload captureRequest
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			c.sendError("invalid capture payload")
			return
		}
		h.runCycle(c, nil, func(ctx context.Context, observe sessionService.Observer) (sessionService.Result, error) {
			return ctrl.SendCapture(ctx, payload.DataURL, observe)
		})
	case msgAskOther:
		h.runCycle(c, nil, ctrl.AskOther)
	case msgClear:
		var payload clearMessage
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				c.sendError("invalid clear payload")
				return
			}
		}
		cleared := ctrl.Clear(func() bool { return payload.Confirm })
		c.send("cleared", map[string]any{"cleared": cleared, "view": ctrl.Snapshot()})
	case msgProvider:
		var payload createSessionRequest
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			c.sendError("invalid provider payload")
			return
		}
		c.send("provider", map[string]string{"provider": ctrl.SetProvider(payload.Provider)})
	case msgRecordStart:
		var payload recordStartMessage
		if len(msg.Data) > 0 {
			_ = json.Unmarshal(msg.Data, &payload)
		}
		if err := c.recorder.Start(payload.MimeType); err != nil {
			c.sendError(err.Error())
			return
		}
		c.send("recording", map[string]bool{"recording": true})
	case msgRecordStop:
		att, err := c.recorder.Stop()
		if err != nil {
			c.log.WithError(err).Warn("recording failed")
			c.sendError(err.Error())
			return
		}
		pending := c.addPending(att)
		c.send("attachment", attachmentInfo{
			MimeType: att.MimeType,
			Type:     att.Type,
			Size:     len(att.Data),
			Pending:  pending,
		})
	default:
		c.sendError("unsupported message type: " + msg.Type)
	}
}

func (h *Handler) handleSendMessage(c *wsConn, ctrl *sessionService.Controller, payload sendRequest) {
	atts := make([]chat.Attachment, 0, len(payload.Attachments))
	for _, wire := range payload.Attachments {
		att, err := attachment.FromWire(wire)
		if err != nil {
			c.sendError(err.Error())
			return
		}
		atts = append(atts, att)
	}

	pending := c.takePending()
	all := append(append([]chat.Attachment(nil), pending...), atts...)
	h.runCycle(c, pending, func(ctx context.Context, observe sessionService.Observer) (sessionService.Result, error) {
		return ctrl.Send(ctx, payload.Text, all, payload.Provider, observe)
	})
}

// runCycle reads on while the reply streams so pongs and a concurrent send
// (rejected as busy) are still handled. Recorded attachments go back to the
// queue when the send is rejected.
func (h *Handler) runCycle(c *wsConn, pending []chat.Attachment, run func(context.Context, sessionService.Observer) (sessionService.Result, error)) {
	go func() {
		_, err := run(context.Background(), func(u sessionService.Update) {
			c.send("update", u)
		})
		if err == nil {
			return
		}
		c.restorePending(pending)
		if statusFor(err) >= http.StatusInternalServerError {
			c.log.WithError(err).Error("websocket cycle failed")
		}
		c.sendError(err.Error())
	}()
}

func (h *Handler) handleAudioChunk(c *wsConn, chunk []byte) {
	if _, err := c.recorder.Write(chunk); err != nil {
		c.sendError(err.Error())
	}
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
