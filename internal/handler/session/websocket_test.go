package session

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/studypal/backend/internal/model/chat"
)

func dial(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/" + sessionID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type received struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(received) bool) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg received
		require.NoError(t, conn.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

func ofType(want string) func(received) bool {
	return func(m received) bool { return m.Type == want }
}

func terminalUpdate(m received) bool {
	if m.Type != "update" {
		return false
	}
	var u struct {
		State string `json:"state"`
	}
	_ = json.Unmarshal(m.Data, &u)
	return u.State == "complete" || u.State == "failed"
}

func TestWebSocketSend(t *testing.T) {
	r, _ := setupRouter(&fakeAdapter{name: "ark", fragments: []string{"4"}})
	srv := httptest.NewServer(r)
	defer srv.Close()
	session := createSession(t, srv.Config.Handler, "")

	conn := dial(t, srv, session.ID)
	readUntil(t, conn, ofType("connected"))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "send", "data": map[string]string{"text": "What is 2+2?"}}))
	msg := readUntil(t, conn, terminalUpdate)

	var u struct {
		State string    `json:"state"`
		Turn  chat.Turn `json:"turn"`
	}
	require.NoError(t, json.Unmarshal(msg.Data, &u))
	require.Equal(t, "complete", u.State)
	require.Equal(t, "4", u.Turn.Text)
}

func TestWebSocketRecordingAttachesToNextSend(t *testing.T) {
	adapter := &fakeAdapter{name: "ark", fragments: []string{"听到了"}}
	r, _ := setupRouter(adapter)
	srv := httptest.NewServer(r)
	defer srv.Close()
	session := createSession(t, srv.Config.Handler, "")

	conn := dial(t, srv, session.ID)
	readUntil(t, conn, ofType("connected"))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "record_start", "data": map[string]string{"mimeType": "audio/ogg"}}))
	readUntil(t, conn, ofType("recording"))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("abc")))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("def")))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "record_stop"}))

	msg := readUntil(t, conn, ofType("attachment"))
	var info attachmentInfo
	require.NoError(t, json.Unmarshal(msg.Data, &info))
	require.Equal(t, "audio/ogg", info.MimeType)
	require.Equal(t, chat.AttachmentAudio, info.Type)
	require.Equal(t, 1, info.Pending)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "send", "data": map[string]string{"text": "听一下"}}))
	readUntil(t, conn, terminalUpdate)

	reqs := adapter.requests()
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].NewAttachments, 1)
	require.Equal(t, "audio/ogg", reqs[0].NewAttachments[0].MimeType)
	require.Equal(t, "YWJjZGVm", reqs[0].NewAttachments[0].Data)
}

func TestWebSocketErrors(t *testing.T) {
	r, _ := setupRouter(&fakeAdapter{name: "ark"})
	srv := httptest.NewServer(r)
	defer srv.Close()
	session := createSession(t, srv.Config.Handler, "")

	conn := dial(t, srv, session.ID)
	readUntil(t, conn, ofType("connected"))

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("stray")))
	readUntil(t, conn, ofType("error"))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "dance"}))
	readUntil(t, conn, ofType("error"))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "clear"}))
	msg := readUntil(t, conn, ofType("cleared"))
	require.Contains(t, string(msg.Data), `"cleared":true`)
}

func TestWebSocketUnknownSession(t *testing.T) {
	r, _ := setupRouter(&fakeAdapter{name: "ark"})
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/missing/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Equal(t, 404, resp.StatusCode)
}
