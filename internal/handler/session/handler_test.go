package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/studypal/backend/internal/logging"
	"github.com/zhouzirui/studypal/backend/internal/model/chat"
	"github.com/zhouzirui/studypal/backend/internal/service/channel"
	"github.com/zhouzirui/studypal/backend/internal/service/provider"
	sessionService "github.com/zhouzirui/studypal/backend/internal/service/session"
)

type fakeAdapter struct {
	name      string
	fragments []string
	err       error

	mu   sync.Mutex
	reqs []chat.Request
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Open(_ context.Context, req chat.Request) (*channel.Reader, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()

	sr, sw := schema.Pipe[string](len(f.fragments) + 1)
	for _, fragment := range f.fragments {
		sw.Send(fragment, nil)
	}
	if f.err != nil {
		sw.Send("", f.err)
	}
	sw.Close()
	return sr, nil
}

func (f *fakeAdapter) requests() []chat.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.Request(nil), f.reqs...)
}

func setupRouter(adapters ...provider.Adapter) (*chi.Mux, *sessionService.Service) {
	reg := provider.NewRegistry("ark", logging.Discard(), adapters...)
	svc := sessionService.NewService(reg, logging.Discard())

	r := chi.NewRouter()
	New(svc, logging.Discard()).RegisterRoutes(r)
	return r, svc
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func createSession(t *testing.T, r http.Handler, body string) chat.Session {
	t.Helper()
	resp := do(r, http.MethodPost, "/sessions", body)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var session chat.Session
	if err := json.Unmarshal(resp.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return session
}

func getView(t *testing.T, r http.Handler, id string) sessionService.View {
	t.Helper()
	resp := do(r, http.MethodGet, "/sessions/"+id, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var view sessionService.View
	if err := json.Unmarshal(resp.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	return view
}

func TestCreateSession(t *testing.T) {
	r, _ := setupRouter(&fakeAdapter{name: "ark"}, &fakeAdapter{name: "openai"})

	if s := createSession(t, r, ""); s.Provider != "ark" {
		t.Fatalf("expected default provider, got %s", s.Provider)
	}
	if s := createSession(t, r, `{"provider":"openai"}`); s.Provider != "openai" {
		t.Fatalf("expected openai, got %s", s.Provider)
	}
	if resp := do(r, http.MethodPost, "/sessions", "{"); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestSendStreamsUpdates(t *testing.T) {
	r, _ := setupRouter(&fakeAdapter{name: "ark", fragments: []string{"4"}})
	session := createSession(t, r, "")

	resp := do(r, http.MethodPost, "/sessions/"+session.ID+"/messages", `{"text":"What is 2+2?"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if got := resp.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("unexpected content type %q", got)
	}

	body := resp.Body.String()
	for _, state := range []string{`"state":"idle"`, `"state":"awaiting_first_fragment"`, `"state":"streaming"`, `"state":"complete"`} {
		if !strings.Contains(body, state) {
			t.Fatalf("missing %s in %q", state, body)
		}
	}

	complete := strings.Index(body, `"state":"complete"`)
	end := strings.Index(body, "event: end")
	if end < complete || strings.Count(body, "event: end") != 1 {
		t.Fatalf("expected exactly one end event after the terminal update in %q", body)
	}

	view := getView(t, r, session.ID)
	if len(view.Turns) != 2 || view.Turns[1].Text != "4" || view.IsLoading {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestCreateSessionWithChunkedEmptyBody(t *testing.T) {
	r, _ := setupRouter(&fakeAdapter{name: "ark"})

	// Wrapping the reader hides its length, so the request is sent chunked.
	req := httptest.NewRequest(http.MethodPost, "/sessions", struct{ io.Reader }{strings.NewReader("")})
	if req.ContentLength != -1 {
		t.Fatalf("expected unknown content length, got %d", req.ContentLength)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestGetSessionIncludesCreatedAt(t *testing.T) {
	r, _ := setupRouter(&fakeAdapter{name: "ark"})
	session := createSession(t, r, "")

	resp := do(r, http.MethodGet, "/sessions/"+session.ID, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var got struct {
		SessionID string    `json:"sessionId"`
		CreatedAt time.Time `json:"createdAt"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SessionID != session.ID || !got.CreatedAt.Equal(session.CreatedAt) {
		t.Fatalf("unexpected session view %+v, want created %v", got, session.CreatedAt)
	}

	if resp := do(r, http.MethodGet, "/sessions/missing", ""); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestSendValidation(t *testing.T) {
	r, _ := setupRouter(&fakeAdapter{name: "ark"})
	session := createSession(t, r, "")

	cases := []struct {
		path string
		body string
		want int
	}{
		{"/sessions/missing/messages", `{"text":"hi"}`, http.StatusNotFound},
		{"/sessions/" + session.ID + "/messages", `{"text":" "}`, http.StatusBadRequest},
		{"/sessions/" + session.ID + "/messages", `{"text":"x","attachments":[{"mimeType":"image/png"}]}`, http.StatusBadRequest},
		{"/sessions/" + session.ID + "/capture", `{"dataUrl":"garbage"}`, http.StatusBadRequest},
		{"/sessions/" + session.ID + "/ask-other", ``, http.StatusBadRequest},
	}
	for _, tc := range cases {
		if resp := do(r, http.MethodPost, tc.path, tc.body); resp.Code != tc.want {
			t.Fatalf("%s %s: expected %d, got %d", tc.path, tc.body, tc.want, resp.Code)
		}
	}

	if view := getView(t, r, session.ID); len(view.Turns) != 0 {
		t.Fatalf("rejected requests must not mutate the transcript, got %d turns", len(view.Turns))
	}
}

func TestSendBusy(t *testing.T) {
	r, svc := setupRouter(&fakeAdapter{name: "ark", fragments: []string{"ok"}})
	session := createSession(t, r, "")
	ctrl, _ := svc.Controller(context.Background(), session.ID)

	var inner *httptest.ResponseRecorder
	_, err := ctrl.Send(context.Background(), "first", nil, "", func(u sessionService.Update) {
		if u.State == sessionService.StateAwaitingFirstFragment && inner == nil {
			inner = do(r, http.MethodPost, "/sessions/"+session.ID+"/messages", `{"text":"second"}`)
		}
	})
	if err != nil {
		t.Fatalf("Send err: %v", err)
	}
	if inner == nil || inner.Code != http.StatusConflict {
		t.Fatalf("expected 409 while in flight, got %+v", inner)
	}
	if view := getView(t, r, session.ID); len(view.Turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(view.Turns))
	}
}

func TestSendFailureWritesMarker(t *testing.T) {
	r, _ := setupRouter(&fakeAdapter{name: "ark", fragments: []string{"The capital"}, err: errors.New("reset")})
	session := createSession(t, r, "")

	body := do(r, http.MethodPost, "/sessions/"+session.ID+"/messages", `{"text":"capital?"}`).Body.String()
	if !strings.Contains(body, `"state":"failed"`) {
		t.Fatalf("expected failed update in %q", body)
	}

	view := getView(t, r, session.ID)
	if view.Turns[1].Text != "The capital"+sessionService.InterruptionMarker {
		t.Fatalf("unexpected text %q", view.Turns[1].Text)
	}
}

func TestCaptureAndAskOther(t *testing.T) {
	ark := &fakeAdapter{name: "ark", fragments: []string{"first"}}
	openai := &fakeAdapter{name: "openai", fragments: []string{"second"}}
	r, _ := setupRouter(ark, openai)
	session := createSession(t, r, "")

	resp := do(r, http.MethodPost, "/sessions/"+session.ID+"/capture", `{"dataUrl":"data:image/jpeg;base64,aGVsbG8="}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("capture: expected 200, got %d", resp.Code)
	}
	resp = do(r, http.MethodPost, "/sessions/"+session.ID+"/ask-other", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("ask-other: expected 200, got %d", resp.Code)
	}

	view := getView(t, r, session.ID)
	if len(view.Turns) != 3 || view.Turns[1].Text != "first" || view.Turns[2].Text != "second" {
		t.Fatalf("unexpected turns %+v", view.Turns)
	}
	reqs := openai.requests()
	if len(reqs) != 1 || len(reqs[0].NewAttachments) != 1 || reqs[0].NewAttachments[0].Data != "aGVsbG8=" {
		t.Fatalf("ask-other did not resend the capture: %+v", reqs)
	}
}

func TestClearRequiresConfirm(t *testing.T) {
	r, _ := setupRouter(&fakeAdapter{name: "ark", fragments: []string{"hi"}})
	session := createSession(t, r, "")
	path := "/sessions/" + session.ID + "/messages"

	if resp := do(r, http.MethodDelete, path, ""); resp.Code != http.StatusOK {
		t.Fatalf("clearing an empty transcript: expected 200, got %d", resp.Code)
	}

	do(r, http.MethodPost, path, `{"text":"hello"}`)

	if resp := do(r, http.MethodDelete, path, ""); resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 without confirm, got %d", resp.Code)
	}
	if view := getView(t, r, session.ID); len(view.Turns) != 2 {
		t.Fatalf("transcript must be unchanged, got %d turns", len(view.Turns))
	}

	if resp := do(r, http.MethodDelete, path+"?confirm=true", ""); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 with confirm, got %d", resp.Code)
	}
	if view := getView(t, r, session.ID); len(view.Turns) != 0 {
		t.Fatalf("expected empty transcript, got %d turns", len(view.Turns))
	}
}

func TestSetProviderAndDelete(t *testing.T) {
	r, _ := setupRouter(&fakeAdapter{name: "ark"}, &fakeAdapter{name: "openai"})
	session := createSession(t, r, "")

	resp := do(r, http.MethodPost, "/sessions/"+session.ID+"/provider", `{"provider":"openai"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if view := getView(t, r, session.ID); view.Provider != "openai" {
		t.Fatalf("expected openai, got %s", view.Provider)
	}

	if resp := do(r, http.MethodDelete, "/sessions/"+session.ID, ""); resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	if resp := do(r, http.MethodGet, "/sessions/"+session.ID, ""); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}
