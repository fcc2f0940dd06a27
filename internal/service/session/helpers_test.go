package session

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/studypal/backend/internal/logging"
	"github.com/zhouzirui/studypal/backend/internal/model/chat"
	"github.com/zhouzirui/studypal/backend/internal/service/channel"
	"github.com/zhouzirui/studypal/backend/internal/service/provider"
)

// scriptAdapter replays fixed fragments, optionally ending with err.
type scriptAdapter struct {
	name      string
	fragments []string
	err       error
	openErr   error

	mu       sync.Mutex
	requests []chat.Request
}

func (a *scriptAdapter) Name() string { return a.name }

func (a *scriptAdapter) Open(_ context.Context, req chat.Request) (*channel.Reader, error) {
	a.mu.Lock()
	a.requests = append(a.requests, req)
	a.mu.Unlock()

	if a.openErr != nil {
		return nil, a.openErr
	}

	sr, sw := schema.Pipe[string](len(a.fragments) + 1)
	for _, f := range a.fragments {
		sw.Send(f, nil)
	}
	if a.err != nil {
		sw.Send("", a.err)
	}
	sw.Close()
	return sr, nil
}

func (a *scriptAdapter) calls() []chat.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]chat.Request(nil), a.requests...)
}

// gatedAdapter holds its reply until release is closed.
type gatedAdapter struct {
	name    string
	opened  chan struct{}
	release chan struct{}

	mu    sync.Mutex
	count int
}

func newGatedAdapter(name string) *gatedAdapter {
	return &gatedAdapter{name: name, opened: make(chan struct{}, 8), release: make(chan struct{})}
}

func (a *gatedAdapter) Name() string { return a.name }

func (a *gatedAdapter) Open(context.Context, chat.Request) (*channel.Reader, error) {
	a.mu.Lock()
	a.count++
	a.mu.Unlock()

	sr, sw := schema.Pipe[string](1)
	go func() {
		defer sw.Close()
		<-a.release
		sw.Send("done", nil)
	}()
	a.opened <- struct{}{}
	return sr, nil
}

func (a *gatedAdapter) opens() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

func newTestController(adapters ...provider.Adapter) *Controller {
	reg := provider.NewRegistry("ark", logging.Discard(), adapters...)
	return NewController("test-session", reg, "", logging.Discard())
}
