package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/studypal/backend/internal/model/chat"
	"github.com/zhouzirui/studypal/backend/internal/service/attachment"
	"github.com/zhouzirui/studypal/backend/internal/service/channel"
	"github.com/zhouzirui/studypal/backend/internal/service/prompt"
	"github.com/zhouzirui/studypal/backend/internal/service/provider"
	"github.com/zhouzirui/studypal/backend/internal/service/transcript"
)

var (
	ErrBusy             = errors.New("a response is already in progress")
	ErrEmptyMessage     = errors.New("message has no text and no attachments")
	ErrNoUserTurn       = errors.New("no user turn to resend")
	ErrMalformedCapture = errors.New("malformed capture")
)

// View is a point-in-time copy of a session for rendering.
type View struct {
	SessionID string      `json:"sessionId"`
	Turns     []chat.Turn `json:"turns"`
	IsLoading bool        `json:"isLoading"`
	Provider  string      `json:"provider"`
}

// Controller drives one conversation. At most one response cycle runs at a
// time; the in-flight flag is cleared only after the cycle reaches a
// terminal state.
type Controller struct {
	id         string
	store      *transcript.Store
	registry   *provider.Registry
	reconciler *Reconciler
	log        logrus.FieldLogger

	mu       sync.Mutex
	inFlight bool
	provider string
}

// NewController 创建一个会话控制器，providerName 为空时使用默认提供方。
func NewController(id string, registry *provider.Registry, providerName string, log logrus.FieldLogger) *Controller {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("session", id)
	store := transcript.New()

	return &Controller{
		id:         id,
		store:      store,
		registry:   registry,
		reconciler: NewReconciler(store, log),
		log:        log,
		provider:   registry.ResolveName(providerName),
	}
}

// ID returns the session identifier.
func (c *Controller) ID() string {
	return c.id
}

// Send appends a USER turn and runs a response cycle against providerName,
// or the session's provider when providerName is empty.
func (c *Controller) Send(ctx context.Context, text string, attachments []chat.Attachment, providerName string, observe Observer) (Result, error) {
	if strings.TrimSpace(text) == "" && len(attachments) == 0 {
		return Result{}, ErrEmptyMessage
	}
	if !c.begin() {
		return Result{}, ErrBusy
	}
	defer c.end()

	history := c.store.Turns()
	user := chat.NewTurn(chat.RoleUser, text, attachments)
	c.store.Append(user)

	name := c.resolve(providerName)
	emit(observe, Update{State: StateIdle, Turn: user, Provider: name})

	return c.cycle(ctx, history, user, name, observe), nil
}

// SendCapture sends a camera capture with the default prompt. A malformed
// capture leaves the transcript untouched.
func (c *Controller) SendCapture(ctx context.Context, dataURL string, observe Observer) (Result, error) {
	att, err := attachment.FromDataURL(dataURL)
	return c.sendCaptured(ctx, att, err, observe)
}

// SendFrame encodes a still frame as JPEG and sends it like SendCapture.
func (c *Controller) SendFrame(ctx context.Context, frame image.Image, observe Observer) (Result, error) {
	att, err := attachment.FromFrame(frame)
	return c.sendCaptured(ctx, att, err, observe)
}

func (c *Controller) sendCaptured(ctx context.Context, att chat.Attachment, err error, observe Observer) (Result, error) {
	if err != nil {
		c.log.WithError(err).Error("failed to process capture")
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedCapture, err)
	}
	return c.Send(ctx, prompt.CapturePrompt, []chat.Attachment{att}, "", observe)
}

// AskOther re-sends the last USER turn to the other provider. Only a new
// MODEL placeholder is appended.
func (c *Controller) AskOther(ctx context.Context, observe Observer) (Result, error) {
	if !c.begin() {
		return Result{}, ErrBusy
	}
	defer c.end()

	user, idx, ok := c.store.LastOf(chat.RoleUser)
	if !ok {
		return Result{}, ErrNoUserTurn
	}
	history := c.store.Turns()
	if idx > len(history) {
		return Result{}, ErrNoUserTurn
	}
	history = history[:idx]

	return c.cycle(ctx, history, user, c.OtherProvider(), observe), nil
}

// OtherProvider names the provider AskOther would use.
func (c *Controller) OtherProvider() string {
	return c.registry.Other(c.Provider())
}

// Clear empties the transcript once confirm agrees.
func (c *Controller) Clear(confirm func() bool) bool {
	cleared := c.store.Clear(confirm)
	if cleared {
		c.log.Info("transcript cleared")
	}
	return cleared
}

// SetProvider switches the session's provider and returns the resolved name.
func (c *Controller) SetProvider(name string) string {
	resolved := c.registry.ResolveName(name)
	c.mu.Lock()
	c.provider = resolved
	c.mu.Unlock()
	return resolved
}

// Provider returns the session's current provider.
func (c *Controller) Provider() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.provider
}

// IsLoading reports whether a cycle is in flight.
func (c *Controller) IsLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Snapshot returns a copy of the session for rendering.
func (c *Controller) Snapshot() View {
	c.mu.Lock()
	loading, name := c.inFlight, c.provider
	c.mu.Unlock()

	return View{
		SessionID: c.id,
		Turns:     c.store.Turns(),
		IsLoading: loading,
		Provider:  name,
	}
}

func (c *Controller) cycle(ctx context.Context, history []chat.Turn, user chat.Turn, name string, observe Observer) Result {
	req := chat.NewRequest(history, user.Text, user.Attachments, name)
	c.log.WithFields(logrus.Fields{"provider": name, "history": len(history)}).Debug("starting response cycle")

	return c.reconciler.Run(ctx, name, func(ctx context.Context) (*channel.Reader, error) {
		adapter, err := c.registry.Resolve(name)
		if err != nil {
			return nil, err
		}
		return adapter.Open(ctx, req)
	}, observe)
}

func (c *Controller) resolve(name string) string {
	if strings.TrimSpace(name) == "" {
		return c.Provider()
	}
	return c.registry.ResolveName(name)
}

func (c *Controller) begin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight {
		return false
	}
	c.inFlight = true
	return true
}

func (c *Controller) end() {
	c.mu.Lock()
	c.inFlight = false
	c.mu.Unlock()
}
