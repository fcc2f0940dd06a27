package session

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/studypal/backend/internal/model/chat"
	"github.com/zhouzirui/studypal/backend/internal/service/channel"
	"github.com/zhouzirui/studypal/backend/internal/service/transcript"
)

// InterruptionMarker is appended to partial text when a cycle fails.
const InterruptionMarker = "\n\n(连接中断，请重试)"

// State is the phase of one response cycle.
type State string

const (
	StateIdle                  State = "idle"
	StateAwaitingFirstFragment State = "awaiting_first_fragment"
	StateStreaming             State = "streaming"
	StateComplete              State = "complete"
	StateFailed                State = "failed"
)

// Terminal reports whether no further updates follow.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// Update is emitted whenever the transcript changes during a send.
type Update struct {
	State    State     `json:"state"`
	Turn     chat.Turn `json:"turn"`
	Fragment string    `json:"fragment,omitempty"`
	Provider string    `json:"provider,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Observer receives updates synchronously, in order.
type Observer func(Update)

// Result is the terminal outcome of a cycle.
type Result struct {
	State State
	Turn  chat.Turn
	Err   error
}

// Opener starts the upstream call once the placeholder exists.
type Opener func(ctx context.Context) (*channel.Reader, error)

// Reconciler merges a fragment channel into a transcript through a single
// placeholder turn.
type Reconciler struct {
	store *transcript.Store
	log   logrus.FieldLogger
}

// NewReconciler binds a reconciler to a store.
func NewReconciler(store *transcript.Store, log logrus.FieldLogger) *Reconciler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Reconciler{store: store, log: log}
}

// Run appends an empty MODEL placeholder, then replaces its text with the
// running concatenation of fragments. A failure keeps the partial text and
// appends InterruptionMarker. Run never returns an error of its own; the
// failure is reported in Result.
func (r *Reconciler) Run(ctx context.Context, providerName string, open Opener, observe Observer) Result {
	placeholder := chat.NewTurn(chat.RoleModel, "", nil)
	r.store.Append(placeholder)
	emit(observe, Update{State: StateAwaitingFirstFragment, Turn: placeholder, Provider: providerName})

	log := r.log.WithFields(logrus.Fields{"turn": placeholder.ID, "provider": providerName})

	reader, err := open(ctx)
	if err != nil {
		return r.fail(log, placeholder, "", providerName, err, observe)
	}
	defer reader.Close()

	var acc strings.Builder
	for {
		fragment, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return r.fail(log, placeholder, acc.String(), providerName, err, observe)
		}

		acc.WriteString(fragment)
		r.store.SetText(placeholder.ID, acc.String())

		turn := placeholder
		turn.Text = acc.String()
		emit(observe, Update{State: StateStreaming, Turn: turn, Fragment: fragment, Provider: providerName})
	}

	final := placeholder
	final.Text = acc.String()
	log.WithField("length", len(final.Text)).Info("response cycle complete")
	emit(observe, Update{State: StateComplete, Turn: final, Provider: providerName})
	return Result{State: StateComplete, Turn: final}
}

func (r *Reconciler) fail(log logrus.FieldLogger, placeholder chat.Turn, partial, providerName string, cause error, observe Observer) Result {
	log.WithError(cause).WithField("partial", len(partial)).Error("response cycle failed")

	final := placeholder
	final.Text = partial + InterruptionMarker
	r.store.UpdateText(placeholder.ID, func(current string) string {
		return current + InterruptionMarker
	})

	emit(observe, Update{State: StateFailed, Turn: final, Provider: providerName, Error: cause.Error()})
	return Result{State: StateFailed, Turn: final, Err: cause}
}

func emit(observe Observer, update Update) {
	if observe != nil {
		observe(update)
	}
}
