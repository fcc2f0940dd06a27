// Package provider adapts upstream LLM backends to the fragment channel
// contract. Each adapter turns a chat.Request into its provider-specific
// payload and returns the reply as a channel.Reader.
package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/studypal/backend/internal/model/chat"
	"github.com/zhouzirui/studypal/backend/internal/service/channel"
)

var (
	ErrNoProvider   = errors.New("no provider configured")
	ErrEmptyRequest = errors.New("request has no content")
)

// Adapter is one upstream backend.
type Adapter interface {
	Name() string
	Open(ctx context.Context, req chat.Request) (*channel.Reader, error)
}

// Registry resolves provider names to adapters.
type Registry struct {
	adapters map[string]Adapter
	order    []string
	fallback string
	log      logrus.FieldLogger
}

// NewRegistry registers adapters in order. The fallback is defaultName when
// it is registered, otherwise the first adapter.
func NewRegistry(defaultName string, log logrus.FieldLogger, adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters)), log: log}
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		name := normalize(adapter.Name())
		if _, dup := r.adapters[name]; dup {
			continue
		}
		r.adapters[name] = adapter
		r.order = append(r.order, name)
	}

	defaultName = normalize(defaultName)
	if _, ok := r.adapters[defaultName]; ok {
		r.fallback = defaultName
	} else if len(r.order) > 0 {
		r.fallback = r.order[0]
	}
	return r
}

// Resolve returns the adapter for name, falling back to the default for
// unknown or unconfigured names.
func (r *Registry) Resolve(name string) (Adapter, error) {
	resolved := r.ResolveName(name)
	if resolved == "" {
		return nil, ErrNoProvider
	}
	return r.adapters[resolved], nil
}

// ResolveName is Resolve without the adapter.
func (r *Registry) ResolveName(name string) string {
	key := normalize(name)
	if _, ok := r.adapters[key]; ok {
		return key
	}
	if key != "" && r.log != nil {
		r.log.WithFields(logrus.Fields{"requested": name, "provider": r.fallback}).Warn("unknown provider, using default")
	}
	return r.fallback
}

// Other returns the provider to ask for a second opinion: the first
// registered provider that differs from name, or name itself.
func (r *Registry) Other(name string) string {
	current := r.ResolveName(name)
	for _, candidate := range r.order {
		if candidate != current {
			return candidate
		}
	}
	return current
}

// Default returns the fallback provider name.
func (r *Registry) Default() string {
	return r.fallback
}

// Names lists registered providers in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
