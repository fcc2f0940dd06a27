package session

import (
	"context"
	"errors"
	"testing"

	"github.com/zhouzirui/studypal/backend/internal/logging"
	"github.com/zhouzirui/studypal/backend/internal/service/provider"
)

func newTestService() *Service {
	reg := provider.NewRegistry("ark", logging.Discard(),
		&scriptAdapter{name: "ark"}, &scriptAdapter{name: "openai"})
	return NewService(reg, logging.Discard())
}

func TestServiceGetSession(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "openai")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	got, err := svc.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession err: %v", err)
	}
	if got.ID != session.ID {
		t.Fatalf("unexpected session ID: got %s want %s", got.ID, session.ID)
	}
	if got.Provider != "openai" {
		t.Fatalf("unexpected provider: got %s", got.Provider)
	}
}

func TestServiceCreateSessionDefaultsProvider(t *testing.T) {
	svc := newTestService()

	session, err := svc.CreateSession(context.Background(), "")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	if session.Provider != "ark" {
		t.Fatalf("expected default provider, got %s", session.Provider)
	}
}

func TestServiceProviderFollowsController(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	session, _ := svc.CreateSession(ctx, "ark")
	ctrl, err := svc.Controller(ctx, session.ID)
	if err != nil {
		t.Fatalf("Controller err: %v", err)
	}
	ctrl.SetProvider("openai")

	got, _ := svc.GetSession(ctx, session.ID)
	if got.Provider != "openai" {
		t.Fatalf("expected provider to follow controller, got %s", got.Provider)
	}
}

func TestServiceSessionNotFound(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if _, err := svc.GetSession(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := svc.Controller(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := svc.DeleteSession(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestServiceDeleteSession(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	session, _ := svc.CreateSession(ctx, "")
	if err := svc.DeleteSession(ctx, session.ID); err != nil {
		t.Fatalf("DeleteSession err: %v", err)
	}
	if _, err := svc.GetSession(ctx, session.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected session to be gone, got %v", err)
	}
}
