package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/studypal/backend/internal/handler/chat"
	"github.com/zhouzirui/studypal/backend/internal/handler/session"
	"github.com/zhouzirui/studypal/backend/internal/handler/tutor"
	middlewarePkg "github.com/zhouzirui/studypal/backend/internal/middleware"
	tutorModel "github.com/zhouzirui/studypal/backend/internal/model/tutor"
	"github.com/zhouzirui/studypal/backend/internal/service/provider"
	sessionService "github.com/zhouzirui/studypal/backend/internal/service/session"
	"github.com/zhouzirui/studypal/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(tutors tutorModel.Store, registry *provider.Registry, sessions *sessionService.Service, log logrus.FieldLogger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"providers": registry.Names(),
		})
	})

	r.Route("/api", func(api chi.Router) {
		tutor.New(tutors).RegisterRoutes(api)
		chat.New(registry, log).RegisterRoutes(api)
		session.New(sessions, log).RegisterRoutes(api)
	})

	return r
}
