package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/z-widget/backend/internal/handler/widget"
	middlewarePkg "github.com/zhouzirui/z-widget/backend/internal/middleware"
	chatService "github.com/zhouzirui/z-widget/backend/internal/service/chat"
	"github.com/zhouzirui/z-widget/backend/pkg/utils"
)

// NewRouter wires HTTP routes to the widget service.
func NewRouter(widgets *chatService.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"widgets": widgets.Len(),
		})
	})

	widgetHandler := widget.New(widgets)
	r.Route("/api", func(api chi.Router) {
		widgetHandler.RegisterRoutes(api)
	})

	return r
}
