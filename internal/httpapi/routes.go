package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/colortag/server/internal/registry"
	"github.com/colortag/server/internal/ws"
)

func SetupRoutes(reg *registry.Registry, log *zap.Logger, origins []string) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", Healthz)

	r.Get("/session/new-id", NewSessionID(reg))
	r.Get("/session/{code}", ws.PlayerHandler(reg, log, origins))
	r.Get("/session/{code}/spectator", ws.SpectatorHandler(reg, log, origins))
	r.Get("/session/{code}/check_color", ws.ColorProbeHandler(reg, log, origins))

	return r
}
