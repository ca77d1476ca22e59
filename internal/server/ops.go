package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/scourhq/scour/internal/cache"
	"github.com/scourhq/scour/internal/claims"
	"github.com/scourhq/scour/internal/trust"
)

// OpsHandler exposes operational counters for dashboards and smoke checks.
type OpsHandler struct {
	runs   *RunsHandler
	trust  *trust.Engine
	claims *claims.Graph
	caches *cache.Manager
}

func NewOpsHandler(runs *RunsHandler, trustEngine *trust.Engine, graph *claims.Graph, caches *cache.Manager) *OpsHandler {
	return &OpsHandler{runs: runs, trust: trustEngine, claims: graph, caches: caches}
}

func (h *OpsHandler) Register(g *echo.Group) {
	g.GET("/stats", h.stats)
}

func (h *OpsHandler) stats(c echo.Context) error {
	active, finished := h.runs.counts()
	return c.JSON(http.StatusOK, opsStatsResponse{
		ActiveRuns:     active,
		FinishedRuns:   finished,
		TrackedDomains: h.trust.Len(),
		Claims:         h.claims.Stats(),
		Caches:         h.caches.Stats(),
	})
}

func (h *RunsHandler) counts() (active, finished int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.active), len(h.history)
}
