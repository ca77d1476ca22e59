package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/scourhq/scour/internal/claims"
)

// ClaimsHandler exposes free-text search over the shared claim graph.
type ClaimsHandler struct {
	graph *claims.Graph
}

func NewClaimsHandler(graph *claims.Graph) *ClaimsHandler {
	return &ClaimsHandler{graph: graph}
}

func (h *ClaimsHandler) Register(g *echo.Group) {
	g.GET("/search", h.search)
}

func (h *ClaimsHandler) search(c echo.Context) error {
	query := strings.TrimSpace(c.QueryParam("q"))
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q required")
	}
	limit := parseLimit(c, 20)
	hits, err := h.graph.Search(query, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, searchClaimsResponse{
		Query:  query,
		Total:  len(hits),
		Claims: hits,
	})
}
