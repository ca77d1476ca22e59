package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/scourhq/scour/internal/cache"
	"github.com/scourhq/scour/internal/claims"
	"github.com/scourhq/scour/internal/store"
	"github.com/scourhq/scour/internal/trust"
)

// StateHandler moves component state in and out of the process: JSON over
// the API for hosts, snapshot rows in the archive for durability.
type StateHandler struct {
	trust  *trust.Engine
	claims *claims.Graph
	caches *cache.Manager
	store  *store.Store
	logger *log.Logger
}

func NewStateHandler(trustEngine *trust.Engine, graph *claims.Graph, caches *cache.Manager, st *store.Store, logger *log.Logger) *StateHandler {
	if logger == nil {
		logger = log.New(log.Writer(), "[STATE] ", log.LstdFlags)
	}
	return &StateHandler{trust: trustEngine, claims: graph, caches: caches, store: st, logger: logger}
}

func (h *StateHandler) Register(g *echo.Group) {
	g.GET("/export", h.exportState)
	g.POST("/import", h.importState)
}

// exportState returns every component's state. With ?persist=true the
// sections are also written to the archive as snapshot rows.
func (h *StateHandler) exportState(c echo.Context) error {
	exp := stateExport{
		Version:    1,
		ExportedAt: time.Now().UTC(),
		Trust:      h.trust.ExportState(),
		Claims:     h.claims.ExportState(),
		Cache:      h.caches.ExportState(),
	}

	if c.QueryParam("persist") == "true" {
		if h.store == nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "archive not configured")
		}
		ctx := c.Request().Context()
		sections := []struct {
			component string
			payload   interface{}
		}{
			{store.SnapshotTrust, exp.Trust},
			{store.SnapshotClaims, exp.Claims},
			{store.SnapshotCache, exp.Cache},
		}
		for _, s := range sections {
			raw, err := json.Marshal(s.payload)
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
			}
			if _, err := h.store.SaveSnapshot(ctx, "", s.component, raw); err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
			}
		}
		h.logger.Printf("state persisted to archive (%d domains, %d claims)",
			len(exp.Trust.Scores), len(exp.Claims.Claims))
	}
	return c.JSON(http.StatusOK, exp)
}

// importState restores component state from the request body, or from the
// latest archive snapshots when ?source=archive. Absent sections are left
// untouched.
func (h *StateHandler) importState(c echo.Context) error {
	var exp stateExport
	if c.QueryParam("source") == "archive" {
		if h.store == nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "archive not configured")
		}
		loaded, err := h.loadArchived(c)
		if err != nil {
			return err
		}
		exp = loaded
	} else if err := c.Bind(&exp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if exp.Trust == nil && exp.Claims == nil && exp.Cache == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "no state sections provided")
	}

	resp := stateImportResponse{Source: "request"}
	if c.QueryParam("source") == "archive" {
		resp.Source = "archive"
	}
	if exp.Trust != nil {
		if err := h.trust.ImportState(exp.Trust); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "trust: "+err.Error())
		}
		resp.Imported = append(resp.Imported, store.SnapshotTrust)
	}
	if exp.Claims != nil {
		if err := h.claims.ImportState(exp.Claims); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "claims: "+err.Error())
		}
		resp.Imported = append(resp.Imported, store.SnapshotClaims)
	}
	if exp.Cache != nil {
		if err := h.caches.ImportState(exp.Cache); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "cache: "+err.Error())
		}
		resp.Imported = append(resp.Imported, store.SnapshotCache)
	}
	return c.JSON(http.StatusOK, resp)
}

// loadArchived pulls the newest snapshot per component. Missing components
// are skipped; a fully empty archive is a 404.
func (h *StateHandler) loadArchived(c echo.Context) (stateExport, error) {
	ctx := c.Request().Context()
	var exp stateExport
	found := 0

	if rec, err := h.store.LatestSnapshot(ctx, store.SnapshotTrust); err == nil {
		var section trust.Export
		if err := json.Unmarshal(rec.Payload, &section); err != nil {
			return exp, echo.NewHTTPError(http.StatusInternalServerError, "trust snapshot: "+err.Error())
		}
		exp.Trust = &section
		found++
	} else if !errors.Is(err, store.ErrNotFound) {
		return exp, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if rec, err := h.store.LatestSnapshot(ctx, store.SnapshotClaims); err == nil {
		var section claims.Export
		if err := json.Unmarshal(rec.Payload, &section); err != nil {
			return exp, echo.NewHTTPError(http.StatusInternalServerError, "claims snapshot: "+err.Error())
		}
		exp.Claims = &section
		found++
	} else if !errors.Is(err, store.ErrNotFound) {
		return exp, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if rec, err := h.store.LatestSnapshot(ctx, store.SnapshotCache); err == nil {
		var section cache.Export
		if err := json.Unmarshal(rec.Payload, &section); err != nil {
			return exp, echo.NewHTTPError(http.StatusInternalServerError, "cache snapshot: "+err.Error())
		}
		exp.Cache = &section
		found++
	} else if !errors.Is(err, store.ErrNotFound) {
		return exp, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if found == 0 {
		return exp, echo.NewHTTPError(http.StatusNotFound, "no snapshots archived")
	}
	return exp, nil
}
