package server

import (
	"encoding/json"
	"time"

	"github.com/scourhq/scour/internal/cache"
	"github.com/scourhq/scour/internal/claims"
	"github.com/scourhq/scour/internal/telemetry"
	"github.com/scourhq/scour/internal/trust"
)

// HTTPError mirrors the payload the unified error handler emits.
type HTTPError struct {
	Error string `json:"error"`
}

type startRunRequest struct {
	Query              string   `json:"query"`
	ObjectiveID        string   `json:"objective_id,omitempty"`
	Context            string   `json:"context,omitempty"`
	Mode               string   `json:"mode,omitempty"`
	KnownEntities      []string `json:"known_entities,omitempty"`
	KnownDomains       []string `json:"known_domains,omitempty"`
	RequiredConfidence float64  `json:"required_confidence,omitempty"`
	MaxPages           int      `json:"max_pages,omitempty"`
	MaxTimeSeconds     int      `json:"max_time_seconds,omitempty"`
}

type startRunResponse struct {
	Session string `json:"session"`
	Status  string `json:"status"`
}

// runSnapshotResponse is the one shape GET /api/runs/:id returns for live,
// finished and archived runs alike.
type runSnapshotResponse struct {
	Session  string                   `json:"session"`
	Status   string                   `json:"status"`
	Query    string                   `json:"query,omitempty"`
	Progress *telemetry.ProgressState `json:"progress,omitempty"`
	Report   json.RawMessage          `json:"report,omitempty"`
	Error    string                   `json:"error,omitempty"`
	Archived bool                     `json:"archived,omitempty"`
}

type runListItem struct {
	Session    string    `json:"session"`
	Query      string    `json:"query"`
	Mode       string    `json:"mode"`
	Status     string    `json:"status"`
	Confidence float64   `json:"confidence"`
	StartedAt  time.Time `json:"started_at"`
}

type runListResponse struct {
	Active   []runListItem `json:"active"`
	Finished []runListItem `json:"finished"`
}

type stopRunRequest struct {
	Detail string `json:"detail,omitempty"`
}

type searchClaimsResponse struct {
	Query  string          `json:"query"`
	Total  int             `json:"total"`
	Claims []*claims.Claim `json:"claims"`
}

// stateExport bundles every exportable component. Sections are optional on
// import; absent ones are left untouched.
type stateExport struct {
	Version    int            `json:"version"`
	ExportedAt time.Time      `json:"exported_at"`
	Trust      *trust.Export  `json:"trust,omitempty"`
	Claims     *claims.Export `json:"claims,omitempty"`
	Cache      *cache.Export  `json:"cache,omitempty"`
}

type stateImportResponse struct {
	Imported []string `json:"imported"`
	Source   string   `json:"source"`
}

type opsStatsResponse struct {
	ActiveRuns     int                `json:"active_runs"`
	FinishedRuns   int                `json:"finished_runs"`
	TrackedDomains int                `json:"tracked_domains"`
	Claims         claims.GraphStats  `json:"claims"`
	Caches         cache.ManagerStats `json:"caches"`
}
