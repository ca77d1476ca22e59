package server

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/scourhq/scour/internal/cache"
	"github.com/scourhq/scour/internal/claims"
	"github.com/scourhq/scour/internal/research"
	"github.com/scourhq/scour/internal/store"
	"github.com/scourhq/scour/internal/trust"
)

func newStateComponents(t *testing.T) (*trust.Engine, *claims.Graph, *cache.Manager) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	return trust.NewEngine(logger), claims.NewGraph(logger), cache.NewManager(cache.DefaultConfig(), logger)
}

func seedState(trustEngine *trust.Engine, graph *claims.Graph) {
	trustEngine.RecordVisit("github.com", true)
	trustEngine.RecordVisit("crunchbase.com", true)
	graph.CreateClaim("fact", research.Text("based in Austin"), claims.Source{
		URL:    "https://github.com/initech",
		Domain: "github.com",
		Tier:   research.TierOfficial,
	}, "q1", research.CategoryGeneral)
}

func TestStateExportImportRoundTrip(t *testing.T) {
	t.Parallel()
	trustA, graphA, cachesA := newStateComponents(t)
	seedState(trustA, graphA)
	source := NewStateHandler(trustA, graphA, cachesA, nil, nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/state/export", nil)
	rec := httptest.NewRecorder()
	if err := source.exportState(e.NewContext(req, rec)); err != nil {
		t.Fatalf("exportState: %v", err)
	}
	var exported stateExport
	if err := json.Unmarshal(rec.Body.Bytes(), &exported); err != nil {
		t.Fatalf("export decode: %v", err)
	}
	if exported.Version != 1 || exported.Trust == nil || exported.Claims == nil || exported.Cache == nil {
		t.Fatalf("incomplete export: %+v", exported)
	}
	if len(exported.Trust.Scores) != 2 {
		t.Fatalf("expected 2 domain scores, got %d", len(exported.Trust.Scores))
	}

	trustB, graphB, cachesB := newStateComponents(t)
	target := NewStateHandler(trustB, graphB, cachesB, nil, nil)

	req = httptest.NewRequest(http.MethodPost, "/api/state/import", strings.NewReader(rec.Body.String()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec = httptest.NewRecorder()
	if err := target.importState(e.NewContext(req, rec)); err != nil {
		t.Fatalf("importState: %v", err)
	}
	var resp stateImportResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("import decode: %v", err)
	}
	if len(resp.Imported) != 3 || resp.Source != "request" {
		t.Fatalf("unexpected import response: %+v", resp)
	}
	if trustB.Len() != trustA.Len() {
		t.Fatalf("trust scores = %d, want %d", trustB.Len(), trustA.Len())
	}
	if got, want := graphB.Stats().Total, graphA.Stats().Total; got != want {
		t.Fatalf("claims = %d, want %d", got, want)
	}
}

func TestStateImportRejectsEmptyBody(t *testing.T) {
	t.Parallel()
	trustEngine, graph, caches := newStateComponents(t)
	handler := NewStateHandler(trustEngine, graph, caches, nil, nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/state/import", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	err := handler.importState(e.NewContext(req, httptest.NewRecorder()))
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 http error, got %#v", err)
	}
}

func TestStateExportPersistRequiresStore(t *testing.T) {
	t.Parallel()
	trustEngine, graph, caches := newStateComponents(t)
	handler := NewStateHandler(trustEngine, graph, caches, nil, nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/state/export?persist=true", nil)
	err := handler.exportState(e.NewContext(req, httptest.NewRecorder()))
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 http error, got %#v", err)
	}
}

func TestStateExportPersistsSnapshots(t *testing.T) {
	t.Parallel()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	insert := regexp.QuoteMeta(`
INSERT INTO state_snapshots (session, component, payload, checksum)
VALUES ($1,$2,$3,$4)
RETURNING id, created_at
`)
	now := time.Now()
	for i, component := range []string{store.SnapshotTrust, store.SnapshotClaims, store.SnapshotCache} {
		mock.ExpectQuery(insert).
			WithArgs("", component, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(i+1), now))
	}

	trustEngine, graph, caches := newStateComponents(t)
	seedState(trustEngine, graph)
	handler := NewStateHandler(trustEngine, graph, caches, &store.Store{DB: db}, nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/state/export?persist=true", nil)
	rec := httptest.NewRecorder()
	if err := handler.exportState(e.NewContext(req, rec)); err != nil {
		t.Fatalf("exportState: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStateImportFromArchive(t *testing.T) {
	t.Parallel()
	trustSeed, graphSeed, cachesSeed := newStateComponents(t)
	seedState(trustSeed, graphSeed)

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	query := regexp.QuoteMeta(`
SELECT id, session, component, payload, checksum, created_at
FROM state_snapshots
WHERE component=$1
ORDER BY created_at DESC, id DESC
LIMIT 1
`)
	now := time.Now()
	sections := []struct {
		component string
		payload   interface{}
	}{
		{store.SnapshotTrust, trustSeed.ExportState()},
		{store.SnapshotClaims, graphSeed.ExportState()},
		{store.SnapshotCache, cachesSeed.ExportState()},
	}
	for i, s := range sections {
		payload, err := json.Marshal(s.payload)
		if err != nil {
			t.Fatalf("marshal %s: %v", s.component, err)
		}
		sum := sha256.Sum256(payload)
		rows := sqlmock.NewRows([]string{"id", "session", "component", "payload", "checksum", "created_at"}).
			AddRow(int64(i+1), "", s.component, payload, hex.EncodeToString(sum[:]), now)
		mock.ExpectQuery(query).WithArgs(s.component).WillReturnRows(rows)
	}

	trustEngine, graph, caches := newStateComponents(t)
	handler := NewStateHandler(trustEngine, graph, caches, &store.Store{DB: db}, nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/state/import?source=archive", nil)
	rec := httptest.NewRecorder()
	if err := handler.importState(e.NewContext(req, rec)); err != nil {
		t.Fatalf("importState: %v", err)
	}
	var resp stateImportResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("import decode: %v", err)
	}
	if len(resp.Imported) != 3 || resp.Source != "archive" {
		t.Fatalf("unexpected import response: %+v", resp)
	}
	if trustEngine.Len() != 2 {
		t.Fatalf("trust scores = %d, want 2", trustEngine.Len())
	}
	if graph.Stats().Total != 1 {
		t.Fatalf("claims = %d, want 1", graph.Stats().Total)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStateImportFromEmptyArchive(t *testing.T) {
	t.Parallel()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	query := regexp.QuoteMeta(`
SELECT id, session, component, payload, checksum, created_at
FROM state_snapshots
WHERE component=$1
ORDER BY created_at DESC, id DESC
LIMIT 1
`)
	cols := []string{"id", "session", "component", "payload", "checksum", "created_at"}
	for _, component := range []string{store.SnapshotTrust, store.SnapshotClaims, store.SnapshotCache} {
		mock.ExpectQuery(query).WithArgs(component).WillReturnRows(sqlmock.NewRows(cols))
	}

	trustEngine, graph, caches := newStateComponents(t)
	handler := NewStateHandler(trustEngine, graph, caches, &store.Store{DB: db}, nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/state/import?source=archive", nil)
	err = handler.importState(e.NewContext(req, httptest.NewRecorder()))
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 http error, got %#v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
