package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/scourhq/scour/internal/research"
)

// ErrNotFound reports that the requested archive row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store archives finished runs and exported component state in Postgres.
// The research core never touches it: hosts persist reports after a run
// completes and restore snapshots before the next one starts.
type Store struct {
	DB *sql.DB
}

// Component names accepted by SaveSnapshot. Each maps to one exportable
// subsystem of the engine.
const (
	SnapshotTrust  = "trust"
	SnapshotClaims = "claims"
	SnapshotCache  = "cache"
)

// RunRecord is one archived run: the full structured report plus the
// scalar columns list queries filter and sort on.
type RunRecord struct {
	Session       string
	ObjectiveID   string
	PlanID        string
	Query         string
	Mode          string
	Status        string
	StopReason    string
	Confidence    float64
	PagesVisited  int
	ClaimsFound   int
	Verifications int
	KnownDomains  []string
	Report        json.RawMessage
	StartedAt     time.Time
	FinishedAt    time.Time
	CreatedAt     time.Time
}

// RunSummary is the lightweight view returned by ListRuns; the report
// payload stays in the row until someone asks for the full record.
type RunSummary struct {
	Session      string
	ObjectiveID  string
	Query        string
	Mode         string
	Status       string
	StopReason   string
	Confidence   float64
	PagesVisited int
	StartedAt    time.Time
	FinishedAt   time.Time
}

// StopConditionRecord is one archived stop condition for a session.
type StopConditionRecord struct {
	ID         int64
	Session    string
	Reason     research.StopReason
	Detail     string
	Confidence float64
	At         time.Time
}

// SnapshotRecord is one persisted component export serialized as JSON.
// The checksum is computed on write and verified on read.
type SnapshotRecord struct {
	ID        int64
	Session   string
	Component string
	Payload   json.RawMessage
	Checksum  string
	CreatedAt time.Time
}

// New opens a Postgres connection with the given DSN and verifies it.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.DB.Close() }

// SaveRun upserts an archived run keyed by session. Re-saving the same
// session replaces the mutable outcome columns, so a run that is archived
// at pause time and again at completion keeps a single row.
func (s *Store) SaveRun(ctx context.Context, rec RunRecord) error {
	if rec.Session == "" {
		return fmt.Errorf("session required")
	}
	if len(rec.Report) == 0 {
		return fmt.Errorf("report payload required")
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO runs (session, objective_id, plan_id, query, mode, status, stop_reason, confidence, pages_visited, claims_found, verifications, known_domains, report, started_at, finished_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,NOW())
ON CONFLICT (session) DO UPDATE SET
  status        = EXCLUDED.status,
  stop_reason   = EXCLUDED.stop_reason,
  confidence    = EXCLUDED.confidence,
  pages_visited = EXCLUDED.pages_visited,
  claims_found  = EXCLUDED.claims_found,
  verifications = EXCLUDED.verifications,
  report        = EXCLUDED.report,
  finished_at   = EXCLUDED.finished_at;
`, rec.Session, rec.ObjectiveID, rec.PlanID, rec.Query, rec.Mode, rec.Status, rec.StopReason,
		rec.Confidence, rec.PagesVisited, rec.ClaimsFound, rec.Verifications,
		pq.Array(rec.KnownDomains), rec.Report, rec.StartedAt, rec.FinishedAt)
	return err
}

// GetRun fetches one archived run by session. Returns ErrNotFound when
// the session was never archived.
func (s *Store) GetRun(ctx context.Context, session string) (RunRecord, error) {
	if session == "" {
		return RunRecord{}, fmt.Errorf("session required")
	}
	row := s.DB.QueryRowContext(ctx, `
SELECT session, objective_id, plan_id, query, mode, status, stop_reason, confidence, pages_visited, claims_found, verifications, known_domains, report, started_at, finished_at, created_at
FROM runs
WHERE session=$1
`, session)
	var rec RunRecord
	var domains pq.StringArray
	var report []byte
	err := row.Scan(&rec.Session, &rec.ObjectiveID, &rec.PlanID, &rec.Query, &rec.Mode,
		&rec.Status, &rec.StopReason, &rec.Confidence, &rec.PagesVisited, &rec.ClaimsFound,
		&rec.Verifications, &domains, &report, &rec.StartedAt, &rec.FinishedAt, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RunRecord{}, ErrNotFound
		}
		return RunRecord{}, err
	}
	rec.KnownDomains = []string(domains)
	rec.Report = append(json.RawMessage{}, report...)
	return rec, nil
}

// ListRuns returns archived run summaries, newest first. An empty
// objectiveID lists across all objectives.
func (s *Store) ListRuns(ctx context.Context, objectiveID string, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows *sql.Rows
	var err error
	if objectiveID == "" {
		rows, err = s.DB.QueryContext(ctx, `
SELECT session, objective_id, query, mode, status, stop_reason, confidence, pages_visited, started_at, finished_at
FROM runs
ORDER BY started_at DESC
LIMIT $1
`, limit)
	} else {
		rows, err = s.DB.QueryContext(ctx, `
SELECT session, objective_id, query, mode, status, stop_reason, confidence, pages_visited, started_at, finished_at
FROM runs
WHERE objective_id=$1
ORDER BY started_at DESC
LIMIT $2
`, objectiveID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.Session, &r.ObjectiveID, &r.Query, &r.Mode, &r.Status,
			&r.StopReason, &r.Confidence, &r.PagesVisited, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestRunTime reports when the objective last ran, for scheduler
// catch-up decisions. Nil when the objective has never been archived.
func (s *Store) LatestRunTime(ctx context.Context, objectiveID string) (*time.Time, error) {
	var ts *time.Time
	err := s.DB.QueryRowContext(ctx, `SELECT MAX(finished_at) FROM runs WHERE objective_id=$1`, objectiveID).Scan(&ts)
	return ts, err
}

// RecordStopCondition appends a stop condition observed for an archived
// session. The parent run row must exist.
func (s *Store) RecordStopCondition(ctx context.Context, session string, stop research.StopCondition) error {
	if session == "" {
		return fmt.Errorf("session required")
	}
	if stop.Reason == "" {
		return fmt.Errorf("stop reason required")
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO stop_conditions (session, reason, detail, confidence, at)
VALUES ($1,$2,$3,$4,$5)
`, session, string(stop.Reason), stop.Detail, stop.Confidence, stop.At)
	return err
}

// ListStopConditions returns the stop conditions recorded for a session,
// oldest first.
func (s *Store) ListStopConditions(ctx context.Context, session string) ([]StopConditionRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, session, reason, detail, confidence, at
FROM stop_conditions
WHERE session=$1
ORDER BY at ASC, id ASC
`, session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StopConditionRecord
	for rows.Next() {
		var rec StopConditionRecord
		var reason string
		if err := rows.Scan(&rec.ID, &rec.Session, &reason, &rec.Detail, &rec.Confidence, &rec.At); err != nil {
			return nil, err
		}
		rec.Reason = research.StopReason(reason)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveSnapshot persists one component export. Session may be empty for
// snapshots taken outside a run, such as a manual state export.
func (s *Store) SaveSnapshot(ctx context.Context, session, component string, payload json.RawMessage) (SnapshotRecord, error) {
	if !validComponent(component) {
		return SnapshotRecord{}, fmt.Errorf("unknown snapshot component %q", component)
	}
	if len(payload) == 0 {
		return SnapshotRecord{}, fmt.Errorf("snapshot payload required")
	}
	rec := SnapshotRecord{
		Session:   session,
		Component: component,
		Payload:   append(json.RawMessage{}, payload...),
		Checksum:  checksumHex(payload),
	}
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO state_snapshots (session, component, payload, checksum)
VALUES ($1,$2,$3,$4)
RETURNING id, created_at
`, rec.Session, rec.Component, rec.Payload, rec.Checksum).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return SnapshotRecord{}, err
	}
	return rec, nil
}

// LatestSnapshot returns the newest snapshot for a component and verifies
// its checksum. Returns ErrNotFound when the component has no snapshots.
func (s *Store) LatestSnapshot(ctx context.Context, component string) (SnapshotRecord, error) {
	if !validComponent(component) {
		return SnapshotRecord{}, fmt.Errorf("unknown snapshot component %q", component)
	}
	row := s.DB.QueryRowContext(ctx, `
SELECT id, session, component, payload, checksum, created_at
FROM state_snapshots
WHERE component=$1
ORDER BY created_at DESC, id DESC
LIMIT 1
`, component)
	var rec SnapshotRecord
	var payload []byte
	err := row.Scan(&rec.ID, &rec.Session, &rec.Component, &payload, &rec.Checksum, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SnapshotRecord{}, ErrNotFound
		}
		return SnapshotRecord{}, err
	}
	rec.Payload = append(json.RawMessage{}, payload...)
	if got := checksumHex(rec.Payload); got != rec.Checksum {
		return SnapshotRecord{}, fmt.Errorf("snapshot %d checksum mismatch: stored %s computed %s", rec.ID, rec.Checksum, got)
	}
	return rec, nil
}

// ListSnapshots returns snapshot metadata newest first. Payloads are not
// loaded; fetch the row you want with LatestSnapshot.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]SnapshotRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, session, component, checksum, created_at
FROM state_snapshots
ORDER BY created_at DESC, id DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SnapshotRecord
	for rows.Next() {
		var rec SnapshotRecord
		if err := rows.Scan(&rec.ID, &rec.Session, &rec.Component, &rec.Checksum, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PruneSnapshots deletes snapshots older than maxAge and reports how many
// rows were removed. maxAge <= 0 prunes nothing.
func (s *Store) PruneSnapshots(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	res, err := s.DB.ExecContext(ctx, `DELETE FROM state_snapshots WHERE created_at < $1`, time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func validComponent(c string) bool {
	switch c {
	case SnapshotTrust, SnapshotClaims, SnapshotCache:
		return true
	}
	return false
}

func checksumHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
