package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/devblac/otc-reconciler/internal/engine"
	"github.com/devblac/otc-reconciler/internal/source"
	_ "modernc.org/sqlite"
)

// Run states recorded in the runs table.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunCancelled = "cancelled"
	RunFailed    = "failed"
)

// Store wraps SQLite-backed persistence for cached observations, run
// history, and alert dedupe.
type Store struct {
	db     *sql.DB
	obsTTL time.Duration
	now    func() time.Time
}

// Open initializes a SQLite database and runs minimal schema setup.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

// SetObservationTTL makes cached observations older than ttl read as misses.
// Zero keeps them forever.
func (s *Store) SetObservationTTL(ttl time.Duration) {
	s.obsTTL = ttl
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	return s.db.PingContext(ctx)
}

func configure(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	schema := `
CREATE TABLE IF NOT EXISTS observations (
  network       TEXT NOT NULL,
  hash_key      TEXT NOT NULL,
  payload_json  TEXT NOT NULL,
  cached_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY(network, hash_key)
);

CREATE TABLE IF NOT EXISTS runs (
  id           TEXT PRIMARY KEY,
  ledger       TEXT NOT NULL,
  status       TEXT NOT NULL,
  total        INTEGER NOT NULL DEFAULT 0,
  ok_count     INTEGER NOT NULL DEFAULT 0,
  attention    INTEGER NOT NULL DEFAULT 0,
  started_at   TIMESTAMP NOT NULL,
  finished_at  TIMESTAMP
);

CREATE TABLE IF NOT EXISTS outcomes (
  run_id          TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
  hash_key        TEXT NOT NULL,
  classification  TEXT NOT NULL,
  payload_json    TEXT NOT NULL,
  checked_at      TIMESTAMP NOT NULL,
  PRIMARY KEY(run_id, hash_key)
);

CREATE TABLE IF NOT EXISTS dedupe (
  key         TEXT PRIMARY KEY,
  expires_at  TIMESTAMP NOT NULL
);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// GetObservation returns a cached observation for a network and canonical hash key.
func (s *Store) GetObservation(ctx context.Context, network source.Network, key string) (*source.Observation, bool, error) {
	var (
		payload  string
		cachedAt time.Time
	)
	err := s.db.QueryRowContext(ctx, `
SELECT payload_json, cached_at FROM observations WHERE network = ? AND hash_key = ?;
`, string(network), key).Scan(&payload, &cachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get observation: %w", err)
	}
	if s.obsTTL > 0 && !cachedAt.Add(s.obsTTL).After(s.now().UTC()) {
		return nil, false, nil
	}
	var obs source.Observation
	if err := json.Unmarshal([]byte(payload), &obs); err != nil {
		return nil, false, fmt.Errorf("decode observation: %w", err)
	}
	return &obs, true, nil
}

// PutObservation stores or replaces a cached observation.
func (s *Store) PutObservation(ctx context.Context, network source.Network, key string, obs *source.Observation) error {
	if key == "" || obs == nil {
		return errors.New("key and observation required")
	}
	payload, err := json.Marshal(obs)
	if err != nil {
		return fmt.Errorf("encode observation: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO observations (network, hash_key, payload_json, cached_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(network, hash_key) DO UPDATE SET
  payload_json=excluded.payload_json,
  cached_at=excluded.cached_at;
`, string(network), key, string(payload), s.now().UTC())
	if err != nil {
		return fmt.Errorf("put observation: %w", err)
	}
	return nil
}

// ClearObservations drops every cached observation and reports how many were removed.
func (s *Store) ClearObservations(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM observations;`)
	if err != nil {
		return 0, fmt.Errorf("clear observations: %w", err)
	}
	return res.RowsAffected()
}

// Run is one reconciliation pass over a ledger file.
type Run struct {
	ID         string
	Ledger     string
	Status     string
	Total      int
	OK         int
	Attention  int
	StartedAt  time.Time
	FinishedAt time.Time
}

// StartRun records a new run in the running state.
func (s *Store) StartRun(ctx context.Context, r Run) error {
	if r.ID == "" {
		return errors.New("run id required")
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs (id, ledger, status, total, started_at)
VALUES (?, ?, ?, ?, ?);
`, r.ID, r.Ledger, RunRunning, r.Total, r.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun closes a run and stores its summary counts, computed from the
// outcomes saved so far.
func (s *Store) FinishRun(ctx context.Context, id, status string, finishedAt time.Time) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		var ok, attention int
		err := tx.QueryRowContext(ctx, `
SELECT
  COALESCE(SUM(CASE WHEN classification = ? THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN classification <> ? THEN 1 ELSE 0 END), 0)
FROM outcomes WHERE run_id = ?;
`, string(engine.TagOK), string(engine.TagOK), id).Scan(&ok, &attention)
		if err != nil {
			return fmt.Errorf("count outcomes: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
UPDATE runs SET status = ?, ok_count = ?, attention = ?, finished_at = ?
WHERE id = ?;
`, status, ok, attention, finishedAt.UTC(), id)
		if err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("finish run: unknown run %q", id)
		}
		return nil
	})
}

// ListRuns returns the most recent runs first. limit <= 0 means all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, ledger, status, total, ok_count, attention, started_at, finished_at
FROM runs ORDER BY started_at DESC, id DESC LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Ledger, &r.Status, &r.Total, &r.OK, &r.Attention, &r.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if finished.Valid {
			r.FinishedAt = finished.Time
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestRunID returns the id of the most recently started run.
func (s *Store) LatestRunID(ctx context.Context) (string, bool, error) {
	runs, err := s.ListRuns(ctx, 1)
	if err != nil || len(runs) == 0 {
		return "", false, err
	}
	return runs[0].ID, true, nil
}

// SaveOutcome stores an outcome under its run; saving the same key twice
// in one run keeps the latest.
func (s *Store) SaveOutcome(ctx context.Context, o engine.Outcome) error {
	if o.RunID == "" || o.Key == "" {
		return errors.New("outcome run_id and key required")
	}
	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	checked := o.CheckedAt
	if checked.IsZero() {
		checked = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO outcomes (run_id, hash_key, classification, payload_json, checked_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(run_id, hash_key) DO UPDATE SET
  classification=excluded.classification,
  payload_json=excluded.payload_json,
  checked_at=excluded.checked_at;
`, o.RunID, o.Key, string(o.Classification), string(payload), checked.UTC())
	if err != nil {
		return fmt.Errorf("save outcome: %w", err)
	}
	return nil
}

// Outcomes returns the outcomes of a run in the order they were produced.
func (s *Store) Outcomes(ctx context.Context, runID string) ([]engine.Outcome, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT payload_json FROM outcomes WHERE run_id = ? ORDER BY checked_at, rowid;
`, runID)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var out []engine.Outcome
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		var o engine.Outcome
		if err := json.Unmarshal([]byte(payload), &o); err != nil {
			return nil, fmt.Errorf("decode outcome: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// MarkDedupe sets or refreshes a dedupe key until expiresAt.
func (s *Store) MarkDedupe(ctx context.Context, key string, expiresAt time.Time) error {
	if key == "" {
		return errors.New("key required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO dedupe (key, expires_at)
VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET expires_at=excluded.expires_at;
`, key, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("mark dedupe: %w", err)
	}
	return nil
}

// IsDuplicate returns true if the key exists and is not expired; expired entries are pruned.
func (s *Store) IsDuplicate(ctx context.Context, key string, now time.Time) (bool, error) {
	if key == "" {
		return false, errors.New("key required")
	}

	var expires time.Time
	err := s.db.QueryRowContext(ctx, `
SELECT expires_at FROM dedupe WHERE key = ?;
`, key).Scan(&expires)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check dedupe: %w", err)
	}

	if expires.After(now.UTC()) {
		return true, nil
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM dedupe WHERE key = ?;`, key); err != nil {
		return false, fmt.Errorf("prune dedupe: %w", err)
	}
	return false, nil
}

// WithTx executes a callback inside a transaction for callers needing atomicity.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
