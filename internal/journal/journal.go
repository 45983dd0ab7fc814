package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/netengine/internal/netid"
	"github.com/roach88/netengine/internal/reconcile"
)

//go:embed schema.sql
var schemaSQL string

// currentSchemaVersion is stored in PRAGMA user_version.
const currentSchemaVersion = 1

// Journal is a durable log of applied connectivity events.
// Uses SQLite with WAL mode so the trace command can read while an engine writes.
type Journal struct {
	db    *sql.DB
	runID string
	enc   cbor.EncMode
	dec   cbor.DecMode
	now   func() time.Time
}

// Option configures a Journal.
type Option func(*Journal)

// WithRunID sets the run id rows are tagged with. Defaults to a new UUIDv7.
func WithRunID(id string) Option {
	return func(j *Journal) {
		j.runID = id
	}
}

// WithNow sets the clock used for recorded_at.
func WithNow(now func() time.Time) Option {
	return func(j *Journal) {
		j.now = now
	}
}

// Open creates or opens a journal database at path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
func Open(path string, opts ...Option) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("cbor encoder: %w", err)
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("cbor decoder: %w", err)
	}

	j := &Journal{db: db, enc: enc, dec: dec, now: time.Now}
	for _, opt := range opts {
		opt(j)
	}
	if j.runID == "" {
		j.runID = uuid.Must(uuid.NewV7()).String()
	}
	return j, nil
}

// RunID returns the id this journal tags new rows with.
func (j *Journal) RunID() string {
	return j.runID
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// payload is the CBOR body of one journal row.
type payload struct {
	Type         string   `cbor:"type,omitempty"`
	ID           int64    `cbor:"id,omitempty"`
	IDs          []int64  `cbor:"ids,omitempty"`
	Drained      []string `cbor:"drained,omitempty"`
	DrainedAll   bool     `cbor:"drained_all,omitempty"`
	RefreshedDNS bool     `cbor:"refreshed_dns,omitempty"`
	Active       []int64  `cbor:"active"`
	DefaultID    *int64   `cbor:"default_id,omitempty"`
	DefaultType  string   `cbor:"default_type,omitempty"`
}

// Entry is one decoded journal row.
type Entry struct {
	RunID        string    `json:"run_id"`
	Seq          int64     `json:"seq"`
	Kind         string    `json:"kind"`
	Source       string    `json:"source,omitempty"`
	Changed      bool      `json:"changed"`
	Type         string    `json:"type,omitempty"`
	ID           int64     `json:"id,omitempty"`
	IDs          []int64   `json:"ids,omitempty"`
	Drained      []string  `json:"drained,omitempty"`
	DrainedAll   bool      `json:"drained_all,omitempty"`
	RefreshedDNS bool      `json:"refreshed_dns,omitempty"`
	Active       []int64   `json:"active"`
	DefaultID    *int64    `json:"default_id,omitempty"`
	DefaultType  string    `json:"default_type,omitempty"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// Record appends an applied event. Rows are unique per (run, seq); a
// duplicate write is ignored.
func (j *Journal) Record(ctx context.Context, a reconcile.Applied) error {
	p := payload{
		ID:           int64(a.Event.ID),
		DrainedAll:   a.DrainedAll,
		RefreshedDNS: a.RefreshedDNS,
		Active:       make([]int64, 0, len(a.Snapshot.Active)),
	}
	if a.Event.Type != netid.TypeUnspecified {
		p.Type = a.Event.Type.String()
	}
	for _, id := range a.Event.IDs {
		p.IDs = append(p.IDs, int64(id))
	}
	for _, b := range a.Drained {
		p.Drained = append(p.Drained, b.String())
	}
	for _, id := range a.Snapshot.Active {
		p.Active = append(p.Active, int64(id))
	}
	if d := a.Snapshot.Default; d != nil {
		id := int64(d.ID)
		p.DefaultID = &id
		p.DefaultType = d.Type.String()
	}

	body, err := j.enc.Marshal(p)
	if err != nil {
		return fmt.Errorf("record event %d: %w", a.Seq, err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO applied_events (run_id, seq, kind, source, changed, payload, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`,
		j.runID,
		a.Seq,
		a.Event.Kind.String(),
		a.Event.Source,
		a.Changed,
		body,
		j.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record event %d: %w", a.Seq, err)
	}
	return nil
}

// Entries returns up to limit rows of a run ordered by seq. An empty runID
// selects the most recent run; limit <= 0 means no limit.
//
// Returns an empty slice (not nil) when nothing matches.
func (j *Journal) Entries(ctx context.Context, runID string, limit int) ([]Entry, error) {
	if runID == "" {
		latest, err := j.LatestRun(ctx)
		if err != nil {
			return nil, err
		}
		if latest == "" {
			return []Entry{}, nil
		}
		runID = latest
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, seq, kind, source, changed, payload, recorded_at
		FROM applied_events
		WHERE run_id = ?
		ORDER BY seq ASC
		LIMIT ?
	`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e          Entry
			body       []byte
			recordedAt int64
			p          payload
		)
		if err := rows.Scan(&e.RunID, &e.Seq, &e.Kind, &e.Source, &e.Changed, &body, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		if err := j.dec.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("decode journal row %d: %w", e.Seq, err)
		}
		e.Type = p.Type
		e.ID = p.ID
		e.IDs = p.IDs
		e.Drained = p.Drained
		e.DrainedAll = p.DrainedAll
		e.RefreshedDNS = p.RefreshedDNS
		e.Active = p.Active
		e.DefaultID = p.DefaultID
		e.DefaultType = p.DefaultType
		e.RecordedAt = time.UnixMilli(recordedAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return entries, nil
}

// LatestRun returns the run id of the most recently written row, or "" if
// the journal is empty.
func (j *Journal) LatestRun(ctx context.Context) (string, error) {
	var runID string
	err := j.db.QueryRowContext(ctx, `
		SELECT run_id FROM applied_events ORDER BY id DESC LIMIT 1
	`).Scan(&runID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("latest run: %w", err)
	}
	return runID, nil
}

// Runs returns every run id, oldest first.
func (j *Journal) Runs(ctx context.Context) ([]string, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id FROM applied_events GROUP BY run_id ORDER BY MIN(id) ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, id)
	}
	return runs, rows.Err()
}
