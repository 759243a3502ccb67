package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver
	_ "modernc.org/sqlite"             // SQLite driver
)

// dialect holds the differences between the SQL backends.
type dialect struct {
	name           string
	dollarParams   bool // $1, $2 instead of ?
	integrityCheck bool
}

var (
	sqliteDialect   = dialect{name: "sqlite", integrityCheck: true}
	postgresDialect = dialect{name: "postgres", dollarParams: true}
)

// rebind rewrites ? placeholders for dialects that number their parameters.
func (d dialect) rebind(query string) string {
	if !d.dollarParams {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLStore implements RunStore on database/sql. It backs both the SQLite and
// the Postgres backends.
type SQLStore struct {
	mu      sync.Mutex
	db      *sql.DB
	dialect dialect
	path    string
}

// NewSQLiteStore opens or creates <dir>/poseidon.db.
func NewSQLiteStore(ctx context.Context, dir string) (*SQLStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("sqlite store directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	dbPath := filepath.Join(dir, "poseidon.db")

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite works best with single writer

	return newSQLStore(ctx, db, sqliteDialect, dbPath)
}

// NewPostgresStore connects to the database at dsn through pgx.
func NewPostgresStore(ctx context.Context, dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return newSQLStore(ctx, db, postgresDialect, "")
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect, path string) (*SQLStore, error) {
	if err := initSchema(ctx, db, d); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLStore{db: db, dialect: d, path: path}, nil
}

// Path returns the database file, or "" for a server backend.
func (s *SQLStore) Path() string { return s.path }

func (s *SQLStore) q(query string) string { return s.dialect.rebind(query) }

// CreateRun inserts a new run.
func (s *SQLStore) CreateRun(ctx context.Context, run Run) error {
	if err := validateRun(run); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO runs (id, seed, years, fishers, status, config, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		run.ID, run.Seed, run.Years, run.Fishers, orDefault(run.Status, RunRunning), run.Config,
		formatTime(run.StartedAt), nullTime(run.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun records the final status of a run.
func (s *SQLStore) FinishRun(ctx context.Context, id, status string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, s.q(`UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`),
		status, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: %w", id, ErrRunNotFound)
	}
	return nil
}

// GetRun returns the run with the given ID.
func (s *SQLStore) GetRun(ctx context.Context, id string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, seed, years, fishers, status, config, started_at, finished_at
		FROM runs WHERE id = ?`), id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get run %s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns every run, most recent first.
func (s *SQLStore) ListRuns(ctx context.Context) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seed, years, fishers, status, config, started_at, finished_at
		FROM runs ORDER BY started_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run      Run
		config   sql.NullString
		started  string
		finished sql.NullString
	)
	if err := row.Scan(&run.ID, &run.Seed, &run.Years, &run.Fishers, &run.Status, &config, &started, &finished); err != nil {
		return nil, err
	}
	run.Config = config.String

	t, err := parseTime(started)
	if err != nil {
		return nil, fmt.Errorf("run %s: bad started_at: %w", run.ID, err)
	}
	run.StartedAt = t
	if finished.Valid {
		ft, err := parseTime(finished.String)
		if err != nil {
			return nil, fmt.Errorf("run %s: bad finished_at: %w", run.ID, err)
		}
		run.FinishedAt = &ft
	}
	return &run, nil
}

// AddObservations inserts observations in one transaction.
func (s *SQLStore) AddObservations(ctx context.Context, obs []Observation) error {
	if len(obs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, `INSERT INTO observations (run_id, series, step, col, value) VALUES (?, ?, ?, ?, ?)`,
		func(stmt *sql.Stmt) error {
			for _, o := range obs {
				if _, err := stmt.ExecContext(ctx, o.RunID, o.Series, o.Step, o.Column, nullFloat(o.Value)); err != nil {
					return fmt.Errorf("failed to insert observation %s/%s@%d: %w", o.Series, o.Column, o.Step, err)
				}
			}
			return nil
		})
}

// Observations returns observations of a run ordered by step then column.
func (s *SQLStore) Observations(ctx context.Context, runID, series string) ([]Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT run_id, series, step, col, value FROM observations WHERE run_id = ?`
	args := []any{runID}
	if series != "" {
		query += ` AND series = ?`
		args = append(args, series)
	}
	query += ` ORDER BY series, step, col`

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	var out []Observation
	for rows.Next() {
		var (
			o     Observation
			value sql.NullFloat64
		)
		if err := rows.Scan(&o.RunID, &o.Series, &o.Step, &o.Column, &value); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		o.Value = fromNullFloat(value)
		out = append(out, o)
	}
	return out, rows.Err()
}

// AddDecisions appends decisions, keeping their order per run.
func (s *SQLStore) AddDecisions(ctx context.Context, decisions []Decision) error {
	if len(decisions) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := map[string]int{}
	for _, d := range decisions {
		if _, ok := next[d.RunID]; ok {
			continue
		}
		var seq sql.NullInt64
		if err := s.db.QueryRowContext(ctx, s.q(`SELECT MAX(seq) FROM decisions WHERE run_id = ?`), d.RunID).Scan(&seq); err != nil {
			return fmt.Errorf("failed to read decision sequence: %w", err)
		}
		next[d.RunID] = int(seq.Int64) + 1
	}

	return s.inTx(ctx, `
		INSERT INTO decisions (run_id, seq, step, agent, attribute, status, value, fitness)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		func(stmt *sql.Stmt) error {
			for _, d := range decisions {
				seq := next[d.RunID]
				next[d.RunID]++
				if _, err := stmt.ExecContext(ctx, d.RunID, seq, d.Step, d.Agent, d.Attribute, d.Status, d.Value, nullFloat(d.Fitness)); err != nil {
					return fmt.Errorf("failed to insert decision of %s at step %d: %w", d.Agent, d.Step, err)
				}
			}
			return nil
		})
}

// Decisions returns the decisions of a run in insertion order.
func (s *SQLStore) Decisions(ctx context.Context, runID string) ([]Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT run_id, step, agent, attribute, status, value, fitness
		FROM decisions WHERE run_id = ? ORDER BY seq`), runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		var (
			d       Decision
			fitness sql.NullFloat64
		)
		if err := rows.Scan(&d.RunID, &d.Step, &d.Agent, &d.Attribute, &d.Status, &d.Value, &fitness); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		d.Fitness = fromNullFloat(fitness)
		out = append(out, d)
	}
	return out, rows.Err()
}

// Reset drops and recreates every table. Only use for testing.
func (s *SQLStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return resetSchema(ctx, s.db, s.dialect)
}

// Close closes the database.
func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *SQLStore) inTx(ctx context.Context, query string, fn func(*sql.Stmt) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.q(query))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	if err := fn(stmt); err != nil {
		return err
	}
	return tx.Commit()
}

func nullFloat(f float64) sql.NullFloat64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}

func fromNullFloat(f sql.NullFloat64) float64 {
	if !f.Valid {
		return math.NaN()
	}
	return f.Float64
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
