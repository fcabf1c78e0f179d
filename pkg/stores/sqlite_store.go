package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	cfg  Config
	path string
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: is its own database.
	if isMemory(cfg.Path) {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		cfg:  cfg,
		path: cfg.Path,
	}, nil
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

// Open creates, initializes and migrates a store in one step.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Init opens the database connection with WAL mode and foreign keys on.
func (s *SQLiteStore) Init(ctx context.Context) error {
	sep := "?"
	if strings.Contains(s.path, "?") {
		sep = "&"
	}
	dsn := s.path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	if !isMemory(s.path) {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs the embedded schema migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// RecordRender stores a finished render.
func (s *SQLiteStore) RecordRender(ctx context.Context, render *Render) error {
	sources, err := json.Marshal(render.Sources)
	if err != nil {
		return fmt.Errorf("failed to encode sources: %w", err)
	}
	if render.Sources == nil {
		sources = []byte("[]")
	}

	query := `
		INSERT INTO renders (
			id, sources, format, output, status, error_class, error,
			output_hash, output_bytes, duration_ms, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		render.ID,
		string(sources),
		render.Format,
		render.Output,
		render.Status,
		render.ErrorClass,
		render.Error,
		render.OutputHash,
		render.OutputBytes,
		render.Duration.Milliseconds(),
		render.StartedAt.UTC(),
		render.CompletedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record render: %w", err)
	}

	return nil
}

const renderColumns = `id, sources, format, output, status, error_class, error,
	output_hash, output_bytes, duration_ms, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRender(row rowScanner) (*Render, error) {
	var (
		render     Render
		sources    string
		durationMS int64
	)
	err := row.Scan(
		&render.ID,
		&sources,
		&render.Format,
		&render.Output,
		&render.Status,
		&render.ErrorClass,
		&render.Error,
		&render.OutputHash,
		&render.OutputBytes,
		&durationMS,
		&render.StartedAt,
		&render.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(sources), &render.Sources); err != nil {
		return nil, fmt.Errorf("failed to decode sources of render %s: %w", render.ID, err)
	}
	render.Duration = time.Duration(durationMS) * time.Millisecond

	return &render, nil
}

// GetRender retrieves a render by ID
func (s *SQLiteStore) GetRender(ctx context.Context, id string) (*Render, error) {
	query := `SELECT ` + renderColumns + ` FROM renders WHERE id = ?`

	render, err := scanRender(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("render %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get render: %w", err)
	}

	return render, nil
}

// ListRenders lists renders newest first with pagination
func (s *SQLiteStore) ListRenders(ctx context.Context, limit, offset int) ([]*Render, error) {
	query := `SELECT ` + renderColumns + `
		FROM renders
		ORDER BY started_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list renders: %w", err)
	}
	defer rows.Close()

	renders := []*Render{}
	for rows.Next() {
		render, err := scanRender(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan render: %w", err)
		}
		renders = append(renders, render)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating renders: %w", err)
	}

	return renders, nil
}

// PruneRenders deletes renders started before the given time, with their
// events, and returns how many were removed.
func (s *SQLiteStore) PruneRenders(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM renders WHERE started_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune renders: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// AppendEvent appends a new event to the log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO events (render_id, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	result, err := s.db.ExecContext(ctx, query,
		event.RenderID,
		event.Level,
		event.Message,
		event.Details,
		event.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// GetEvents returns the events of a render in insertion order, optionally
// filtered by level.
func (s *SQLiteStore) GetEvents(ctx context.Context, renderID string, level *EventLevel) ([]*Event, error) {
	query := `
		SELECT id, render_id, level, message, details, timestamp
		FROM events
		WHERE render_id = ?
		  AND (? IS NULL OR level = ?)
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, renderID, level, level)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.RenderID,
			&event.Level,
			&event.Message,
			&event.Details,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// UpsertOutput records the hash last written to an output path
func (s *SQLiteStore) UpsertOutput(ctx context.Context, state *OutputState) error {
	query := `
		INSERT INTO outputs (path, hash, last_render_id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (path) DO UPDATE SET
			hash = excluded.hash,
			last_render_id = excluded.last_render_id,
			updated_at = excluded.updated_at
	`

	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		state.Path,
		state.Hash,
		state.LastRenderID,
		state.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert output: %w", err)
	}

	return nil
}

// GetOutput returns the last recorded state of an output path
func (s *SQLiteStore) GetOutput(ctx context.Context, path string) (*OutputState, error) {
	query := `
		SELECT path, hash, last_render_id, updated_at
		FROM outputs
		WHERE path = ?
	`

	state := &OutputState{}
	err := s.db.QueryRowContext(ctx, query, path).Scan(
		&state.Path,
		&state.Hash,
		&state.LastRenderID,
		&state.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("output %s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get output: %w", err)
	}

	return state, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
