package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/netops/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
	now func() time.Time
}

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
	// Every connection to :memory: opens its own empty database.
	if isMemory(cfg.Path) {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg, now: time.Now}, nil
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	sep := "?"
	if strings.Contains(s.cfg.Path, "?") {
		sep = "&"
	}
	pragmas := "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if !isMemory(s.cfg.Path) {
		pragmas += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}
	dsn := s.cfg.Path + sep + pragmas + "&_txlock=immediate&_time_format=sqlite"

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

// Migrate runs database migrations.
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

// Archive stores op, its phases and their attempts in one transaction.
func (s *SQLiteStore) Archive(ctx context.Context, op *engine.Operation) error {
	if op == nil || op.ID == "" {
		return fmt.Errorf("operation id is required")
	}

	var artifact *string
	if op.Artifact != nil {
		b, err := json.Marshal(op.Artifact)
		if err != nil {
			return fmt.Errorf("failed to encode artifact: %w", err)
		}
		v := string(b)
		artifact = &v
	}

	var errClass, errCode *string
	if op.Err != nil {
		class := string(engine.ClassOf(op.Err))
		if class != "" {
			errClass = &class
		}
		var e *engine.EngineError
		if errors.As(op.Err, &e) && e.Code != "" {
			errCode = &e.Code
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM operations WHERE id = ?`, op.ID); err != nil {
		return fmt.Errorf("failed to replace operation: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO operations (
			id, kind, target_id, command, status, reason,
			error_class, error_code, artifact, started_at, completed_at, archived_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		op.ID,
		string(op.Kind),
		op.TargetID,
		op.Command,
		string(op.Status),
		nullString(op.Reason),
		errClass,
		errCode,
		artifact,
		op.StartedAt.UTC(),
		utcPtr(op.CompletedAt),
		s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert operation: %w", err)
	}

	for seq, phase := range op.Phases {
		var startedAt *time.Time
		if !phase.StartedAt.IsZero() {
			startedAt = &phase.StartedAt
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO phases (
				operation_id, seq, name, status, reason,
				inter_attempt_delay, max_attempts, max_duration, started_at, elapsed
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			op.ID,
			seq,
			phase.Name,
			string(phase.Status),
			nullString(phase.Reason),
			int64(phase.Budget.InterAttemptDelay),
			phase.Budget.MaxAttempts,
			int64(phase.Budget.MaxDuration),
			utcPtr(startedAt),
			int64(phase.Elapsed),
		)
		if err != nil {
			return fmt.Errorf("failed to insert phase %s: %w", phase.Name, err)
		}

		for _, a := range phase.Attempts {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO attempts (operation_id, phase_seq, idx, ts, outcome)
				VALUES (?, ?, ?, ?, ?)
			`, op.ID, seq, a.Index, a.Timestamp.UTC(), string(a.Outcome))
			if err != nil {
				return fmt.Errorf("failed to insert attempt %d of phase %s: %w", a.Index, phase.Name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive: %w", err)
	}
	return nil
}

const operationColumns = `
	id, kind, target_id, command, status, reason,
	error_class, error_code, artifact, started_at, completed_at, archived_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanOperation(row scanner) (*OperationRecord, error) {
	rec := &OperationRecord{}
	err := row.Scan(
		&rec.ID,
		&rec.Kind,
		&rec.TargetID,
		&rec.Command,
		&rec.Status,
		&rec.Reason,
		&rec.ErrorClass,
		&rec.ErrorCode,
		&rec.Artifact,
		&rec.StartedAt,
		&rec.CompletedAt,
		&rec.ArchivedAt,
	)
	return rec, err
}

// GetOperation retrieves an archived operation by ID
func (s *SQLiteStore) GetOperation(ctx context.Context, id string) (*OperationRecord, error) {
	query := `SELECT` + operationColumns + ` FROM operations WHERE id = ?`

	rec, err := scanOperation(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get operation: %w", err)
	}
	return rec, nil
}

// ListOperations lists archived operations, newest first.
func (s *SQLiteStore) ListOperations(ctx context.Context, filter ListFilter) ([]*OperationRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.TargetID != "" {
		where = append(where, "target_id = ?")
		args = append(args, filter.TargetID)
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		where = append(where, "started_at >= ?")
		args = append(args, filter.Since.UTC())
	}

	query := `SELECT` + operationColumns + ` FROM operations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY started_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	records := []*OperationRecord{}
	for rows.Next() {
		rec, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operations: %w", err)
	}

	return records, nil
}

// ListPhases returns the phase log of an operation, attempts included, in order.
func (s *SQLiteStore) ListPhases(ctx context.Context, operationID string) ([]*PhaseRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT operation_id, seq, name, status, reason,
			   inter_attempt_delay, max_attempts, max_duration, started_at, elapsed
		FROM phases
		WHERE operation_id = ?
		ORDER BY seq
	`, operationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list phases: %w", err)
	}

	phases := []*PhaseRecord{}
	for rows.Next() {
		p := &PhaseRecord{}
		var delay, maxDuration, elapsed int64
		err := rows.Scan(
			&p.OperationID,
			&p.Seq,
			&p.Name,
			&p.Status,
			&p.Reason,
			&delay,
			&p.Budget.MaxAttempts,
			&maxDuration,
			&p.StartedAt,
			&elapsed,
		)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan phase: %w", err)
		}
		p.Budget.InterAttemptDelay = time.Duration(delay)
		p.Budget.MaxDuration = time.Duration(maxDuration)
		p.Elapsed = time.Duration(elapsed)
		phases = append(phases, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating phases: %w", err)
	}
	rows.Close()

	if err := s.loadAttempts(ctx, operationID, phases); err != nil {
		return nil, err
	}
	return phases, nil
}

func (s *SQLiteStore) loadAttempts(ctx context.Context, operationID string, phases []*PhaseRecord) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT phase_seq, idx, ts, outcome
		FROM attempts
		WHERE operation_id = ?
		ORDER BY phase_seq, idx
	`, operationID)
	if err != nil {
		return fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	bySeq := make(map[int]*PhaseRecord, len(phases))
	for _, p := range phases {
		p.Attempts = []engine.Attempt{}
		bySeq[p.Seq] = p
	}

	for rows.Next() {
		var seq int
		var a engine.Attempt
		if err := rows.Scan(&seq, &a.Index, &a.Timestamp, &a.Outcome); err != nil {
			return fmt.Errorf("failed to scan attempt: %w", err)
		}
		if p, ok := bySeq[seq]; ok {
			p.Attempts = append(p.Attempts, a)
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating attempts: %w", err)
	}
	return nil
}

// Prune deletes operations that started before cutoff, with their phases and attempts.
func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM operations WHERE started_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune operations: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// Timestamps are stored in UTC so that they compare correctly as text.
func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
