package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
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
	// Every connection to :memory: is a separate database
	if cfg.Path == MemoryPath {
		cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime = 1, 1, 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database. File databases use WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

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

	if s.cfg.Path != MemoryPath {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to enable WAL mode: %w", err)
		}
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

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CommitTx commits a transaction
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

// SaveResolution stores a resolution with its parameters and violations in
// one transaction.
func (s *SQLiteStore) SaveResolution(ctx context.Context, res *Resolution) error {
	features, err := json.Marshal(nonNil(res.Features))
	if err != nil {
		return fmt.Errorf("failed to encode features: %w", err)
	}
	libraries, err := json.Marshal(nonNil(res.Libraries))
	if err != nil {
		return fmt.Errorf("failed to encode libraries: %w", err)
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO resolutions (
			id, target, app_config, status, features, libraries, macros_hash, error, error_kind, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		res.ID,
		res.Target,
		res.AppConfig,
		res.Status,
		string(features),
		string(libraries),
		res.MacrosHash,
		res.Error,
		res.ErrorKind,
		res.Duration.Milliseconds(),
		res.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create resolution: %w", err)
	}

	for i, p := range res.Parameters {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO resolution_parameters (resolution_id, position, name, value, macro_name, defined_by, set_by)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, res.ID, i, p.Name, p.Value, p.MacroName, p.DefinedBy, p.SetBy)
		if err != nil {
			return fmt.Errorf("failed to store parameter %s: %w", p.Name, err)
		}
	}

	for i := range res.Violations {
		v := &res.Violations[i]
		result, err := tx.ExecContext(ctx, `
			INSERT INTO policy_violations (resolution_id, policy, severity, subject, message)
			VALUES (?, ?, ?, ?, ?)
		`, res.ID, v.Policy, v.Severity, v.Subject, v.Message)
		if err != nil {
			return fmt.Errorf("failed to store violation: %w", err)
		}
		if id, err := result.LastInsertId(); err == nil {
			v.ID = id
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit resolution: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

const resolutionColumns = `id, target, app_config, status, features, libraries, macros_hash, error, error_kind, duration_ms, created_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanResolution(row scanner) (*Resolution, error) {
	res := &Resolution{}
	var features, libraries string
	var durationMS int64
	err := row.Scan(
		&res.ID,
		&res.Target,
		&res.AppConfig,
		&res.Status,
		&features,
		&libraries,
		&res.MacrosHash,
		&res.Error,
		&res.ErrorKind,
		&durationMS,
		&res.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(features), &res.Features); err != nil {
		return nil, fmt.Errorf("failed to decode features of %s: %w", res.ID, err)
	}
	if err := json.Unmarshal([]byte(libraries), &res.Libraries); err != nil {
		return nil, fmt.Errorf("failed to decode libraries of %s: %w", res.ID, err)
	}
	res.Duration = time.Duration(durationMS) * time.Millisecond
	return res, nil
}

// GetResolution retrieves a resolution by ID with its parameters and
// violations.
func (s *SQLiteStore) GetResolution(ctx context.Context, id string) (*Resolution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+resolutionColumns+` FROM resolutions WHERE id = ?`, id)
	res, err := scanResolution(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("resolution not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resolution: %w", err)
	}
	return res, s.loadDetails(ctx, res)
}

// LatestResolution retrieves the most recent resolution of a target.
func (s *SQLiteStore) LatestResolution(ctx context.Context, target string) (*Resolution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+resolutionColumns+`
		FROM resolutions
		WHERE target = ?
		ORDER BY created_at DESC
		LIMIT 1
	`, target)
	res, err := scanResolution(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no resolution recorded for target: %s", target)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest resolution: %w", err)
	}
	return res, s.loadDetails(ctx, res)
}

func (s *SQLiteStore) loadDetails(ctx context.Context, res *Resolution) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, value, macro_name, defined_by, set_by
		FROM resolution_parameters
		WHERE resolution_id = ?
		ORDER BY position
	`, res.ID)
	if err != nil {
		return fmt.Errorf("failed to list parameters: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p ParameterRecord
		if err := rows.Scan(&p.Name, &p.Value, &p.MacroName, &p.DefinedBy, &p.SetBy); err != nil {
			return fmt.Errorf("failed to scan parameter: %w", err)
		}
		res.Parameters = append(res.Parameters, p)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating parameters: %w", err)
	}

	violations, err := s.ListViolations(ctx, res.ID, nil)
	if err != nil {
		return err
	}
	for _, v := range violations {
		res.Violations = append(res.Violations, *v)
	}
	return nil
}

// ListResolutions lists resolutions, newest first, optionally for one
// target. Parameters and violations are not loaded.
func (s *SQLiteStore) ListResolutions(ctx context.Context, target *string, limit, offset int) ([]*Resolution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+resolutionColumns+`
		FROM resolutions
		WHERE (? IS NULL OR target = ?)
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, target, target, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list resolutions: %w", err)
	}
	defer rows.Close()

	list := []*Resolution{}
	for rows.Next() {
		res, err := scanResolution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resolution: %w", err)
		}
		list = append(list, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resolutions: %w", err)
	}

	return list, nil
}

// DeleteResolution deletes a resolution and everything recorded with it.
func (s *SQLiteStore) DeleteResolution(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM resolutions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete resolution: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("resolution not found: %s", id)
	}

	return nil
}

// PruneResolutions keeps the newest keep resolutions of every target and
// deletes the rest. It returns the number of deleted resolutions.
func (s *SQLiteStore) PruneResolutions(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("invalid number of resolutions to keep: %d", keep)
	}
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM resolutions
		WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (PARTITION BY target ORDER BY created_at DESC) AS rn
				FROM resolutions
			)
			WHERE rn > ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune resolutions: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// ListViolations lists the violations of a resolution, optionally filtered
// by severity.
func (s *SQLiteStore) ListViolations(ctx context.Context, resolutionID string, severity *string) ([]*ViolationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, policy, severity, subject, message
		FROM policy_violations
		WHERE resolution_id = ?
		  AND (? IS NULL OR severity = ?)
		ORDER BY id
	`, resolutionID, severity, severity)
	if err != nil {
		return nil, fmt.Errorf("failed to list violations: %w", err)
	}
	defer rows.Close()

	violations := []*ViolationRecord{}
	for rows.Next() {
		v := &ViolationRecord{}
		if err := rows.Scan(&v.ID, &v.Policy, &v.Severity, &v.Subject, &v.Message); err != nil {
			return nil, fmt.Errorf("failed to scan violation: %w", err)
		}
		violations = append(violations, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating violations: %w", err)
	}

	return violations, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
