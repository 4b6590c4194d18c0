// ABOUTME: SQLite-backed Store for content views, versions, environments, and puppet environments.
// ABOUTME: Entity saves are guarded by a lock_version column for optimistic concurrency.
package content

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

const sqliteTimeFormat = time.RFC3339Nano

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is a Store backed by a single SQLite database file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens or creates the database at path and migrates the schema.
// Pragmas go in the DSN so every pooled connection gets them; several
// processes may share the file.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := "file:" + path + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS content_views (
			id TEXT PRIMARY KEY,
			label TEXT NOT NULL,
			organization_label TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS versions (
			id TEXT PRIMARY KEY,
			content_view_id TEXT NOT NULL,
			number INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY (content_view_id) REFERENCES content_views(id),
			UNIQUE (content_view_id, number)
		);

		CREATE TABLE IF NOT EXISTS environments (
			id TEXT PRIMARY KEY,
			label TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS puppet_environments (
			id TEXT PRIMARY KEY,
			content_view_id TEXT NOT NULL,
			version_id TEXT NOT NULL,
			environment_id TEXT NOT NULL DEFAULT '',
			pulp_id TEXT NOT NULL UNIQUE,
			state TEXT NOT NULL,
			lock_version INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			FOREIGN KEY (content_view_id) REFERENCES content_views(id),
			FOREIGN KEY (version_id) REFERENCES versions(id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS puppet_environments_env_scope
			ON puppet_environments (content_view_id, environment_id)
			WHERE environment_id <> '';

		CREATE UNIQUE INDEX IF NOT EXISTS puppet_environments_archive_scope
			ON puppet_environments (version_id)
			WHERE environment_id = '';

		CREATE TABLE IF NOT EXISTS leases (
			entity_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		);`

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetContentView(ctx context.Context, id string) (*ContentView, error) {
	var cv ContentView
	err := s.db.QueryRowContext(ctx,
		"SELECT id, label, organization_label FROM content_views WHERE id = ?", id).
		Scan(&cv.ID, &cv.Label, &cv.OrganizationLabel)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Resource: "content view", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("query content view: %w", err)
	}
	return &cv, nil
}

func (s *SQLiteStore) CreateContentView(ctx context.Context, cv *ContentView) error {
	if cv.ID == "" {
		cv.ID = NewID()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO content_views (id, label, organization_label) VALUES (?, ?, ?)",
		cv.ID, cv.Label, cv.OrganizationLabel)
	if err != nil {
		return insertError("content view", cv.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetVersion(ctx context.Context, id string) (*Version, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, content_view_id, number, created_at FROM versions WHERE id = ?", id)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Resource: "version", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("query version: %w", err)
	}
	return v, nil
}

func (s *SQLiteStore) LatestVersion(ctx context.Context, contentViewID string) (*Version, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, content_view_id, number, created_at FROM versions
		 WHERE content_view_id = ? ORDER BY number DESC LIMIT 1`, contentViewID)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Resource: "version of content view", ID: contentViewID}
	}
	if err != nil {
		return nil, fmt.Errorf("query latest version: %w", err)
	}
	return v, nil
}

func (s *SQLiteStore) CreateVersion(ctx context.Context, v *Version) error {
	if v.ID == "" {
		v.ID = NewID()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO versions (id, content_view_id, number, created_at) VALUES (?, ?, ?, ?)",
		v.ID, v.ContentViewID, v.Number, v.CreatedAt.Format(sqliteTimeFormat))
	if err != nil {
		return insertError("version", v.ID, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteVersion(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM versions WHERE id = ?", id)
	if err != nil {
		return insertError("version", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return &NotFoundError{Resource: "version", ID: id}
	}
	return nil
}

func (s *SQLiteStore) GetEnvironment(ctx context.Context, id string) (*Environment, error) {
	var env Environment
	err := s.db.QueryRowContext(ctx, "SELECT id, label FROM environments WHERE id = ?", id).
		Scan(&env.ID, &env.Label)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Resource: "environment", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("query environment: %w", err)
	}
	return &env, nil
}

func (s *SQLiteStore) CreateEnvironment(ctx context.Context, env *Environment) error {
	if env.ID == "" {
		env.ID = NewID()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO environments (id, label) VALUES (?, ?)", env.ID, env.Label)
	if err != nil {
		return insertError("environment", env.ID, err)
	}
	return nil
}

const entityColumns = `id, content_view_id, version_id, environment_id, pulp_id, state,
	lock_version, created_at, updated_at`

func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (*PuppetEnvironment, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+entityColumns+" FROM puppet_environments WHERE id = ?", id)
	return s.entityOrNotFound(row, "puppet environment", id)
}

func (s *SQLiteStore) ArchivedForVersion(ctx context.Context, versionID string) (*PuppetEnvironment, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+entityColumns+" FROM puppet_environments WHERE version_id = ? AND environment_id = ''",
		versionID)
	return s.entityOrNotFound(row, "archived puppet environment for version", versionID)
}

func (s *SQLiteStore) FindInEnvironment(ctx context.Context, contentViewID, environmentID string) (*PuppetEnvironment, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+entityColumns+" FROM puppet_environments WHERE content_view_id = ? AND environment_id = ?",
		contentViewID, environmentID)
	return s.entityOrNotFound(row, "puppet environment in environment", environmentID)
}

func (s *SQLiteStore) CreateEntity(ctx context.Context, e *PuppetEnvironment) error {
	if e.ID == "" {
		e.ID = NewID()
	}
	now := s.now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO puppet_environments (`+entityColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		e.ID, e.ContentViewID, e.VersionID, e.EnvironmentID, e.PulpID, string(e.State),
		e.CreatedAt.Format(sqliteTimeFormat), e.UpdatedAt.Format(sqliteTimeFormat))
	if err != nil {
		return insertError("puppet environment", e.ID, err)
	}
	e.LockVersion = 1
	return nil
}

func (s *SQLiteStore) SaveEntity(ctx context.Context, e *PuppetEnvironment) error {
	if e.NewRecord() {
		return &ValidationError{Field: "lock_version", Message: "entity has not been created"}
	}
	updatedAt := s.now().UTC()

	res, err := s.db.ExecContext(ctx,
		`UPDATE puppet_environments SET
			content_view_id = ?, version_id = ?, environment_id = ?, pulp_id = ?, state = ?,
			lock_version = lock_version + 1, updated_at = ?
		 WHERE id = ? AND lock_version = ?`,
		e.ContentViewID, e.VersionID, e.EnvironmentID, e.PulpID, string(e.State),
		updatedAt.Format(sqliteTimeFormat), e.ID, e.LockVersion)
	if err != nil {
		return insertError("puppet environment", e.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return &ConflictError{Resource: "puppet environment", ID: e.ID, Reason: "stale lock version or deleted"}
	}

	e.LockVersion++
	e.UpdatedAt = updatedAt
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (*Version, error) {
	var v Version
	var createdAt string
	if err := row.Scan(&v.ID, &v.ContentViewID, &v.Number, &createdAt); err != nil {
		return nil, err
	}
	t, err := time.Parse(sqliteTimeFormat, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	v.CreatedAt = t
	return &v, nil
}

func (s *SQLiteStore) entityOrNotFound(row rowScanner, resource, id string) (*PuppetEnvironment, error) {
	var e PuppetEnvironment
	var state, createdAt, updatedAt string
	err := row.Scan(&e.ID, &e.ContentViewID, &e.VersionID, &e.EnvironmentID, &e.PulpID,
		&state, &e.LockVersion, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Resource: resource, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", resource, err)
	}
	e.State = State(state)
	if e.CreatedAt, err = time.Parse(sqliteTimeFormat, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if e.UpdatedAt, err = time.Parse(sqliteTimeFormat, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &e, nil
}

// AcquireLease takes the entity's lease for runID. An expired lease is taken
// over; a live one, even one held by runID itself, is a *ConflictError.
func (s *SQLiteStore) AcquireLease(ctx context.Context, entityID, runID string, ttl time.Duration) error {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO leases (entity_id, run_id, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT (entity_id) DO UPDATE SET run_id = excluded.run_id, expires_at = excluded.expires_at
		 WHERE leases.expires_at <= ?`,
		entityID, runID, now.Add(ttl).UnixNano(), now.UnixNano())
	if err != nil {
		return fmt.Errorf("acquire lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	var holder string
	err = s.db.QueryRowContext(ctx, "SELECT run_id FROM leases WHERE entity_id = ?", entityID).Scan(&holder)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("query lease holder: %w", err)
	}
	return &ConflictError{
		Resource: "puppet environment",
		ID:       entityID,
		Reason:   fmt.Sprintf("run %s is already in flight", holder),
	}
}

// RenewLease pushes back the expiry of a lease runID holds.
func (s *SQLiteStore) RenewLease(ctx context.Context, entityID, runID string, ttl time.Duration) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE leases SET expires_at = ? WHERE entity_id = ? AND run_id = ?",
		s.now().Add(ttl).UnixNano(), entityID, runID)
	if err != nil {
		return fmt.Errorf("renew lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return &ConflictError{Resource: "puppet environment", ID: entityID, Reason: "lease lost"}
	}
	return nil
}

// ReleaseLease deletes the lease if runID still holds it.
func (s *SQLiteStore) ReleaseLease(ctx context.Context, entityID, runID string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM leases WHERE entity_id = ? AND run_id = ?", entityID, runID); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// insertError maps unique-constraint violations to ConflictError.
func insertError(resource, id string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return &ConflictError{Resource: resource, ID: id, Reason: sqliteErr.Error()}
	}
	return fmt.Errorf("write %s: %w", resource, err)
}
