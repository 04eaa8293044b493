// Package sqlite implements the gatekeeper data store backed by a SQLite
// database. It holds workspaces, domains, branding, client portals, and
// subscription state.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrHostnameInUse is returned when a domain or subdomain is already
// registered.
var ErrHostnameInUse = errors.New("hostname already in use")

// Store wraps a SQLite database connection for all gatekeeper persistence
// operations.
type Store struct {
	db *sql.DB

	domainByHostStmt      *sql.Stmt
	domainBySubdomainStmt *sql.Stmt
	portalByURLStmt       *sql.Stmt

	touchMu              sync.Mutex
	lastPortalTouch      map[string]time.Time
	touchMinInterval     time.Duration
	touchCleanupInterval time.Duration
	nextTouchCleanupAt   time.Time
}

const defaultTouchMinInterval = 30 * time.Second
const defaultTouchCleanupInterval = 5 * time.Minute

const defaultMaxOpenConns = 4
const defaultMaxIdleConns = 4

const domainColumns = `id, workspace_id, COALESCE(domain, ''), COALESCE(subdomain, ''), ssl_status, verification_status, dns_records, is_active, is_primary, created_at, verified_at`
const domainByHostQuery = `SELECT ` + domainColumns + ` FROM domains WHERE domain = ? LIMIT 1`
const domainBySubdomainQuery = `SELECT ` + domainColumns + ` FROM domains WHERE subdomain = ? LIMIT 1`

const portalColumns = `id, workspace_id, client_id, portal_url, access_token_hash, permissions, is_active, is_locked, locked_until, login_attempts, expires_at, last_accessed_at, created_at`
const portalByURLQuery = `SELECT ` + portalColumns + ` FROM client_portals WHERE portal_url = ? LIMIT 1`

// OpenOptions controls SQLite connection pool sizing.
type OpenOptions struct {
	MaxOpenConns int
	MaxIdleConns int
}

// Open creates or opens the SQLite database at path, runs migrations, and
// enables WAL mode for improved concurrent read performance.
func Open(path string) (*Store, error) {
	return OpenWithOptions(path, OpenOptions{})
}

// OpenWithOptions creates or opens the SQLite database at path with tunable
// connection pool settings, runs migrations, and enables WAL mode.
func OpenWithOptions(path string, opts OpenOptions) (*Store, error) {
	if err := ensureParentDir(path); err != nil {
		return nil, err
	}
	// Append per-connection PRAGMAs to the DSN so every pooled connection gets them.
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_pragma=foreign_keys(1)&_pragma=synchronous(normal)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	maxOpenConns := opts.MaxOpenConns
	if maxOpenConns <= 0 {
		maxOpenConns = defaultMaxOpenConns
	}
	maxIdleConns := opts.MaxIdleConns
	if maxIdleConns <= 0 {
		maxIdleConns = defaultMaxIdleConns
	}
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)

	// journal_mode and busy_timeout are database-wide; set them once here.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite setup (%s): %w", pragma, err)
		}
	}
	now := time.Now().UTC()
	s := &Store{
		db:                   db,
		lastPortalTouch:      make(map[string]time.Time),
		touchMinInterval:     defaultTouchMinInterval,
		touchCleanupInterval: defaultTouchCleanupInterval,
		nextTouchCleanupAt:   now.Add(defaultTouchCleanupInterval),
	}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.prepareStatements(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	stmtErr := s.closePreparedStatements()
	return errors.Join(stmtErr, s.db.Close())
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) prepareStatements(ctx context.Context) error {
	var err error
	if s.domainByHostStmt, err = s.db.PrepareContext(ctx, domainByHostQuery); err != nil {
		return fmt.Errorf("prepare domain by host query: %w", err)
	}
	if s.domainBySubdomainStmt, err = s.db.PrepareContext(ctx, domainBySubdomainQuery); err != nil {
		closeErr := s.closePreparedStatements()
		return errors.Join(fmt.Errorf("prepare domain by subdomain query: %w", err), closeErr)
	}
	if s.portalByURLStmt, err = s.db.PrepareContext(ctx, portalByURLQuery); err != nil {
		closeErr := s.closePreparedStatements()
		return errors.Join(fmt.Errorf("prepare portal by url query: %w", err), closeErr)
	}
	return nil
}

func (s *Store) closePreparedStatements() error {
	var err error
	err = errors.Join(err, closeStmt(&s.domainByHostStmt))
	err = errors.Join(err, closeStmt(&s.domainBySubdomainStmt))
	err = errors.Join(err, closeStmt(&s.portalByURLStmt))
	return err
}

func closeStmt(stmt **sql.Stmt) error {
	if stmt == nil || *stmt == nil {
		return nil
	}
	err := (*stmt).Close()
	*stmt = nil
	return err
}

// Migrate creates all required tables and indexes if they do not already exist.
func (s *Store) Migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS workspaces (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	white_label INTEGER NOT NULL DEFAULT 0,
	feature_flags TEXT NOT NULL DEFAULT '{}',
	show_cookie_banner INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS domains (
	id TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
	domain TEXT NULL UNIQUE,
	subdomain TEXT NULL UNIQUE,
	ssl_status TEXT NOT NULL,
	verification_status TEXT NOT NULL,
	dns_records TEXT NOT NULL DEFAULT '[]',
	is_active INTEGER NOT NULL DEFAULT 1,
	is_primary INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	verified_at DATETIME NULL
);
CREATE TABLE IF NOT EXISTS branding (
	id TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
	domain_id TEXT NOT NULL DEFAULT '',
	colors TEXT NOT NULL,
	fonts TEXT NOT NULL,
	theme_config TEXT NOT NULL,
	company_meta TEXT NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE (workspace_id, domain_id)
);
CREATE TABLE IF NOT EXISTS client_portals (
	id TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
	client_id TEXT NOT NULL,
	portal_url TEXT NOT NULL UNIQUE,
	access_token_hash TEXT NOT NULL,
	permissions TEXT NOT NULL DEFAULT '[]',
	is_active INTEGER NOT NULL DEFAULT 1,
	is_locked INTEGER NOT NULL DEFAULT 0,
	locked_until DATETIME NULL,
	login_attempts INTEGER NOT NULL DEFAULT 0,
	expires_at DATETIME NOT NULL,
	last_accessed_at DATETIME NULL,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS subscriptions (
	workspace_id TEXT PRIMARY KEY REFERENCES workspaces(id) ON DELETE CASCADE,
	status TEXT NOT NULL,
	trial_end DATETIME NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_domains_workspace_id ON domains(workspace_id);
CREATE INDEX IF NOT EXISTS idx_domains_verification ON domains(verification_status, is_active);
CREATE INDEX IF NOT EXISTS idx_client_portals_workspace_id ON client_portals(workspace_id);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return err
	}
	// Older databases predate primary-domain tracking.
	if _, err := s.db.ExecContext(ctx, `ALTER TABLE domains ADD COLUMN is_primary INTEGER NOT NULL DEFAULT 0`); err != nil {
		if !strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
			return err
		}
	}
	return nil
}
