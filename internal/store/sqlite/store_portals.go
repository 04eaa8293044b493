package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gatekeep/gatekeeper/internal/domain"
)

func scanPortal(row rowScanner) (domain.ClientPortalRecord, error) {
	var p domain.ClientPortalRecord
	var rawPerms string
	var lockedUntil, lastAccessed sql.NullTime
	if err := row.Scan(
		&p.ID, &p.WorkspaceID, &p.ClientID, &p.PortalURL, &p.AccessToken, &rawPerms,
		&p.IsActive, &p.IsLocked, &lockedUntil, &p.LoginAttempts, &p.ExpiresAt, &lastAccessed, &p.CreatedAt,
	); err != nil {
		return domain.ClientPortalRecord{}, err
	}
	p.LockedUntil = timePtr(lockedUntil)
	p.LastAccessedAt = timePtr(lastAccessed)
	if err := decodeJSON(rawPerms, &p.Permissions); err != nil {
		return domain.ClientPortalRecord{}, err
	}
	return p, nil
}

// GetPortalByURL returns the portal registered under the URL slug. The
// AccessToken field carries the stored token hash.
func (s *Store) GetPortalByURL(ctx context.Context, portalURL string) (domain.ClientPortalRecord, error) {
	portalURL = strings.TrimSpace(portalURL)
	var row *sql.Row
	if s.portalByURLStmt != nil {
		row = s.portalByURLStmt.QueryRowContext(ctx, portalURL)
	} else {
		row = s.db.QueryRowContext(ctx, portalByURLQuery, portalURL)
	}
	p, err := scanPortal(row)
	if err != nil {
		return domain.ClientPortalRecord{}, notFound(err, domain.ErrPortalNotFound)
	}
	return p, nil
}

// CreatePortal inserts a portal. p.AccessToken must already be hashed.
func (s *Store) CreatePortal(ctx context.Context, p domain.ClientPortalRecord) (domain.ClientPortalRecord, error) {
	if strings.TrimSpace(p.PortalURL) == "" || p.AccessToken == "" {
		return domain.ClientPortalRecord{}, errors.New("portal url and token hash are required")
	}
	if p.ID == "" {
		p.ID = newID()
	}
	p.CreatedAt = time.Now().UTC()
	perms := p.Permissions
	if perms == nil {
		perms = []string{}
	}
	rawPerms, err := encodeJSON(perms)
	if err != nil {
		return domain.ClientPortalRecord{}, err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO client_portals(id, workspace_id, client_id, portal_url, access_token_hash, permissions, is_active, is_locked, locked_until, login_attempts, expires_at, last_accessed_at, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, 0, NULL, 0, ?, NULL, ?)`,
		p.ID, p.WorkspaceID, p.ClientID, p.PortalURL, p.AccessToken, rawPerms,
		boolToInt(p.IsActive), p.ExpiresAt.UTC(), p.CreatedAt)
	if isUniqueViolation(err) {
		return domain.ClientPortalRecord{}, fmt.Errorf("portal url %q: %w", p.PortalURL, ErrHostnameInUse)
	}
	if err != nil {
		return domain.ClientPortalRecord{}, err
	}
	return p, nil
}

// UpdatePortal writes the lockout counters.
func (s *Store) UpdatePortal(ctx context.Context, portalID string, u domain.PortalUpdate) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE client_portals SET login_attempts = ?, is_locked = ?, locked_until = ? WHERE id = ?`,
		u.LoginAttempts, boolToInt(u.IsLocked), nullableTime(u.LockedUntil), portalID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("portal %s: %w", portalID, domain.ErrPortalNotFound)
	}
	return nil
}
