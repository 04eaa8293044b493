package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/gatekeep/gatekeeper/internal/domain"
)

// CreateWorkspace inserts a workspace and returns it with its generated ID.
func (s *Store) CreateWorkspace(ctx context.Context, ws domain.Workspace) (domain.Workspace, error) {
	ws.Name = strings.TrimSpace(ws.Name)
	if ws.ID == "" {
		ws.ID = newID()
	}
	ws.CreatedAt = time.Now().UTC()
	flags := ws.FeatureFlags
	if flags == nil {
		flags = domain.FeatureFlags{}
	}
	rawFlags, err := encodeJSON(flags)
	if err != nil {
		return domain.Workspace{}, err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO workspaces(id, name, white_label, feature_flags, show_cookie_banner, created_at)
VALUES(?, ?, ?, ?, ?, ?)`,
		ws.ID, ws.Name, boolToInt(ws.WhiteLabel), rawFlags, boolToInt(ws.ShowCookieBanner), ws.CreatedAt)
	if err != nil {
		return domain.Workspace{}, err
	}
	return ws, nil
}

func (s *Store) GetWorkspace(ctx context.Context, id string) (domain.Workspace, error) {
	var ws domain.Workspace
	var rawFlags string
	err := s.db.QueryRowContext(ctx, `
SELECT id, name, white_label, feature_flags, show_cookie_banner, created_at
FROM workspaces WHERE id = ?`, strings.TrimSpace(id)).Scan(
		&ws.ID, &ws.Name, &ws.WhiteLabel, &rawFlags, &ws.ShowCookieBanner, &ws.CreatedAt,
	)
	if err != nil {
		return domain.Workspace{}, notFound(err, domain.ErrWorkspaceNotFound)
	}
	if err := decodeJSON(rawFlags, &ws.FeatureFlags); err != nil {
		return domain.Workspace{}, err
	}
	return ws, nil
}

// ListWorkspaces returns every workspace ordered by creation time.
func (s *Store) ListWorkspaces(ctx context.Context) ([]domain.Workspace, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, white_label, feature_flags, show_cookie_banner, created_at
FROM workspaces ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Workspace
	for rows.Next() {
		var ws domain.Workspace
		var rawFlags string
		if err := rows.Scan(&ws.ID, &ws.Name, &ws.WhiteLabel, &rawFlags, &ws.ShowCookieBanner, &ws.CreatedAt); err != nil {
			return nil, err
		}
		if err := decodeJSON(rawFlags, &ws.FeatureFlags); err != nil {
			return nil, err
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}
