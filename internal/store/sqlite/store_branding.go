package sqlite

import (
	"context"
	"time"

	"github.com/gatekeep/gatekeeper/internal/domain"
)

// GetBrandingForWorkspace returns the branding override for domainID when
// one exists, otherwise the workspace default.
func (s *Store) GetBrandingForWorkspace(ctx context.Context, workspaceID, domainID string) (domain.BrandingRecord, error) {
	var b domain.BrandingRecord
	var colors, fonts, theme, meta string
	err := s.db.QueryRowContext(ctx, `
SELECT id, workspace_id, domain_id, colors, fonts, theme_config, company_meta, updated_at
FROM branding
WHERE workspace_id = ? AND (domain_id = ? OR domain_id = '')
ORDER BY domain_id = '' ASC
LIMIT 1`, workspaceID, domainID).Scan(
		&b.ID, &b.WorkspaceID, &b.DomainID, &colors, &fonts, &theme, &meta, &b.UpdatedAt,
	)
	if err != nil {
		return domain.BrandingRecord{}, notFound(err, domain.ErrBrandingNotFound)
	}
	for _, col := range []struct {
		raw string
		dst any
	}{
		{colors, &b.Colors},
		{fonts, &b.Fonts},
		{theme, &b.ThemeConfig},
		{meta, &b.CompanyMeta},
	} {
		if err := decodeJSON(col.raw, col.dst); err != nil {
			return domain.BrandingRecord{}, err
		}
	}
	return b, nil
}

// UpsertBranding writes the workspace default (empty DomainID) or a
// per-domain override.
func (s *Store) UpsertBranding(ctx context.Context, b domain.BrandingRecord) (domain.BrandingRecord, error) {
	if b.ID == "" {
		b.ID = newID()
	}
	b.UpdatedAt = time.Now().UTC()
	cols := make([]string, 0, 4)
	for _, v := range []any{b.Colors, b.Fonts, b.ThemeConfig, b.CompanyMeta} {
		raw, err := encodeJSON(v)
		if err != nil {
			return domain.BrandingRecord{}, err
		}
		cols = append(cols, raw)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO branding(id, workspace_id, domain_id, colors, fonts, theme_config, company_meta, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(workspace_id, domain_id) DO UPDATE SET
	colors = excluded.colors,
	fonts = excluded.fonts,
	theme_config = excluded.theme_config,
	company_meta = excluded.company_meta,
	updated_at = excluded.updated_at`,
		b.ID, b.WorkspaceID, b.DomainID, cols[0], cols[1], cols[2], cols[3], b.UpdatedAt)
	if err != nil {
		return domain.BrandingRecord{}, err
	}
	return b, nil
}
