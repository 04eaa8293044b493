package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gatekeep/gatekeeper/internal/domain"
)

// ChallengeRecordPrefix is the label under which tenants publish their
// ownership TXT record.
const ChallengeRecordPrefix = "_gatekeeper-challenge."

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDomain(row rowScanner) (domain.DomainRecord, error) {
	var d domain.DomainRecord
	var ssl, verification, rawRecords string
	var verifiedAt sql.NullTime
	if err := row.Scan(
		&d.ID, &d.WorkspaceID, &d.Domain, &d.Subdomain, &ssl, &verification, &rawRecords,
		&d.IsActive, &d.IsPrimary, &d.CreatedAt, &verifiedAt,
	); err != nil {
		return domain.DomainRecord{}, err
	}
	d.SSLStatus = domain.SSLStatus(ssl)
	d.VerificationStatus = domain.VerificationStatus(verification)
	d.VerifiedAt = timePtr(verifiedAt)
	if err := decodeJSON(rawRecords, &d.DNSRecords); err != nil {
		return domain.DomainRecord{}, err
	}
	return d, nil
}

// GetDomainByHost returns the custom domain record for host.
func (s *Store) GetDomainByHost(ctx context.Context, host string) (domain.DomainRecord, error) {
	host = normalizeHostname(host)
	var row *sql.Row
	if s.domainByHostStmt != nil {
		row = s.domainByHostStmt.QueryRowContext(ctx, host)
	} else {
		row = s.db.QueryRowContext(ctx, domainByHostQuery, host)
	}
	d, err := scanDomain(row)
	if err != nil {
		return domain.DomainRecord{}, notFound(err, domain.ErrDomainNotFound)
	}
	return d, nil
}

// GetDomainBySubdomain returns the platform subdomain record for label.
func (s *Store) GetDomainBySubdomain(ctx context.Context, label string) (domain.DomainRecord, error) {
	label = normalizeHostLabel(label)
	var row *sql.Row
	if s.domainBySubdomainStmt != nil {
		row = s.domainBySubdomainStmt.QueryRowContext(ctx, label)
	} else {
		row = s.db.QueryRowContext(ctx, domainBySubdomainQuery, label)
	}
	d, err := scanDomain(row)
	if err != nil {
		return domain.DomainRecord{}, notFound(err, domain.ErrDomainNotFound)
	}
	return d, nil
}

// AddCustomDomain registers host for a workspace in the pending state and
// records the TXT challenge the tenant must publish.
func (s *Store) AddCustomDomain(ctx context.Context, workspaceID, host, challenge string) (domain.DomainRecord, error) {
	host = normalizeHostname(host)
	if host == "" {
		return domain.DomainRecord{}, errors.New("domain is required")
	}
	d := domain.DomainRecord{
		ID:                 newID(),
		WorkspaceID:        workspaceID,
		Domain:             host,
		SSLStatus:          domain.SSLStatusPending,
		VerificationStatus: domain.VerificationPending,
		DNSRecords: []domain.DNSRecord{
			{Type: "TXT", Name: ChallengeRecordPrefix + host, Value: challenge},
		},
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.insertDomain(ctx, d); err != nil {
		return domain.DomainRecord{}, err
	}
	return d, nil
}

// AddSubdomain registers a platform subdomain label. The platform owns the
// parent zone so the record starts verified.
func (s *Store) AddSubdomain(ctx context.Context, workspaceID, label string, primary bool) (domain.DomainRecord, error) {
	label = normalizeHostLabel(label)
	if label == "" {
		return domain.DomainRecord{}, errors.New("subdomain is required")
	}
	now := time.Now().UTC()
	d := domain.DomainRecord{
		ID:                 newID(),
		WorkspaceID:        workspaceID,
		Subdomain:          label,
		SSLStatus:          domain.SSLStatusActive,
		VerificationStatus: domain.VerificationVerified,
		IsActive:           true,
		IsPrimary:          primary,
		CreatedAt:          now,
		VerifiedAt:         &now,
	}
	if err := s.insertDomain(ctx, d); err != nil {
		return domain.DomainRecord{}, err
	}
	return d, nil
}

func (s *Store) insertDomain(ctx context.Context, d domain.DomainRecord) error {
	records := d.DNSRecords
	if records == nil {
		records = []domain.DNSRecord{}
	}
	rawRecords, err := encodeJSON(records)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO domains(id, workspace_id, domain, subdomain, ssl_status, verification_status, dns_records, is_active, is_primary, created_at, verified_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.WorkspaceID, nullableString(d.Domain), nullableString(d.Subdomain),
		string(d.SSLStatus), string(d.VerificationStatus), rawRecords,
		boolToInt(d.IsActive), boolToInt(d.IsPrimary), d.CreatedAt, nullableTime(d.VerifiedAt))
	if isUniqueViolation(err) {
		return ErrHostnameInUse
	}
	return err
}

// SetDomainVerification advances the verification lifecycle. Reaching
// verified stamps verified_at.
func (s *Store) SetDomainVerification(ctx context.Context, domainID string, status domain.VerificationStatus) error {
	var res sql.Result
	var err error
	if status == domain.VerificationVerified {
		res, err = s.db.ExecContext(ctx, `UPDATE domains SET verification_status = ?, verified_at = ? WHERE id = ?`,
			string(status), time.Now().UTC(), domainID)
	} else {
		res, err = s.db.ExecContext(ctx, `UPDATE domains SET verification_status = ? WHERE id = ?`, string(status), domainID)
	}
	return requireRow(res, err, domainID)
}

func (s *Store) SetDomainSSLStatus(ctx context.Context, domainID string, status domain.SSLStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE domains SET ssl_status = ? WHERE id = ?`, string(status), domainID)
	return requireRow(res, err, domainID)
}

// SetDomainActive enables or disables a domain without touching its
// verification state.
func (s *Store) SetDomainActive(ctx context.Context, domainID string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE domains SET is_active = ? WHERE id = ?`, boolToInt(active), domainID)
	return requireRow(res, err, domainID)
}

// ListDomains returns the domains registered for a workspace.
func (s *Store) ListDomains(ctx context.Context, workspaceID string) ([]domain.DomainRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+domainColumns+` FROM domains WHERE workspace_id = ? ORDER BY created_at, id`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.DomainRecord
	for rows.Next() {
		d, err := scanDomain(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result, err error, id string) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("domain %s: %w", id, domain.ErrDomainNotFound)
	}
	return nil
}
