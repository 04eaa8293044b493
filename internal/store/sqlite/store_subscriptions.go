package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/gatekeep/gatekeeper/internal/domain"
)

func (s *Store) GetSubscriptionStatus(ctx context.Context, workspaceID string) (domain.SubscriptionState, error) {
	var status string
	var trialEnd sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT status, trial_end FROM subscriptions WHERE workspace_id = ?`, workspaceID).
		Scan(&status, &trialEnd)
	if err != nil {
		return domain.SubscriptionState{}, notFound(err, domain.ErrSubscriptionNotFound)
	}
	return domain.SubscriptionState{Status: domain.SubscriptionStatus(status), TrialEnd: timePtr(trialEnd)}, nil
}

// SetSubscription records the billing state mirrored for a workspace.
func (s *Store) SetSubscription(ctx context.Context, workspaceID string, state domain.SubscriptionState) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO subscriptions(workspace_id, status, trial_end, updated_at)
VALUES(?, ?, ?, ?)
ON CONFLICT(workspace_id) DO UPDATE SET
	status = excluded.status,
	trial_end = excluded.trial_end,
	updated_at = excluded.updated_at`,
		workspaceID, string(state.Status), nullableTime(state.TrialEnd), time.Now().UTC())
	return err
}
