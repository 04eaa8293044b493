package sqlite

import (
	"context"
	"strings"
	"time"
)

// TouchPortal records portal access at most once per touchMinInterval per
// portal.
func (s *Store) TouchPortal(ctx context.Context, portalID string) error {
	now := time.Now().UTC()
	if !s.reservePortalTouch(portalID, now) {
		return nil
	}

	_, err := s.db.ExecContext(ctx, `UPDATE client_portals SET last_accessed_at = ? WHERE id = ?`, now, portalID)
	if err != nil {
		s.rollbackPortalTouch(portalID, now)
	}
	return err
}

func (s *Store) reservePortalTouch(portalID string, now time.Time) bool {
	portalID = strings.TrimSpace(portalID)
	if portalID == "" {
		return false
	}

	s.touchMu.Lock()
	defer s.touchMu.Unlock()

	if now.After(s.nextTouchCleanupAt) {
		s.cleanupStaleTouchEntriesLocked(now)
		s.nextTouchCleanupAt = now.Add(s.touchCleanupInterval)
	}
	if last, ok := s.lastPortalTouch[portalID]; ok && now.Sub(last) < s.touchMinInterval {
		return false
	}
	s.lastPortalTouch[portalID] = now
	return true
}

func (s *Store) rollbackPortalTouch(portalID string, reservedAt time.Time) {
	s.touchMu.Lock()
	defer s.touchMu.Unlock()

	if last, ok := s.lastPortalTouch[portalID]; ok && last.Equal(reservedAt) {
		delete(s.lastPortalTouch, portalID)
	}
}

func (s *Store) cleanupStaleTouchEntriesLocked(now time.Time) {
	cutoff := now.Add(-(s.touchMinInterval * 4))
	for portalID, last := range s.lastPortalTouch {
		if last.Before(cutoff) {
			delete(s.lastPortalTouch, portalID)
		}
	}
}
