package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gatekeep/gatekeeper/internal/domain"
)

const (
	sslWriteTimeout        = 5 * time.Second
	defaultCleanupInterval = time.Minute
)

// queueSSLStatus records the latest wanted status for a domain and wakes
// the worker once per domain. Repeats of an already persisted status are
// dropped.
func (s *Server) queueSSLStatus(domainID string, status domain.SSLStatus) {
	domainID = strings.TrimSpace(domainID)
	if domainID == "" || s.sslUpdates == nil {
		return
	}
	s.sslMu.Lock()
	if s.sslKnown[domainID] == status {
		s.sslMu.Unlock()
		return
	}
	_, queued := s.sslPending[domainID]
	s.sslPending[domainID] = status
	s.sslMu.Unlock()
	if queued {
		return
	}

	select {
	case s.sslUpdates <- domainID:
	default:
		s.sslMu.Lock()
		delete(s.sslPending, domainID)
		s.sslMu.Unlock()
	}
}

func (s *Server) takeSSLStatus(domainID string) (domain.SSLStatus, bool) {
	s.sslMu.Lock()
	defer s.sslMu.Unlock()
	status, ok := s.sslPending[domainID]
	delete(s.sslPending, domainID)
	return status, ok
}

func (s *Server) runSSLStatusWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case domainID := <-s.sslUpdates:
			status, ok := s.takeSSLStatus(domainID)
			if !ok {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, sslWriteTimeout)
			err := s.domains.SetSSLStatus(writeCtx, domainID, status)
			cancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
					s.log.Warn("failed to update ssl status", "domain_id", domainID, "status", string(status), "err", err)
				}
				continue
			}
			s.sslMu.Lock()
			s.sslKnown[domainID] = status
			s.sslMu.Unlock()
			s.log.Info("ssl status updated", "domain_id", domainID, "status", string(status))
		}
	}
}

func (s *Server) runJanitor(ctx context.Context) {
	interval := s.cfg.CleanupInterval
	if interval <= 0 {
		interval = defaultCleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.limiter.Cleanup(); n > 0 {
				s.log.Debug("rate limit windows evicted", "count", n)
			}
		}
	}
}
