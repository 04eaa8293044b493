// Package audit keeps a bounded in-memory log of security-relevant gatekeeper
// decisions and fans them out to live subscribers.
package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event kinds.
const (
	KindDomainRejected   = "domain_rejected"
	KindOwnershipInvalid = "ownership_invalid"
	KindRateLimited      = "rate_limited"
	KindPortalDenied     = "portal_denied"
	KindPortalLocked     = "portal_locked"
	KindCertificate      = "certificate"
	KindRequestFiltered  = "request_filtered"
)

type Event struct {
	ID          string    `json:"id"`
	Time        time.Time `json:"time"`
	Kind        string    `json:"kind"`
	Host        string    `json:"host,omitempty"`
	WorkspaceID string    `json:"workspace_id,omitempty"`
	Path        string    `json:"path,omitempty"`
	ClientIP    string    `json:"client_ip,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Status      int       `json:"status,omitempty"`
	RequestID   string    `json:"request_id,omitempty"`
}

const defaultCapacity = 512

// Recorder is safe for concurrent use. Slow subscribers drop events rather
// than stall request handling.
type Recorder struct {
	mu   sync.Mutex
	ring []Event
	next int
	full bool
	subs map[chan Event]struct{}
	now  func() time.Time
}

func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Recorder{
		ring: make([]Event, capacity),
		subs: make(map[chan Event]struct{}),
		now:  time.Now,
	}
}

// Record stamps e and stores it.
func (r *Recorder) Record(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = r.now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.ring[r.next] = e
	r.next = (r.next + 1) % len(r.ring)
	if r.next == 0 {
		r.full = true
	}
	for ch := range r.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Recent returns up to n events, oldest first.
func (r *Recorder) Recent(n int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	if r.full {
		size = len(r.ring)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]Event, 0, n)
	start := (r.next - n + len(r.ring)) % len(r.ring)
	for i := 0; i < n; i++ {
		out = append(out, r.ring[(start+i)%len(r.ring)])
	}
	return out
}

// Subscribe registers a live listener. The returned cancel func must be
// called to release it; it closes the channel.
func (r *Recorder) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	r.mu.Lock()
	r.subs[ch] = struct{}{}
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, ch)
			r.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers reports the number of live listeners.
func (r *Recorder) Subscribers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}
