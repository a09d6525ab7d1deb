package store

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// DefaultSourceTTL is how long an agent source stays listed after its last report.
const DefaultSourceTTL = 5 * time.Minute

// SourceStatus is the last reachability report an agent sent for one gateway.
type SourceStatus struct {
	SourceID   string    `json:"source_id"`
	SourceType string    `json:"source_type"`
	State      string    `json:"state"`
	UptimePct  float64   `json:"uptime_pct"`
	Points     int       `json:"points"` // data points in the last report
	UpdatedAt  time.Time `json:"updated_at"`
}

// Sources is a thread-safe in-memory registry of agent sources, keyed by
// source id. A background goroutine (Run) periodically evicts entries that
// have not reported within the TTL.
type Sources struct {
	mu   sync.RWMutex
	data map[string]*SourceStatus
	ttl  time.Duration
	now  func() time.Time // injectable for deterministic tests
}

// NewSources creates a Sources registry with the given TTL.
func NewSources(ttl time.Duration) *Sources {
	return &Sources{
		data: make(map[string]*SourceStatus),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Put stores or replaces the status for st.SourceID and stamps UpdatedAt.
func (s *Sources) Put(st SourceStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.UpdatedAt = s.now()
	s.data[st.SourceID] = &st
}

// Get returns the status for the given source id. It may be stale if the
// TTL has elapsed and Run has not evicted it yet.
func (s *Sources) Get(sourceID string) (SourceStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.data[sourceID]
	if !ok {
		return SourceStatus{}, false
	}
	return *st, true
}

// List returns every status updated within the TTL, ordered by source id.
func (s *Sources) List() []SourceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := s.now().Add(-s.ttl)
	out := make([]SourceStatus, 0, len(s.data))
	for _, st := range s.data {
		if st.UpdatedAt.After(cutoff) {
			out = append(out, *st)
		}
	}
	slices.SortFunc(out, func(a, b SourceStatus) int { return strings.Compare(a.SourceID, b.SourceID) })
	return out
}

// Count returns the total number of entries currently held, including stale ones.
func (s *Sources) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Evict removes entries whose UpdatedAt is older than now minus TTL.
// It returns the number of entries removed.
func (s *Sources) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.ttl)
	removed := 0
	for id, st := range s.data {
		if !st.UpdatedAt.After(cutoff) {
			delete(s.data, id)
			removed++
		}
	}
	return removed
}

// Run starts the background TTL eviction loop. It ticks at half the TTL
// (minimum 1 second). Run blocks until ctx is cancelled.
func (s *Sources) Run(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted stale sources", "count", n)
			}
		}
	}
}
