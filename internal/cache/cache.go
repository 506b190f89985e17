// Package cache implements the tiered response cache shared by all
// facades: a size-bounded memory tier over parsed JSON values backed by a
// per-key disk tier, with TTLs and coalescing of concurrent misses.
package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/xregistry/xrbridge/internal/logger"
)

// ComputeFunc produces the value for a key on a cache miss. The context is
// cancelled only when every waiter coalesced onto the flight has gone away.
type ComputeFunc func(ctx context.Context) (any, error)

// transienter is implemented by upstream errors that may clear on retry.
// A stale cache entry is preferred over surfacing such an error.
type transienter interface {
	Transient() bool
}

func isTransient(err error) bool {
	var t transienter
	return errors.As(err, &t) && t.Transient()
}

// Stats is a point-in-time snapshot of cache activity.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Size      int   `json:"size"`
	Evictions int64 `json:"evictions"`
}

type entry struct {
	value    any
	storedAt time.Time
	ttl      time.Duration
}

func (e *entry) fresh(now time.Time) bool {
	return now.Sub(e.storedAt) < e.ttl
}

// flight is one in-progress compute for a key. Waiters register before
// blocking on done; the last waiter to cancel releases the outbound work.
type flight struct {
	done    chan struct{}
	value   any
	err     error
	cancel  context.CancelFunc
	waiters atomic.Int32
}

// Manager is the tiered cache. A nil disk tier disables persistence.
type Manager struct {
	mem  *lru.Cache[string, *entry]
	disk *DiskTier

	mu      sync.Mutex
	flights map[string]*flight

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	now func() time.Time
}

// NewManager creates a cache bounded at maxSize memory entries, persisting
// through disk (which may be nil).
func NewManager(maxSize int, disk *DiskTier) (*Manager, error) {
	m := &Manager{
		disk:    disk,
		flights: make(map[string]*flight),
		now:     time.Now,
	}
	mem, err := lru.NewWithEvict[string, *entry](maxSize, func(string, *entry) {
		m.evictions.Add(1)
	})
	if err != nil {
		return nil, err
	}
	m.mem = mem
	return m, nil
}

// GetOrCompute returns the cached value for key, or runs compute under
// single-flight and stores the result with the given TTL. A stale value is
// served in place of a transient compute failure.
func (m *Manager) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) (any, error) {
	now := m.now()

	if e, ok := m.mem.Get(key); ok && e.fresh(now) {
		m.hits.Add(1)
		return e.value, nil
	}

	if m.disk != nil {
		if v, storedAt, entryTTL, ok := m.disk.Read(key); ok && now.Sub(storedAt) < entryTTL {
			m.hits.Add(1)
			m.mem.Add(key, &entry{value: v, storedAt: storedAt, ttl: entryTTL})
			return v, nil
		}
	}

	m.misses.Add(1)
	return m.compute(ctx, key, ttl, compute)
}

// compute coalesces concurrent misses for key onto one flight.
func (m *Manager) compute(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) (any, error) {
	m.mu.Lock()
	f, ok := m.flights[key]
	if !ok {
		// The flight owns a context detached from any single caller so that
		// one waiter's cancellation does not abort the shared request.
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{done: make(chan struct{}), cancel: cancel}
		m.flights[key] = f
		go func() {
			f.value, f.err = compute(fctx)
			m.mu.Lock()
			delete(m.flights, key)
			m.mu.Unlock()
			if f.err == nil {
				m.store(key, f.value, ttl)
			}
			cancel()
			close(f.done)
		}()
	}
	f.waiters.Add(1)
	m.mu.Unlock()

	select {
	case <-f.done:
		f.waiters.Add(-1)
		if f.err != nil {
			if v, ok := m.stale(key); ok && isTransient(f.err) {
				logger.FromContext(ctx).Warnf("serving stale cache entry for %s: %v", key, f.err)
				return v, nil
			}
			return nil, f.err
		}
		return f.value, nil
	case <-ctx.Done():
		if f.waiters.Add(-1) == 0 {
			f.cancel()
		}
		return nil, ctx.Err()
	}
}

// store writes a fresh value to both tiers.
func (m *Manager) store(key string, value any, ttl time.Duration) {
	storedAt := m.now()
	m.mem.Add(key, &entry{value: value, storedAt: storedAt, ttl: ttl})
	if m.disk != nil {
		if err := m.disk.Write(key, value, storedAt, ttl); err != nil {
			logger.Warnf("disk cache write failed for %s: %v", key, err)
		}
	}
}

// stale returns an expired value for key from either tier, if one survives.
func (m *Manager) stale(key string) (any, bool) {
	if e, ok := m.mem.Get(key); ok {
		return e.value, true
	}
	if m.disk != nil {
		if v, _, _, ok := m.disk.Read(key); ok {
			return v, true
		}
	}
	return nil, false
}

// Invalidate drops key from both tiers.
func (m *Manager) Invalidate(key string) {
	m.mem.Remove(key)
	if m.disk != nil {
		m.disk.Remove(key)
	}
}

// Stats snapshots cache activity.
func (m *Manager) Stats() Stats {
	return Stats{
		Hits:      m.hits.Load(),
		Misses:    m.misses.Load(),
		Size:      m.mem.Len(),
		Evictions: m.evictions.Load(),
	}
}
