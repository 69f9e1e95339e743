// Package source isolates the producers submitting transitions: each source
// gets its own rate limiter and optional daily quota.
package source

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultID is used for submissions that name no source.
const DefaultID = "default"

var (
	ErrSourceNotFound = errors.New("source not found")
	ErrSourceInactive = errors.New("source is not active")
	ErrRateLimited    = errors.New("source rate limit exceeded")
	ErrQuotaExceeded  = errors.New("source daily quota exceeded")
	ErrInvalidID      = errors.New("invalid source ID")
)

// Source is one producer of transitions.
type Source struct {
	ID          string
	DisplayName string

	// Quotas
	TokenRate  int   // requests/second
	BurstRate  int   // burst capacity
	DailyQuota int64 // max requests per day (0 = unlimited)

	CreatedAt time.Time
	Active    bool
}

// Manager handles source registration and quota enforcement.
type Manager struct {
	mu       sync.RWMutex
	sources  map[string]*Source
	limiters map[string]*rate.Limiter
	usage    map[string]*usageCounter

	// unknown sources are admitted with defaultRate/defaultBurst unless strict
	strict       bool
	defaultRate  int
	defaultBurst int
	now          func() time.Time
}

type usageCounter struct {
	mu      sync.Mutex
	count   int64
	resetAt time.Time
}

// NewManager creates a manager. Unknown sources are registered on first use
// with the default limits unless strict is set.
func NewManager(defaultRate, defaultBurst int, strict bool) *Manager {
	return &Manager{
		sources:      make(map[string]*Source),
		limiters:     make(map[string]*rate.Limiter),
		usage:        make(map[string]*usageCounter),
		strict:       strict,
		defaultRate:  defaultRate,
		defaultBurst: defaultBurst,
		now:          time.Now,
	}
}

// Register adds or replaces a source.
func (m *Manager) Register(s *Source) error {
	if s.ID == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.register(s)
	return nil
}

func (m *Manager) register(s *Source) {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = m.now()
	}
	m.sources[s.ID] = s
	m.limiters[s.ID] = rate.NewLimiter(rate.Limit(s.TokenRate), s.BurstRate)
	m.usage[s.ID] = &usageCounter{resetAt: m.now().Add(24 * time.Hour)}
}

// Get retrieves a registered source.
func (m *Manager) Get(id string) (*Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sources[id]
	if !ok {
		return nil, ErrSourceNotFound
	}
	return s, nil
}

// Allow checks whether one more submission from id fits its rate limit and
// daily quota. An empty id means DefaultID.
func (m *Manager) Allow(id string) error {
	if id == "" {
		id = DefaultID
	}

	m.mu.RLock()
	s, ok := m.sources[id]
	limiter := m.limiters[id]
	usage := m.usage[id]
	m.mu.RUnlock()

	if !ok {
		if m.strict {
			return fmt.Errorf("%w: %q", ErrSourceNotFound, id)
		}
		m.mu.Lock()
		if s, ok = m.sources[id]; !ok {
			s = &Source{ID: id, TokenRate: m.defaultRate, BurstRate: m.defaultBurst, Active: true}
			m.register(s)
		}
		limiter, usage = m.limiters[id], m.usage[id]
		m.mu.Unlock()
	}

	if !s.Active {
		return fmt.Errorf("%w: %q", ErrSourceInactive, id)
	}
	if !limiter.AllowN(m.now(), 1) {
		return ErrRateLimited
	}

	if s.DailyQuota > 0 {
		usage.mu.Lock()
		defer usage.mu.Unlock()

		m.resetIfDue(usage)
		if usage.count >= s.DailyQuota {
			return ErrQuotaExceeded
		}
		usage.count++
	}
	return nil
}

func (m *Manager) resetIfDue(u *usageCounter) {
	if now := m.now(); now.After(u.resetAt) {
		u.count = 0
		u.resetAt = now.Add(24 * time.Hour)
	}
}

// Usage returns today's counted submissions for a source with a quota.
func (m *Manager) Usage(id string) (int64, error) {
	m.mu.RLock()
	usage, ok := m.usage[id]
	m.mu.RUnlock()

	if !ok {
		return 0, ErrSourceNotFound
	}

	usage.mu.Lock()
	defer usage.mu.Unlock()
	m.resetIfDue(usage)
	return usage.count, nil
}

// List returns all registered sources ordered by id.
func (m *Manager) List() []*Source {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Source, 0, len(m.sources))
	for _, s := range m.sources {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Update changes a source in place and applies new rate settings.
func (m *Manager) Update(id string, update func(*Source)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sources[id]
	if !ok {
		return ErrSourceNotFound
	}
	update(s)

	if limiter, ok := m.limiters[id]; ok {
		limiter.SetLimitAt(m.now(), rate.Limit(s.TokenRate))
		limiter.SetBurstAt(m.now(), s.BurstRate)
	}
	return nil
}

// Remove forgets a source.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sources, id)
	delete(m.limiters, id)
	delete(m.usage, id)
}
