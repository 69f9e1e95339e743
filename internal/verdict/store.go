// Package verdict persists verdict records so resubmitted transitions are
// answered idempotently.
package verdict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fractal-lba/bouncer/internal/api"
)

var (
	ErrUnknownBackend = errors.New("unknown verdict backend")
	ErrMissingID      = errors.New("verdict record has no id")
)

// Store provides idempotent storage of verdicts keyed by transition id.
type Store interface {
	// Get retrieves a stored verdict by id. Returns nil if not found or expired.
	Get(ctx context.Context, id string) (*api.VerdictRecord, error)

	// Set stores a verdict with TTL (0 means no expiration). First write wins.
	Set(ctx context.Context, rec *api.VerdictRecord, ttl time.Duration) error

	// Close releases resources
	Close() error
}

// Cleaner is implemented by stores that can drop expired verdicts in bulk.
// Redis expires keys itself and does not need it.
type Cleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// Auditor is implemented by stores that can list what they hold.
type Auditor interface {
	// List returns up to limit live verdicts, newest first.
	List(ctx context.Context, limit int) ([]api.VerdictRecord, error)
	// Count returns the number of live inlier and outlier verdicts.
	Count(ctx context.Context) (inliers, outliers int64, err error)
}

// Options selects and configures a backend.
type Options struct {
	Backend string // memory, redis, postgres or sqlite

	SnapshotPath  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PostgresConn  string
	SQLitePath    string
}

// Open creates the store named by opts.Backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", "memory":
		return NewMemoryStore(opts.SnapshotPath)
	case "redis":
		return NewRedisStore(ctx, opts.RedisAddr, opts.RedisPassword, opts.RedisDB)
	case "postgres":
		return NewPostgresStore(ctx, opts.PostgresConn)
	case "sqlite":
		return NewSQLiteStore(opts.SQLitePath)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// MemoryStore is an in-memory store with optional file snapshot
type MemoryStore struct {
	mu       sync.RWMutex
	store    map[string]*entry
	snapshot string // optional file path for persistence
	now      func() time.Time
}

type entry struct {
	Record    *api.VerdictRecord `json:"record"`
	ExpiresAt time.Time          `json:"expires_at"`
}

func (e *entry) live(now time.Time) bool {
	return e.ExpiresAt.IsZero() || now.Before(e.ExpiresAt)
}

// NewMemoryStore creates an in-memory store, loading live entries from
// snapshotPath when it exists.
func NewMemoryStore(snapshotPath string) (*MemoryStore, error) {
	ms := &MemoryStore{
		store:    make(map[string]*entry),
		snapshot: snapshotPath,
		now:      time.Now,
	}
	if snapshotPath != "" {
		if err := ms.loadSnapshot(); err != nil {
			return nil, err
		}
	}
	return ms, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*api.VerdictRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.store[id]
	if !ok || !e.live(m.now()) {
		return nil, nil
	}
	rec := *e.Record
	return &rec, nil
}

func (m *MemoryStore) Set(ctx context.Context, rec *api.VerdictRecord, ttl time.Duration) error {
	if rec.ID == "" {
		return ErrMissingID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, exists := m.store[rec.ID]; exists && e.live(now) {
		return nil
	}

	stored := *rec
	stored.Cached = false
	m.store[rec.ID] = &entry{Record: &stored, ExpiresAt: expiry(now, ttl)}
	return nil
}

// Len returns the number of live entries.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	n := 0
	for _, e := range m.store {
		if e.live(now) {
			n++
		}
	}
	return n
}

// CleanupExpired drops expired entries and returns how many were removed.
func (m *MemoryStore) CleanupExpired(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var n int64
	for id, e := range m.store {
		if !e.live(now) {
			delete(m.store, id)
			n++
		}
	}
	return n, nil
}

// Snapshot writes live entries to the snapshot file, if configured.
func (m *MemoryStore) Snapshot() error {
	if m.snapshot == "" {
		return nil
	}
	return m.saveSnapshot()
}

func (m *MemoryStore) Close() error {
	return m.Snapshot()
}

func (m *MemoryStore) loadSnapshot() error {
	data, err := os.ReadFile(m.snapshot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // no snapshot yet
		}
		return fmt.Errorf("read snapshot: %w", err)
	}

	var snapshot map[string]*entry
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, v := range snapshot {
		if v != nil && v.Record != nil && v.live(now) {
			m.store[k] = v
		}
	}
	return nil
}

func (m *MemoryStore) saveSnapshot() error {
	m.mu.RLock()
	now := m.now()
	toSave := make(map[string]*entry, len(m.store))
	for k, v := range m.store {
		if v.live(now) {
			toSave[k] = v
		}
	}
	data, err := json.MarshalIndent(toSave, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return err
	}

	tmp := m.snapshot + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return os.Rename(tmp, m.snapshot)
}
