package cache

import (
	"testing"
	"time"

	"github.com/fractal-lba/bouncer/internal/api"
)

func record(digest string, inlier bool) api.VerdictRecord {
	return api.VerdictRecord{ID: "id-" + digest, Digest: digest, Inlier: inlier, World: -1}
}

func TestVerdictCache_BasicOperations(t *testing.T) {
	c, err := NewVerdictCache(2, 0)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}

	c.Add(record("a", true))
	if got, ok := c.Get("a"); !ok || !got.Inlier || got.ID != "id-a" {
		t.Errorf("Get(a) = (%+v, %v), want inlier id-a", got, ok)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) should return false")
	}

	// b then c evicts a, the least recently used
	c.Add(record("b", false))
	c.Get("b")
	c.Add(record("c", false))
	if _, ok := c.Get("a"); ok {
		t.Error("a should have been evicted")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestVerdictCache_IgnoresRecordsWithoutDigest(t *testing.T) {
	c, _ := NewVerdictCache(4, 0)
	c.Add(api.VerdictRecord{ID: "x"})
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestVerdictCache_InvalidSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		if _, err := NewVerdictCache(size, 0); err != ErrInvalidSize {
			t.Errorf("NewVerdictCache(%d) error = %v, want ErrInvalidSize", size, err)
		}
	}
}

func TestVerdictCache_Expiration(t *testing.T) {
	c, _ := NewVerdictCache(10, time.Minute)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	c.Add(record("a", true))
	if _, ok := c.Get("a"); !ok {
		t.Error("a should be present before expiration")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Error("a should have expired")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not removed, Len() = %d", c.Len())
	}
}

func TestVerdictCache_CleanupExpired(t *testing.T) {
	c, _ := NewVerdictCache(10, time.Minute)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	c.Add(record("old1", true))
	c.Add(record("old2", true))
	now = now.Add(30 * time.Second)
	c.Add(record("fresh", true))
	now = now.Add(45 * time.Second)

	if removed := c.CleanupExpired(); removed != 2 {
		t.Errorf("CleanupExpired() = %d, want 2", removed)
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Error("fresh should survive cleanup")
	}
}

func TestVerdictCache_Stats(t *testing.T) {
	c, _ := NewVerdictCache(1, 0)

	c.Add(record("a", true))
	c.Get("a")
	c.Get("a")
	c.Get("b")
	c.Add(record("b", true))

	s := c.Stats()
	if s.Hits != 2 || s.Misses != 1 {
		t.Errorf("hits/misses = %d/%d, want 2/1", s.Hits, s.Misses)
	}
	if s.Evicted != 1 {
		t.Errorf("Evicted = %d, want 1", s.Evicted)
	}
	if s.Size != 1 {
		t.Errorf("Size = %d, want 1", s.Size)
	}
	if want := 2.0 / 3.0; s.HitRate < want-1e-9 || s.HitRate > want+1e-9 {
		t.Errorf("HitRate = %v, want %v", s.HitRate, want)
	}
}

func TestVerdictCache_Purge(t *testing.T) {
	c, _ := NewVerdictCache(4, 0)
	c.Add(record("a", true))
	c.Add(record("b", false))
	c.Purge()
	if c.Len() != 0 {
		t.Errorf("Len() after Purge = %d, want 0", c.Len())
	}
}
