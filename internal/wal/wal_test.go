package wal

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAppendReplay(t *testing.T) {
	dir := t.TempDir()
	w, err := NewInboxWAL(dir)
	if err != nil {
		t.Fatalf("NewInboxWAL: %v", err)
	}

	bodies := []string{
		`{"id":"t1","observations":{"x0":{"before":0,"after":0.1}}}`,
		`not json | with pipes and spaces`,
		"",
	}
	for _, b := range bodies {
		if err := w.Append([]byte(b)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, skipped, err := Replay(w.Path())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if skipped != 0 {
		t.Errorf("skipped = %d, want 0", skipped)
	}
	if len(entries) != len(bodies) {
		t.Fatalf("len(entries) = %d, want %d", len(entries), len(bodies))
	}
	for i, e := range entries {
		if string(e.Body) != bodies[i] {
			t.Errorf("entry %d body = %q, want %q", i, e.Body, bodies[i])
		}
		if e.Timestamp.IsZero() {
			t.Errorf("entry %d has no timestamp", i)
		}
	}
}

func TestReplaySkipsTornWrites(t *testing.T) {
	dir := t.TempDir()
	w, _ := NewInboxWAL(dir)
	w.Append([]byte(`{"a":1}`))
	w.Close()

	f, err := os.OpenFile(w.Path(), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(`{"ts":"2024-01-01T00:00:00Z","body":"eyJh` + "\n")
	f.WriteString("garbage\n")
	f.Close()

	entries, skipped, err := Replay(w.Path())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(entries) != 1 || skipped != 2 {
		t.Errorf("entries/skipped = %d/%d, want 1/2", len(entries), skipped)
	}
}

func TestReplayMissingFile(t *testing.T) {
	entries, skipped, err := Replay(filepath.Join(t.TempDir(), "none.wal"))
	if err != nil || entries != nil || skipped != 0 {
		t.Errorf("Replay(missing) = (%v, %d, %v), want empty", entries, skipped, err)
	}
}

func TestRotate(t *testing.T) {
	dir := t.TempDir()
	w, err := NewInboxWAL(dir)
	if err != nil {
		t.Fatalf("NewInboxWAL: %v", err)
	}
	defer w.Close()
	day := time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return day }

	// same day as the open file is not guaranteed, so settle on a known one
	if _, err := w.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if got := filepath.Base(w.Path()); got != "inbox-20240301.wal" {
		t.Fatalf("Path = %s", got)
	}
	w.Append([]byte("first"))

	old, err := w.Rotate()
	if err != nil || old != "" {
		t.Errorf("Rotate on the same day = (%q, %v), want no-op", old, err)
	}

	day = day.Add(2 * time.Hour)
	old, err = w.Rotate()
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if filepath.Base(old) != "inbox-20240301.wal" || filepath.Base(w.Path()) != "inbox-20240302.wal" {
		t.Errorf("rotated %s -> %s", old, w.Path())
	}
	if err := w.Append([]byte("second")); err != nil {
		t.Fatalf("Append after rotate: %v", err)
	}

	first, _, _ := Replay(old)
	second, _, _ := Replay(w.Path())
	if len(first) != 1 || string(first[0].Body) != "first" {
		t.Errorf("old file entries = %+v", first)
	}
	if len(second) != 1 || string(second[0].Body) != "second" {
		t.Errorf("new file entries = %+v", second)
	}
}

func TestReplayLargeEntries(t *testing.T) {
	dir := t.TempDir()
	w, err := NewInboxWAL(dir)
	if err != nil {
		t.Fatalf("NewInboxWAL: %v", err)
	}

	large := strings.Repeat("x", 3<<20+512<<10)
	if err := w.Append([]byte(`{"n":1}`)); err != nil {
		t.Fatalf("Append small: %v", err)
	}
	if err := w.Append([]byte(large)); err != nil {
		t.Fatalf("Append large: %v", err)
	}
	if err := w.Append(make([]byte, MaxBodyBytes+1)); !errors.Is(err, ErrBodyTooLarge) {
		t.Errorf("Append oversized = %v, want ErrBodyTooLarge", err)
	}
	w.Close()

	// a line no entry can produce, then one more good entry
	f, err := os.OpenFile(w.Path(), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(strings.Repeat("y", maxLine+10) + "\n")
	f.Close()

	w2, _ := NewInboxWAL(dir)
	w2.Append([]byte(`{"n":2}`))
	w2.Close()

	entries, skipped, err := Replay(w.Path())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if skipped != 1 {
		t.Errorf("skipped = %d, want 1", skipped)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}
	if len(entries[1].Body) != len(large) || string(entries[2].Body) != `{"n":2}` {
		t.Errorf("bodies = %d bytes, %q", len(entries[1].Body), entries[2].Body)
	}
}
