// Package wal keeps an append-only log of raw transition submissions so they
// can be replayed after a crash or against a rebuilt monitor.
package wal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// MaxBodyBytes is the largest body Append accepts.
	MaxBodyBytes = 4 << 20
	// maxLine bounds one encoded entry: a base64 MaxBodyBytes body plus the
	// JSON envelope fits with room to spare.
	maxLine = 8 << 20
)

var ErrBodyTooLarge = errors.New("wal: body too large")

// InboxWAL provides write-ahead logging for incoming submissions
type InboxWAL struct {
	mu   sync.Mutex
	file *os.File
	dir  string
	path string
	now  func() time.Time
}

// Entry is one logged submission. Body is kept verbatim, even when it is not
// valid JSON.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	Body      []byte    `json:"body"`
}

// NewInboxWAL creates or opens today's inbox WAL file in dirPath
func NewInboxWAL(dirPath string) (*InboxWAL, error) {
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	w := &InboxWAL{dir: dirPath, now: time.Now}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *InboxWAL) fileFor(t time.Time) string {
	return filepath.Join(w.dir, fmt.Sprintf("inbox-%s.wal", t.UTC().Format("20060102")))
}

func (w *InboxWAL) open() error {
	walPath := w.fileFor(w.now())
	file, err := os.OpenFile(walPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open WAL file: %w", err)
	}
	w.file = file
	w.path = walPath
	return nil
}

// Path returns the file currently written to.
func (w *InboxWAL) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}

// Append writes a request body as one JSON line and fsyncs it
func (w *InboxWAL) Append(body []byte) error {
	if len(body) > MaxBodyBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrBodyTooLarge, len(body), MaxBodyBytes)
	}
	line, err := json.Marshal(Entry{Timestamp: time.Now().UTC(), Body: body})
	if err != nil {
		return fmt.Errorf("failed to encode WAL entry: %w", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Write(line); err != nil {
		return fmt.Errorf("failed to write WAL entry: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL: %w", err)
	}
	return nil
}

// Close flushes and closes the WAL
func (w *InboxWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Sync(); err != nil {
		return err
	}
	return w.file.Close()
}

// Replay reads all entries from a WAL file. Malformed lines, such as a
// torn final write, and lines longer than the entry limit are skipped and
// counted.
func Replay(walPath string) (entries []Entry, skipped int, err error) {
	file, err := os.Open(walPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	defer file.Close()

	reader := bufio.NewReaderSize(file, 64*1024)
	for {
		line, tooLong, err := readLine(reader)
		if err != nil && !errors.Is(err, io.EOF) {
			return entries, skipped, err
		}
		switch {
		case tooLong:
			skipped++
		case len(line) > 0:
			var e Entry
			if jerr := json.Unmarshal(line, &e); jerr != nil || e.Timestamp.IsZero() {
				skipped++
			} else {
				entries = append(entries, e)
			}
		}
		if err != nil {
			return entries, skipped, nil
		}
	}
}

// readLine returns the next line without its newline. A line longer than
// maxLine is consumed and reported as tooLong instead of being buffered.
func readLine(r *bufio.Reader) (line []byte, tooLong bool, err error) {
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > maxLine+1 {
				tooLong, line = true, nil
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if n := len(line); n > 0 && line[n-1] == '\n' {
			line = line[:n-1]
		}
		return line, tooLong, err
	}
}

// Rotate switches to the file for the current day and returns the path of
// the file it left. It is a no-op returning "" while the day has not changed.
func (w *InboxWAL) Rotate() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fileFor(w.now()) == w.path {
		return "", nil
	}

	oldPath := w.path
	if err := w.file.Sync(); err != nil {
		return "", fmt.Errorf("failed to sync current WAL: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return "", fmt.Errorf("failed to close current WAL: %w", err)
	}
	if err := w.open(); err != nil {
		return "", err
	}
	return oldPath, nil
}
