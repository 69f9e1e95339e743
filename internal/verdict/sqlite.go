package verdict

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fractal-lba/bouncer/internal/api"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS verdicts (
	id          TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	digest      TEXT NOT NULL,
	inlier      INTEGER NOT NULL,
	world       INTEGER NOT NULL,
	outcomes    TEXT,
	latency_ms  REAL NOT NULL,
	created_at  INTEGER NOT NULL,
	expires_at  INTEGER
);

CREATE INDEX IF NOT EXISTS idx_verdicts_created ON verdicts(created_at);
`

// SQLiteStore keeps verdicts in a local SQLite file. Besides Store it
// supports listing and counting for audits.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens a SQLite database and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// one connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const selectColumns = `id, source, digest, inlier, world, outcomes, latency_ms, created_at`

func (s *SQLiteStore) Get(ctx context.Context, id string) (*api.VerdictRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM verdicts
		 WHERE id = ? AND (expires_at IS NULL OR expires_at > ?)`,
		id, s.now().UnixNano())
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get verdict: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) Set(ctx context.Context, rec *api.VerdictRecord, ttl time.Duration) error {
	if rec.ID == "" {
		return ErrMissingID
	}
	outcomes, err := json.Marshal(rec.Outcomes)
	if err != nil {
		return fmt.Errorf("marshal outcomes: %w", err)
	}

	now := s.now()
	var expiresAt sql.NullInt64
	if t := expiry(now, ttl); !t.IsZero() {
		expiresAt = sql.NullInt64{Int64: t.UnixNano(), Valid: true}
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO verdicts (id, source, digest, inlier, world, outcomes, latency_ms, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			source = excluded.source, digest = excluded.digest, inlier = excluded.inlier,
			world = excluded.world, outcomes = excluded.outcomes, latency_ms = excluded.latency_ms,
			created_at = excluded.created_at, expires_at = excluded.expires_at
		 WHERE verdicts.expires_at IS NOT NULL AND verdicts.expires_at <= ?`,
		rec.ID, rec.Source, rec.Digest, rec.Inlier, rec.World, string(outcomes), rec.LatencyMs,
		created.UnixNano(), expiresAt, now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert verdict: %w", err)
	}
	return nil
}

// List returns up to limit live verdicts, newest first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]api.VerdictRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM verdicts
		 WHERE expires_at IS NULL OR expires_at > ?
		 ORDER BY created_at DESC, id
		 LIMIT ?`,
		s.now().UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("list verdicts: %w", err)
	}
	defer rows.Close()

	var out []api.VerdictRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan verdict: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Count returns the number of live inlier and outlier verdicts.
func (s *SQLiteStore) Count(ctx context.Context) (inliers, outliers int64, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(inlier), 0), COALESCE(SUM(1 - inlier), 0) FROM verdicts
		 WHERE expires_at IS NULL OR expires_at > ?`,
		s.now().UnixNano()).Scan(&inliers, &outliers)
	if err != nil {
		return 0, 0, fmt.Errorf("count verdicts: %w", err)
	}
	return inliers, outliers, nil
}

// CleanupExpired deletes expired rows and returns how many were removed.
func (s *SQLiteStore) CleanupExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM verdicts WHERE expires_at IS NOT NULL AND expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*api.VerdictRecord, error) {
	var (
		rec      api.VerdictRecord
		outcomes sql.NullString
		created  int64
	)
	if err := sc.Scan(&rec.ID, &rec.Source, &rec.Digest, &rec.Inlier, &rec.World, &outcomes, &rec.LatencyMs, &created); err != nil {
		return nil, err
	}
	if outcomes.Valid && outcomes.String != "" && outcomes.String != "null" {
		if err := json.Unmarshal([]byte(outcomes.String), &rec.Outcomes); err != nil {
			return nil, fmt.Errorf("unmarshal outcomes: %w", err)
		}
	}
	rec.CreatedAt = time.Unix(0, created).UTC()
	return &rec, nil
}
