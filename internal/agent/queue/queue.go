// Package queue is the agent's local durable queue: a sqlite file holding
// closed activity segments and screenshots that still need to reach the
// server. Rows leave the queue only after the server has acknowledged them.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS activity_queue (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at   INTEGER NOT NULL,
	ended_at     INTEGER NOT NULL,
	app_name     TEXT    NOT NULL,
	window_title TEXT,
	url          TEXT,
	idle         INTEGER NOT NULL,
	device_id    TEXT
);
CREATE TABLE IF NOT EXISTS screen_queue (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	file_path       TEXT    NOT NULL,
	taken_at        INTEGER NOT NULL,
	device_id       TEXT,
	attempts        INTEGER NOT NULL DEFAULT 0,
	last_error      TEXT,
	last_attempt_at INTEGER,
	created_at      INTEGER NOT NULL
);`

// Segment is a closed activity interval waiting for delivery.
type Segment struct {
	ID          int64
	StartedAt   time.Time
	EndedAt     time.Time
	AppName     string
	WindowTitle *string
	URL         *string
	Idle        bool
	DeviceID    *string
}

// Screenshot is a captured image on disk whose upload has not been confirmed.
type Screenshot struct {
	ID            int64
	FilePath      string
	TakenAt       time.Time
	DeviceID      *string
	Attempts      int
	LastError     *string
	LastAttemptAt *time.Time
	CreatedAt     time.Time
}

// Stats reports queue depths.
type Stats struct {
	Activities  int `db:"activities"`
	Screenshots int `db:"screenshots"`
}

type activityRow struct {
	ID          int64          `db:"id"`
	StartedAt   int64          `db:"started_at"`
	EndedAt     int64          `db:"ended_at"`
	AppName     string         `db:"app_name"`
	WindowTitle sql.NullString `db:"window_title"`
	URL         sql.NullString `db:"url"`
	Idle        bool           `db:"idle"`
	DeviceID    sql.NullString `db:"device_id"`
}

type screenRow struct {
	ID            int64          `db:"id"`
	FilePath      string         `db:"file_path"`
	TakenAt       int64          `db:"taken_at"`
	DeviceID      sql.NullString `db:"device_id"`
	Attempts      int            `db:"attempts"`
	LastError     sql.NullString `db:"last_error"`
	LastAttemptAt sql.NullInt64  `db:"last_attempt_at"`
	CreatedAt     int64          `db:"created_at"`
}

// Queue serialises every read and write behind one lock so overlapping
// periodic jobs never interleave inside a statement sequence.
type Queue struct {
	mu sync.Mutex
	db *sqlx.DB
}

// Open creates or opens the queue file at path.
func Open(path string) (*Queue, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("queue: create dir: %w", err)
	}
	db, err := sqlx.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("queue: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("queue: migrate: %w", err)
	}
	return &Queue{db: db}, nil
}

// Close releases the database handle.
func (q *Queue) Close() error {
	return q.db.Close()
}

// EnqueueActivity appends a closed segment and returns its local id.
func (q *Queue) EnqueueActivity(ctx context.Context, seg Segment) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	res, err := q.db.ExecContext(ctx,
		`INSERT INTO activity_queue (started_at, ended_at, app_name, window_title, url, idle, device_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		seg.StartedAt.UnixNano(), seg.EndedAt.UnixNano(), seg.AppName,
		nullString(seg.WindowTitle), nullString(seg.URL), seg.Idle, nullString(seg.DeviceID))
	if err != nil {
		return 0, fmt.Errorf("queue: enqueue activity: %w", err)
	}
	return res.LastInsertId()
}

// DequeueActivities returns up to limit of the oldest segments in insertion
// order. The rows stay queued until DeleteActivities is called with their ids.
func (q *Queue) DequeueActivities(ctx context.Context, limit int) ([]Segment, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var rows []activityRow
	if err := q.db.SelectContext(ctx, &rows,
		`SELECT id, started_at, ended_at, app_name, window_title, url, idle, device_id
		 FROM activity_queue ORDER BY id ASC LIMIT ?`, limit); err != nil {
		return nil, fmt.Errorf("queue: dequeue activities: %w", err)
	}
	out := make([]Segment, 0, len(rows))
	for _, r := range rows {
		out = append(out, Segment{
			ID:          r.ID,
			StartedAt:   fromNanos(r.StartedAt),
			EndedAt:     fromNanos(r.EndedAt),
			AppName:     r.AppName,
			WindowTitle: stringPtr(r.WindowTitle),
			URL:         stringPtr(r.URL),
			Idle:        r.Idle,
			DeviceID:    stringPtr(r.DeviceID),
		})
	}
	return out, nil
}

// DeleteActivities removes exactly the given ids in one transaction.
func (q *Queue) DeleteActivities(ctx context.Context, ids []int64) error {
	return q.deleteIDs(ctx, "activity_queue", ids)
}

// EnqueueScreenshot records a blob on disk for later upload, carrying over
// any attempt already made.
func (q *Queue) EnqueueScreenshot(ctx context.Context, shot Screenshot) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	created := shot.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	var lastAttempt sql.NullInt64
	if shot.LastAttemptAt != nil {
		lastAttempt = sql.NullInt64{Int64: shot.LastAttemptAt.UnixNano(), Valid: true}
	}
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO screen_queue (file_path, taken_at, device_id, attempts, last_error, last_attempt_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		shot.FilePath, shot.TakenAt.UnixNano(), nullString(shot.DeviceID), shot.Attempts,
		nullString(shot.LastError), lastAttempt, created.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("queue: enqueue screenshot: %w", err)
	}
	return res.LastInsertId()
}

// PendingScreenshots returns up to limit queued screenshots, oldest first.
func (q *Queue) PendingScreenshots(ctx context.Context, limit int) ([]Screenshot, error) {
	return q.ScreenshotsAfter(ctx, 0, limit)
}

// ScreenshotsAfter returns up to limit queued screenshots with an id greater
// than afterID, oldest first.
func (q *Queue) ScreenshotsAfter(ctx context.Context, afterID int64, limit int) ([]Screenshot, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var rows []screenRow
	if err := q.db.SelectContext(ctx, &rows,
		`SELECT id, file_path, taken_at, device_id, attempts, last_error, last_attempt_at, created_at
		 FROM screen_queue WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit); err != nil {
		return nil, fmt.Errorf("queue: pending screenshots: %w", err)
	}
	out := make([]Screenshot, 0, len(rows))
	for _, r := range rows {
		shot := Screenshot{
			ID:        r.ID,
			FilePath:  r.FilePath,
			TakenAt:   fromNanos(r.TakenAt),
			DeviceID:  stringPtr(r.DeviceID),
			Attempts:  r.Attempts,
			LastError: stringPtr(r.LastError),
			CreatedAt: fromNanos(r.CreatedAt),
		}
		if r.LastAttemptAt.Valid {
			t := fromNanos(r.LastAttemptAt.Int64)
			shot.LastAttemptAt = &t
		}
		out = append(out, shot)
	}
	return out, nil
}

// DeleteScreenshots removes exactly the given ids in one transaction.
func (q *Queue) DeleteScreenshots(ctx context.Context, ids []int64) error {
	return q.deleteIDs(ctx, "screen_queue", ids)
}

// IncrementAttempt records a failed retry. The counter only ever grows.
func (q *Queue) IncrementAttempt(ctx context.Context, id int64, cause string, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, err := q.db.ExecContext(ctx,
		`UPDATE screen_queue SET attempts = attempts + 1, last_error = ?, last_attempt_at = ? WHERE id = ?`,
		cause, at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("queue: increment attempt: %w", err)
	}
	return nil
}

// Stats returns the current depth of both queues.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s Stats
	err := q.db.GetContext(ctx, &s,
		`SELECT (SELECT COUNT(*) FROM activity_queue) AS activities,
		        (SELECT COUNT(*) FROM screen_queue)   AS screenshots`)
	if err != nil {
		return Stats{}, fmt.Errorf("queue: stats: %w", err)
	}
	return s, nil
}

func (q *Queue) deleteIDs(ctx context.Context, table string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	query, args, err := sqlx.In("DELETE FROM "+table+" WHERE id IN (?)", ids)
	if err != nil {
		return err
	}
	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("queue: begin delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("queue: delete from %s: %w", table, err)
	}
	return tx.Commit()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
