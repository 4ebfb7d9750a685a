package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"bagurumba/internal/models"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond

	// Fixed width keeps lexical order equal to chronological order.
	sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

	defaultQueryTimeout = 5 * time.Second
)

// SQLiteConfig describes a single-file SQLite datastore.
type SQLiteConfig struct {
	Path         string
	QueryTimeout time.Duration
	Clock        func() time.Time
}

type sqliteRepository struct {
	db  *sql.DB
	cfg SQLiteConfig
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    display_name TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL DEFAULT '',
    payment_status TEXT NOT NULL DEFAULT 'pending',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS videos (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    owner_name TEXT NOT NULL DEFAULT '',
    correlation_id TEXT NOT NULL UNIQUE,
    title TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL CHECK (status IN ('processing', 'ready', 'error')),
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS videos_owner_created_idx ON videos (owner_id, created_at DESC);
CREATE INDEX IF NOT EXISTS videos_status_created_idx ON videos (status, created_at DESC);
`

// NewSQLiteRepository opens (and migrates) the SQLite datastore at path.
func NewSQLiteRepository(path string, opts ...Option) (Repository, error) {
	cfg := SQLiteConfig{
		Path:         strings.TrimSpace(path),
		QueryTimeout: defaultQueryTimeout,
		Clock:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applySQLite(&cfg)
		}
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path required")
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if cfg.Path == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	repo := &sqliteRepository{db: db, cfg: cfg}
	ctx, cancel := repo.withTimeout(context.Background())
	defer cancel()
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialise sqlite schema: %w", err)
	}
	return repo, nil
}

// sqliteDSN carries the pragmas so every pooled connection gets them.
func sqliteDSN(path string) string {
	if path == ":memory:" {
		return path
	}
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func (r *sqliteRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.cfg.QueryTimeout)
}

func (r *sqliteRepository) now() time.Time {
	return r.cfg.Clock().UTC()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil || !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (r *sqliteRepository) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = r.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return res, err
}

func (r *sqliteRepository) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.db.PingContext(ctx)
}

func (r *sqliteRepository) Close(context.Context) error {
	return r.db.Close()
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(value string) (time.Time, error) {
	parsed, err := time.Parse(sqliteTimeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return parsed, nil
}

const sqliteVideoColumns = `id, owner_id, owner_name, correlation_id, title, category, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteVideo(row rowScanner) (models.VideoRecord, error) {
	var (
		video     models.VideoRecord
		status    string
		createdAt string
		updatedAt string
	)
	if err := row.Scan(&video.ID, &video.OwnerID, &video.OwnerName, &video.CorrelationID, &video.Title, &video.Category, &status, &createdAt, &updatedAt); err != nil {
		return models.VideoRecord{}, err
	}
	video.Status = models.VideoStatus(status)
	var err error
	if video.CreatedAt, err = parseSQLiteTime(createdAt); err != nil {
		return models.VideoRecord{}, err
	}
	if video.UpdatedAt, err = parseSQLiteTime(updatedAt); err != nil {
		return models.VideoRecord{}, err
	}
	return video, nil
}

func (r *sqliteRepository) queryVideos(ctx context.Context, query string, args ...any) ([]models.VideoRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	videos := make([]models.VideoRecord, 0)
	for rows.Next() {
		video, err := scanSQLiteVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, video)
	}
	return videos, rows.Err()
}

func (r *sqliteRepository) findVideo(ctx context.Context, correlationID string) (models.VideoRecord, bool, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sqliteVideoColumns+` FROM videos WHERE correlation_id = ?`, correlationID)
	video, err := scanSQLiteVideo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.VideoRecord{}, false, nil
	}
	if err != nil {
		return models.VideoRecord{}, false, fmt.Errorf("find video: %w", err)
	}
	return video, true, nil
}

func (r *sqliteRepository) CreateVideo(ctx context.Context, params CreateVideoParams) (models.VideoRecord, bool, error) {
	params, err := normalizeCreateVideoParams(params)
	if err != nil {
		return models.VideoRecord{}, false, err
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	now := formatSQLiteTime(r.now())
	res, err := r.exec(ctx, `
INSERT INTO videos (`+sqliteVideoColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (correlation_id) DO NOTHING`,
		generateID(), params.OwnerID, params.OwnerName, params.CorrelationID, params.Title, params.Category,
		string(models.VideoStatusProcessing), now, now)
	if err != nil {
		return models.VideoRecord{}, false, fmt.Errorf("insert video: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return models.VideoRecord{}, false, fmt.Errorf("insert video: %w", err)
	}
	video, ok, err := r.findVideo(ctx, params.CorrelationID)
	if err != nil {
		return models.VideoRecord{}, false, err
	}
	if !ok {
		return models.VideoRecord{}, false, fmt.Errorf("insert video: record %s vanished", params.CorrelationID)
	}
	return video, inserted == 1, nil
}

func (r *sqliteRepository) FindVideo(ctx context.Context, correlationID string) (models.VideoRecord, bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.findVideo(ctx, strings.TrimSpace(correlationID))
}

func (r *sqliteRepository) UpdateVideoStatus(ctx context.Context, correlationID string, status models.VideoStatus) (StatusUpdate, error) {
	if _, err := models.ParseVideoStatus(string(status)); err != nil {
		return StatusUpdate{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	correlationID = strings.TrimSpace(correlationID)
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := r.exec(ctx, `
UPDATE videos SET status = ?, updated_at = ?
WHERE correlation_id = ? AND status = 'processing' AND ? <> 'processing'`,
		string(status), formatSQLiteTime(r.now()), correlationID, string(status))
	if err != nil {
		return StatusUpdate{}, fmt.Errorf("update video status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return StatusUpdate{}, fmt.Errorf("update video status: %w", err)
	}
	video, ok, err := r.findVideo(ctx, correlationID)
	if err != nil {
		return StatusUpdate{}, err
	}
	if !ok {
		return StatusUpdate{}, ErrNotFound
	}
	return StatusUpdate{Record: video, Applied: affected == 1}, nil
}

func (r *sqliteRepository) ListVideosByOwner(ctx context.Context, ownerID string) ([]models.VideoRecord, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	videos, err := r.queryVideos(ctx, `
SELECT `+sqliteVideoColumns+` FROM videos
WHERE owner_id = ?
ORDER BY created_at DESC, id DESC`, strings.TrimSpace(ownerID))
	if err != nil {
		return nil, fmt.Errorf("list owner videos: %w", err)
	}
	return videos, nil
}

func (r *sqliteRepository) ListPublicVideos(ctx context.Context, filter PublicFilter) ([]models.VideoRecord, error) {
	filter = filter.normalized()
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	videos, err := r.queryVideos(ctx, `
SELECT `+sqliteVideoColumns+` FROM videos
WHERE status = ? AND (? = '' OR category = ?)
ORDER BY created_at DESC, id DESC
LIMIT ?`, string(filter.Status), filter.Category, filter.Category, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("list public videos: %w", err)
	}
	return videos, nil
}

func (r *sqliteRepository) ListStaleVideos(ctx context.Context, status models.VideoStatus, olderThan time.Time, limit int) ([]models.VideoRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	videos, err := r.queryVideos(ctx, `
SELECT `+sqliteVideoColumns+` FROM videos
WHERE status = ? AND created_at < ?
ORDER BY created_at ASC, id ASC
LIMIT ?`, string(status), formatSQLiteTime(olderThan), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale videos: %w", err)
	}
	return videos, nil
}

func (r *sqliteRepository) UpsertUser(ctx context.Context, params UpsertUserParams) (models.User, error) {
	params, err := normalizeUpsertUserParams(params)
	if err != nil {
		return models.User{}, err
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	payment := string(params.PaymentStatus)
	now := formatSQLiteTime(r.now())
	if _, err := r.exec(ctx, `
INSERT INTO users (id, display_name, category, payment_status, created_at, updated_at)
VALUES (?, ?, ?, CASE WHEN ? = '' THEN 'pending' ELSE ? END, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    display_name = CASE WHEN excluded.display_name <> '' THEN excluded.display_name ELSE users.display_name END,
    category = CASE WHEN excluded.category <> '' THEN excluded.category ELSE users.category END,
    payment_status = CASE WHEN ? <> '' THEN excluded.payment_status ELSE users.payment_status END,
    updated_at = excluded.updated_at`,
		params.ID, params.DisplayName, params.Category, payment, payment, now, now, payment); err != nil {
		return models.User{}, fmt.Errorf("upsert user: %w", err)
	}
	user, ok, err := r.getUser(ctx, params.ID)
	if err != nil {
		return models.User{}, err
	}
	if !ok {
		return models.User{}, fmt.Errorf("upsert user: record %s vanished", params.ID)
	}
	return user, nil
}

func scanSQLiteUser(row rowScanner) (models.User, error) {
	var (
		user      models.User
		payment   string
		createdAt string
		updatedAt string
	)
	if err := row.Scan(&user.ID, &user.DisplayName, &user.Category, &payment, &createdAt, &updatedAt); err != nil {
		return models.User{}, err
	}
	user.PaymentStatus = models.ParsePaymentStatus(payment)
	var err error
	if user.CreatedAt, err = parseSQLiteTime(createdAt); err != nil {
		return models.User{}, err
	}
	if user.UpdatedAt, err = parseSQLiteTime(updatedAt); err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (r *sqliteRepository) getUser(ctx context.Context, id string) (models.User, bool, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, display_name, category, payment_status, created_at, updated_at
FROM users WHERE id = ?`, id)
	user, err := scanSQLiteUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, false, nil
	}
	if err != nil {
		return models.User{}, false, fmt.Errorf("get user: %w", err)
	}
	return user, true, nil
}

func (r *sqliteRepository) GetUser(ctx context.Context, id string) (models.User, bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.getUser(ctx, strings.TrimSpace(id))
}

func (r *sqliteRepository) ListUsers(ctx context.Context) ([]models.User, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, `
SELECT id, display_name, category, payment_status, created_at, updated_at
FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	users := make([]models.User, 0)
	for rows.Next() {
		user, err := scanSQLiteUser(rows)
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}
