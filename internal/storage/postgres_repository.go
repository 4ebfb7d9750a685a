package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bagurumba/internal/models"
)

type postgresRepository struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    display_name TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL DEFAULT '',
    payment_status TEXT NOT NULL DEFAULT 'pending',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS videos (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    owner_name TEXT NOT NULL DEFAULT '',
    correlation_id TEXT NOT NULL,
    title TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL CHECK (status IN ('processing', 'ready', 'error')),
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    CONSTRAINT videos_correlation_id_key UNIQUE (correlation_id)
);
CREATE INDEX IF NOT EXISTS videos_owner_created_idx ON videos (owner_id, created_at DESC);
CREATE INDEX IF NOT EXISTS videos_status_created_idx ON videos (status, created_at DESC);
`

// NewPostgresRepository opens a pgx pool and ensures the schema exists.
func NewPostgresRepository(dsn string, opts ...Option) (Repository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initialise postgres schema: %w", err)
	}
	return &postgresRepository{pool: pool, cfg: cfg}, nil
}

func (r *postgresRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.cfg.QueryTimeout)
}

func (r *postgresRepository) now() time.Time {
	return r.cfg.Clock().UTC()
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return ErrPostgresUnavailable
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.pool.Ping(ctx)
}

func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

const postgresVideoColumns = `id, owner_id, owner_name, correlation_id, title, category, status, created_at, updated_at`

func scanPostgresVideo(row pgx.Row) (models.VideoRecord, error) {
	var (
		video  models.VideoRecord
		status string
	)
	if err := row.Scan(&video.ID, &video.OwnerID, &video.OwnerName, &video.CorrelationID, &video.Title, &video.Category, &status, &video.CreatedAt, &video.UpdatedAt); err != nil {
		return models.VideoRecord{}, err
	}
	video.Status = models.VideoStatus(status)
	video.CreatedAt = video.CreatedAt.UTC()
	video.UpdatedAt = video.UpdatedAt.UTC()
	return video, nil
}

func (r *postgresRepository) queryVideos(ctx context.Context, query string, args ...any) ([]models.VideoRecord, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	videos := make([]models.VideoRecord, 0)
	for rows.Next() {
		video, err := scanPostgresVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, video)
	}
	return videos, rows.Err()
}

func (r *postgresRepository) findVideo(ctx context.Context, correlationID string) (models.VideoRecord, bool, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+postgresVideoColumns+` FROM videos WHERE correlation_id = $1`, correlationID)
	video, err := scanPostgresVideo(row)
	if isNoRows(err) {
		return models.VideoRecord{}, false, nil
	}
	if err != nil {
		return models.VideoRecord{}, false, fmt.Errorf("find video: %w", err)
	}
	return video, true, nil
}

func (r *postgresRepository) CreateVideo(ctx context.Context, params CreateVideoParams) (models.VideoRecord, bool, error) {
	if r == nil || r.pool == nil {
		return models.VideoRecord{}, false, ErrPostgresUnavailable
	}
	params, err := normalizeCreateVideoParams(params)
	if err != nil {
		return models.VideoRecord{}, false, err
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	now := r.now()
	row := r.pool.QueryRow(ctx, `
INSERT INTO videos (`+postgresVideoColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
ON CONFLICT ON CONSTRAINT videos_correlation_id_key DO NOTHING
RETURNING `+postgresVideoColumns,
		generateID(), params.OwnerID, params.OwnerName, params.CorrelationID, params.Title, params.Category,
		string(models.VideoStatusProcessing), now)
	video, err := scanPostgresVideo(row)
	if err == nil {
		return video, true, nil
	}
	if !isNoRows(err) {
		return models.VideoRecord{}, false, fmt.Errorf("insert video: %w", err)
	}
	existing, ok, err := r.findVideo(ctx, params.CorrelationID)
	if err != nil {
		return models.VideoRecord{}, false, err
	}
	if !ok {
		return models.VideoRecord{}, false, fmt.Errorf("insert video: record %s vanished", params.CorrelationID)
	}
	return existing, false, nil
}

func (r *postgresRepository) FindVideo(ctx context.Context, correlationID string) (models.VideoRecord, bool, error) {
	if r == nil || r.pool == nil {
		return models.VideoRecord{}, false, ErrPostgresUnavailable
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.findVideo(ctx, strings.TrimSpace(correlationID))
}

func (r *postgresRepository) UpdateVideoStatus(ctx context.Context, correlationID string, status models.VideoStatus) (StatusUpdate, error) {
	if r == nil || r.pool == nil {
		return StatusUpdate{}, ErrPostgresUnavailable
	}
	if _, err := models.ParseVideoStatus(string(status)); err != nil {
		return StatusUpdate{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	correlationID = strings.TrimSpace(correlationID)
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	row := r.pool.QueryRow(ctx, `
UPDATE videos SET status = $2::text, updated_at = $3
WHERE correlation_id = $1 AND status = 'processing' AND $2::text <> 'processing'
RETURNING `+postgresVideoColumns, correlationID, string(status), r.now())
	video, err := scanPostgresVideo(row)
	if err == nil {
		return StatusUpdate{Record: video, Applied: true}, nil
	}
	if !isNoRows(err) {
		return StatusUpdate{}, fmt.Errorf("update video status: %w", err)
	}
	current, ok, err := r.findVideo(ctx, correlationID)
	if err != nil {
		return StatusUpdate{}, err
	}
	if !ok {
		return StatusUpdate{}, ErrNotFound
	}
	return StatusUpdate{Record: current}, nil
}

func (r *postgresRepository) ListVideosByOwner(ctx context.Context, ownerID string) ([]models.VideoRecord, error) {
	if r == nil || r.pool == nil {
		return nil, ErrPostgresUnavailable
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	videos, err := r.queryVideos(ctx, `
SELECT `+postgresVideoColumns+` FROM videos
WHERE owner_id = $1
ORDER BY created_at DESC, id DESC`, strings.TrimSpace(ownerID))
	if err != nil {
		return nil, fmt.Errorf("list owner videos: %w", err)
	}
	return videos, nil
}

func (r *postgresRepository) ListPublicVideos(ctx context.Context, filter PublicFilter) ([]models.VideoRecord, error) {
	if r == nil || r.pool == nil {
		return nil, ErrPostgresUnavailable
	}
	filter = filter.normalized()
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	videos, err := r.queryVideos(ctx, `
SELECT `+postgresVideoColumns+` FROM videos
WHERE status = $1 AND ($2 = '' OR category = $2)
ORDER BY created_at DESC, id DESC
LIMIT $3`, string(filter.Status), filter.Category, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("list public videos: %w", err)
	}
	return videos, nil
}

func (r *postgresRepository) ListStaleVideos(ctx context.Context, status models.VideoStatus, olderThan time.Time, limit int) ([]models.VideoRecord, error) {
	if r == nil || r.pool == nil {
		return nil, ErrPostgresUnavailable
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	query := `
SELECT ` + postgresVideoColumns + ` FROM videos
WHERE status = $1 AND created_at < $2
ORDER BY created_at ASC, id ASC`
	args := []any{string(status), olderThan.UTC()}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	videos, err := r.queryVideos(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list stale videos: %w", err)
	}
	return videos, nil
}

func (r *postgresRepository) UpsertUser(ctx context.Context, params UpsertUserParams) (models.User, error) {
	if r == nil || r.pool == nil {
		return models.User{}, ErrPostgresUnavailable
	}
	params, err := normalizeUpsertUserParams(params)
	if err != nil {
		return models.User{}, err
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	row := r.pool.QueryRow(ctx, `
INSERT INTO users (id, display_name, category, payment_status, created_at, updated_at)
VALUES ($1, $2, $3, COALESCE(NULLIF($4::text, ''), 'pending'), $5, $5)
ON CONFLICT (id) DO UPDATE SET
    display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), users.display_name),
    category = COALESCE(NULLIF(EXCLUDED.category, ''), users.category),
    payment_status = CASE WHEN $4::text <> '' THEN EXCLUDED.payment_status ELSE users.payment_status END,
    updated_at = EXCLUDED.updated_at
RETURNING id, display_name, category, payment_status, created_at, updated_at`,
		params.ID, params.DisplayName, params.Category, string(params.PaymentStatus), r.now())
	user, err := scanPostgresUser(row)
	if err != nil {
		return models.User{}, fmt.Errorf("upsert user: %w", err)
	}
	return user, nil
}

func scanPostgresUser(row pgx.Row) (models.User, error) {
	var (
		user    models.User
		payment string
	)
	if err := row.Scan(&user.ID, &user.DisplayName, &user.Category, &payment, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return models.User{}, err
	}
	user.PaymentStatus = models.ParsePaymentStatus(payment)
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	return user, nil
}

func (r *postgresRepository) GetUser(ctx context.Context, id string) (models.User, bool, error) {
	if r == nil || r.pool == nil {
		return models.User{}, false, ErrPostgresUnavailable
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	row := r.pool.QueryRow(ctx, `
SELECT id, display_name, category, payment_status, created_at, updated_at
FROM users WHERE id = $1`, strings.TrimSpace(id))
	user, err := scanPostgresUser(row)
	if isNoRows(err) {
		return models.User{}, false, nil
	}
	if err != nil {
		return models.User{}, false, fmt.Errorf("get user: %w", err)
	}
	return user, true, nil
}

func (r *postgresRepository) ListUsers(ctx context.Context) ([]models.User, error) {
	if r == nil || r.pool == nil {
		return nil, ErrPostgresUnavailable
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	rows, err := r.pool.Query(ctx, `
SELECT id, display_name, category, payment_status, created_at, updated_at
FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	users := make([]models.User, 0)
	for rows.Next() {
		user, err := scanPostgresUser(rows)
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}
