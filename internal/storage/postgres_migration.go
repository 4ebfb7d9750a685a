package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"bagurumba/internal/models"
)

func (r *postgresRepository) importSnapshot(ctx context.Context, snapshot *Snapshot) error {
	if r == nil || r.pool == nil {
		return ErrPostgresUnavailable
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin snapshot transaction: %w", err)
	}
	defer rollbackTx(ctx, tx)

	if err := r.importSnapshotUsers(ctx, tx, snapshot.Users); err != nil {
		return err
	}
	if err := r.importSnapshotVideos(ctx, tx, snapshot.Videos); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

func rollbackTx(ctx context.Context, tx pgx.Tx) {
	_ = tx.Rollback(ctx)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (r *postgresRepository) importSnapshotUsers(ctx context.Context, tx pgx.Tx, users map[string]models.User) error {
	for _, key := range sortedKeys(users) {
		user := users[key]
		id := strings.TrimSpace(user.ID)
		if id == "" {
			id = key
		}
		createdAt := user.CreatedAt
		if createdAt.IsZero() {
			createdAt = r.now()
		}
		updatedAt := user.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = createdAt
		}
		payment := user.PaymentStatus
		if payment == "" {
			payment = models.PaymentStatusPending
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO users (id, display_name, category, payment_status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING`,
			id, user.DisplayName, user.Category, string(payment), createdAt.UTC(), updatedAt.UTC()); err != nil {
			return fmt.Errorf("import user %s: %w", id, err)
		}
	}
	return nil
}

func (r *postgresRepository) importSnapshotVideos(ctx context.Context, tx pgx.Tx, videos map[string]models.VideoRecord) error {
	for _, key := range sortedKeys(videos) {
		video := videos[key]
		correlationID := strings.TrimSpace(video.CorrelationID)
		if correlationID == "" {
			correlationID = key
		}
		id := strings.TrimSpace(video.ID)
		if id == "" {
			id = generateID()
		}
		status, err := models.ParseVideoStatus(string(video.Status))
		if err != nil {
			return fmt.Errorf("import video %s: %w", correlationID, err)
		}
		title := strings.TrimSpace(video.Title)
		if title == "" {
			title = models.DefaultVideoTitle
		}
		createdAt := video.CreatedAt
		if createdAt.IsZero() {
			createdAt = r.now()
		}
		updatedAt := video.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = createdAt
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO videos (`+postgresVideoColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT DO NOTHING`,
			id, video.OwnerID, video.OwnerName, correlationID, title, video.Category,
			string(status), createdAt.UTC(), updatedAt.UTC()); err != nil {
			return fmt.Errorf("import video %s: %w", correlationID, err)
		}
	}
	return nil
}
