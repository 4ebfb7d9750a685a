// Package catalog serves read-only projections of the video record store.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bagurumba/internal/models"
	"bagurumba/internal/storage"
)

const defaultQueryTimeout = 5 * time.Second

// ErrInvalidOwner rejects owner listings without an owner id.
var ErrInvalidOwner = errors.New("owner id is required")

// Store is the subset of the record store used for listings.
type Store interface {
	ListVideosByOwner(ctx context.Context, ownerID string) ([]models.VideoRecord, error)
	ListPublicVideos(ctx context.Context, filter storage.PublicFilter) ([]models.VideoRecord, error)
}

// OwnVideo is a record as shown to its owner.
type OwnVideo struct {
	ID        string             `json:"id"`
	VideoID   string             `json:"videoId"`
	Title     string             `json:"title"`
	Category  string             `json:"category"`
	Status    models.VideoStatus `json:"status"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// PublicVideo is a record as shown in the public catalog. The owner is
// identified by display name only.
type PublicVideo struct {
	ID        string             `json:"id"`
	VideoID   string             `json:"videoId"`
	Title     string             `json:"title"`
	Category  string             `json:"category"`
	Status    models.VideoStatus `json:"status"`
	OwnerName string             `json:"ownerName"`
	CreatedAt time.Time          `json:"createdAt"`
}

// NewOwnVideo projects record for its owner.
func NewOwnVideo(record models.VideoRecord) OwnVideo {
	return OwnVideo{
		ID:        record.ID,
		VideoID:   record.CorrelationID,
		Title:     record.Title,
		Category:  record.Category,
		Status:    record.Status,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
}

// NewPublicVideo projects record for the public catalog.
func NewPublicVideo(record models.VideoRecord) PublicVideo {
	return PublicVideo{
		ID:        record.ID,
		VideoID:   record.CorrelationID,
		Title:     record.Title,
		Category:  record.Category,
		Status:    record.Status,
		OwnerName: record.OwnerName,
		CreatedAt: record.CreatedAt,
	}
}

// Service answers catalog queries.
type Service struct {
	store   Store
	timeout time.Duration
}

// New returns a Service over store. A zero timeout uses the default.
func New(store Store, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return &Service{store: store, timeout: timeout}
}

// ListOwnVideos returns every record owned by userID, newest first.
func (s *Service) ListOwnVideos(ctx context.Context, userID string) ([]OwnVideo, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidOwner
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	records, err := s.store.ListVideosByOwner(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list own videos: %w", err)
	}
	videos := make([]OwnVideo, 0, len(records))
	for _, record := range records {
		videos = append(videos, NewOwnVideo(record))
	}
	return videos, nil
}

// ListPublicVideos returns up to storage.MaxPublicListing ready videos,
// newest first, optionally restricted to category.
func (s *Service) ListPublicVideos(ctx context.Context, category string) ([]PublicVideo, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	records, err := s.store.ListPublicVideos(ctx, storage.PublicFilter{
		Category: category,
		Status:   models.VideoStatusReady,
		Limit:    storage.MaxPublicListing,
	})
	if err != nil {
		return nil, fmt.Errorf("list public videos: %w", err)
	}
	videos := make([]PublicVideo, 0, len(records))
	for _, record := range records {
		videos = append(videos, NewPublicVideo(record))
	}
	return videos, nil
}
