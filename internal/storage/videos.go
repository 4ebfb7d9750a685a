package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bagurumba/internal/models"
)

// CreateVideo stores a new processing record. A second call for the same
// correlation id returns the stored record with created=false.
func (s *Storage) CreateVideo(ctx context.Context, params CreateVideoParams) (models.VideoRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.VideoRecord{}, false, err
	}
	params, err := normalizeCreateVideoParams(params)
	if err != nil {
		return models.VideoRecord{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.data.Videos[params.CorrelationID]; ok {
		return existing, false, nil
	}

	now := s.now()
	video := models.VideoRecord{
		ID:            generateID(),
		OwnerID:       params.OwnerID,
		OwnerName:     params.OwnerName,
		CorrelationID: params.CorrelationID,
		Title:         params.Title,
		Category:      params.Category,
		Status:        models.VideoStatusProcessing,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.data.Videos[video.CorrelationID] = video
	if err := s.persist(); err != nil {
		delete(s.data.Videos, video.CorrelationID)
		return models.VideoRecord{}, false, err
	}
	return video, true, nil
}

// FindVideo looks up a record by correlation id.
func (s *Storage) FindVideo(ctx context.Context, correlationID string) (models.VideoRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.VideoRecord{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	video, ok := s.data.Videos[strings.TrimSpace(correlationID)]
	return video, ok, nil
}

// UpdateVideoStatus applies status while the record is processing. Writing the
// stored value again, or any value onto a terminal record, leaves it unchanged.
func (s *Storage) UpdateVideoStatus(ctx context.Context, correlationID string, status models.VideoStatus) (StatusUpdate, error) {
	if err := ctx.Err(); err != nil {
		return StatusUpdate{}, err
	}
	if _, err := models.ParseVideoStatus(string(status)); err != nil {
		return StatusUpdate{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	correlationID = strings.TrimSpace(correlationID)

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.data.Videos[correlationID]
	if !ok {
		return StatusUpdate{}, ErrNotFound
	}
	if current.Status != models.VideoStatusProcessing || status == current.Status {
		return StatusUpdate{Record: current}, nil
	}

	updated := current
	updated.Status = status
	updated.UpdatedAt = s.now()
	s.data.Videos[correlationID] = updated
	if err := s.persist(); err != nil {
		s.data.Videos[correlationID] = current
		return StatusUpdate{}, err
	}
	return StatusUpdate{Record: updated, Applied: true}, nil
}

// ListVideosByOwner returns the owner's records, newest first.
func (s *Storage) ListVideosByOwner(ctx context.Context, ownerID string) ([]models.VideoRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ownerID = strings.TrimSpace(ownerID)
	s.mu.RLock()
	videos := make([]models.VideoRecord, 0)
	for _, video := range s.data.Videos {
		if video.OwnerID == ownerID {
			videos = append(videos, video)
		}
	}
	s.mu.RUnlock()
	sortVideosNewestFirst(videos)
	return videos, nil
}

// ListPublicVideos returns up to filter.Limit records in filter.Status,
// optionally narrowed to one category, newest first.
func (s *Storage) ListPublicVideos(ctx context.Context, filter PublicFilter) ([]models.VideoRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filter = filter.normalized()
	s.mu.RLock()
	videos := make([]models.VideoRecord, 0)
	for _, video := range s.data.Videos {
		if video.Status != filter.Status {
			continue
		}
		if filter.Category != "" && video.Category != filter.Category {
			continue
		}
		videos = append(videos, video)
	}
	s.mu.RUnlock()
	sortVideosNewestFirst(videos)
	if len(videos) > filter.Limit {
		videos = videos[:filter.Limit]
	}
	return videos, nil
}

// ListStaleVideos returns the oldest records in status created before
// olderThan, up to limit.
func (s *Storage) ListStaleVideos(ctx context.Context, status models.VideoStatus, olderThan time.Time, limit int) ([]models.VideoRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	videos := make([]models.VideoRecord, 0)
	for _, video := range s.data.Videos {
		if video.Status == status && video.CreatedAt.Before(olderThan) {
			videos = append(videos, video)
		}
	}
	s.mu.RUnlock()
	sortVideosNewestFirst(videos)
	reverseVideos(videos)
	if limit > 0 && len(videos) > limit {
		videos = videos[:limit]
	}
	return videos, nil
}

func reverseVideos(videos []models.VideoRecord) {
	for i, j := 0, len(videos)-1; i < j; i, j = i+1, j-1 {
		videos[i], videos[j] = videos[j], videos[i]
	}
}
