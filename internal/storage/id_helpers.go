package storage

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"bagurumba/internal/models"
)

func generateID() string {
	return uuid.NewString()
}

// normalizeText trims s and folds it to NFC so visually identical titles and
// categories compare equal regardless of how the client composed them.
func normalizeText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func normalizeCreateVideoParams(params CreateVideoParams) (CreateVideoParams, error) {
	params.OwnerID = strings.TrimSpace(params.OwnerID)
	params.CorrelationID = strings.TrimSpace(params.CorrelationID)
	if params.OwnerID == "" {
		return CreateVideoParams{}, fmt.Errorf("%w: owner id is required", ErrInvalidInput)
	}
	if params.CorrelationID == "" {
		return CreateVideoParams{}, fmt.Errorf("%w: correlation id is required", ErrInvalidInput)
	}
	params.OwnerName = normalizeText(params.OwnerName)
	params.Category = normalizeText(params.Category)
	params.Title = normalizeText(params.Title)
	if params.Title == "" {
		params.Title = models.DefaultVideoTitle
	}
	return params, nil
}

func normalizeUpsertUserParams(params UpsertUserParams) (UpsertUserParams, error) {
	params.ID = strings.TrimSpace(params.ID)
	if params.ID == "" {
		return UpsertUserParams{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	params.DisplayName = normalizeText(params.DisplayName)
	params.Category = normalizeText(params.Category)
	if params.PaymentStatus != "" {
		params.PaymentStatus = models.ParsePaymentStatus(string(params.PaymentStatus))
	}
	return params, nil
}

// sortVideosNewestFirst orders by CreatedAt descending, breaking ties by ID so
// listings stay stable across drivers.
func sortVideosNewestFirst(videos []models.VideoRecord) {
	sort.SliceStable(videos, func(i, j int) bool {
		if !videos[i].CreatedAt.Equal(videos[j].CreatedAt) {
			return videos[i].CreatedAt.After(videos[j].CreatedAt)
		}
		return videos[i].ID > videos[j].ID
	})
}
