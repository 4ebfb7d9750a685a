package storage

import (
	"context"
	"sort"
	"strings"

	"bagurumba/internal/models"
)

func mergeUser(existing models.User, found bool, params UpsertUserParams) models.User {
	user := existing
	user.ID = params.ID
	if params.DisplayName != "" {
		user.DisplayName = params.DisplayName
	}
	if params.Category != "" {
		user.Category = params.Category
	}
	if params.PaymentStatus != "" {
		user.PaymentStatus = params.PaymentStatus
	}
	if !found && user.PaymentStatus == "" {
		user.PaymentStatus = models.PaymentStatusPending
	}
	return user
}

// UpsertUser creates or updates a directory entry.
func (s *Storage) UpsertUser(ctx context.Context, params UpsertUserParams) (models.User, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}
	params, err := normalizeUpsertUserParams(params)
	if err != nil {
		return models.User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, found := s.data.Users[params.ID]
	user := mergeUser(existing, found, params)
	now := s.now()
	if !found {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	s.data.Users[user.ID] = user
	if err := s.persist(); err != nil {
		if found {
			s.data.Users[user.ID] = existing
		} else {
			delete(s.data.Users, user.ID)
		}
		return models.User{}, err
	}
	return user, nil
}

// GetUser fetches a directory entry by id.
func (s *Storage) GetUser(ctx context.Context, id string) (models.User, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.data.Users[strings.TrimSpace(id)]
	return user, ok, nil
}

// ListUsers returns every directory entry ordered by id.
func (s *Storage) ListUsers(ctx context.Context) ([]models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	users := make([]models.User, 0, len(s.data.Users))
	for _, user := range s.data.Users {
		users = append(users, user)
	}
	s.mu.RUnlock()
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}
