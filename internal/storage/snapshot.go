package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"bagurumba/internal/models"
)

// Snapshot is the on-disk layout of the JSON datastore, loaded independently
// of a running Storage so it can be replayed into another driver.
type Snapshot struct {
	Users  map[string]models.User        `json:"users"`
	Videos map[string]models.VideoRecord `json:"videos"`
}

// SnapshotCounts summarises the size of each collection in a Snapshot.
type SnapshotCounts struct {
	Users  int
	Videos int
}

// LoadSnapshotFromJSON reads a JSON datastore file without locking it.
func LoadSnapshotFromJSON(path string) (*Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot %s: %w", path, err)
	}
	defer file.Close()

	var snapshot Snapshot
	if err := json.NewDecoder(file).Decode(&snapshot); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	snapshot.ensureInitialized()
	return &snapshot, nil
}

func (s *Snapshot) ensureInitialized() {
	if s.Users == nil {
		s.Users = make(map[string]models.User)
	}
	if s.Videos == nil {
		s.Videos = make(map[string]models.VideoRecord)
	}
}

// Counts reports how many users and videos the snapshot holds.
func (s *Snapshot) Counts() SnapshotCounts {
	if s == nil {
		return SnapshotCounts{}
	}
	return SnapshotCounts{Users: len(s.Users), Videos: len(s.Videos)}
}

// ImportSnapshotToPostgres bulk-loads a Snapshot into a Postgres repository.
// Rows that already exist are left untouched, so the import can be re-run.
func ImportSnapshotToPostgres(ctx context.Context, repo Repository, snapshot *Snapshot) error {
	if snapshot == nil {
		return fmt.Errorf("snapshot is required")
	}
	pgRepo, ok := repo.(*postgresRepository)
	if !ok {
		return fmt.Errorf("postgres repository required for snapshot import")
	}
	snapshot.ensureInitialized()
	return pgRepo.importSnapshot(ctx, snapshot)
}
