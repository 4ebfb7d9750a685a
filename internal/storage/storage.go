package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"bagurumba/internal/models"
)

type dataset struct {
	Users  map[string]models.User        `json:"users"`
	Videos map[string]models.VideoRecord `json:"videos"`
}

func newDataset() dataset {
	return dataset{
		Users:  make(map[string]models.User),
		Videos: make(map[string]models.VideoRecord),
	}
}

// Storage is the JSON-file repository. Videos are keyed by correlation id so
// uniqueness falls out of the map; every mutation runs under the write lock and
// is persisted with an atomic rename before the lock is released.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	now      func() time.Time
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
	lockEnabled     bool
	fileLock        *flock.Flock
}

// NewStorage loads (or initialises) the datastore at path and takes an
// exclusive lock on "<path>.lock" so a second process cannot interleave writes.
func NewStorage(path string, opts ...Option) (*Storage, error) {
	store := &Storage{
		filePath:    path,
		now:         func() time.Time { return time.Now().UTC() },
		lockEnabled: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyJSON(store)
		}
	}
	if err := os.MkdirAll(filepath.Dir(store.filePath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if store.lockEnabled {
		store.fileLock = flock.New(store.filePath + ".lock")
		locked, err := store.fileLock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("lock datastore: %w", err)
		}
		if !locked {
			return nil, fmt.Errorf("datastore %s is locked by another process", store.filePath)
		}
	}
	if err := store.load(); err != nil {
		store.unlock()
		return nil, err
	}
	return store, nil
}

// NewJSONRepository opens the JSON-backed datastore and returns it as a
// Repository.
func NewJSONRepository(path string, opts ...Option) (Repository, error) {
	return NewStorage(path, opts...)
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}
	if s.data.Users == nil {
		s.data.Users = make(map[string]models.User)
	}
	if s.data.Videos == nil {
		s.data.Videos = make(map[string]models.VideoRecord)
	}
	return nil
}

func (s *Storage) persist() error {
	if s.persistOverride != nil {
		if err := s.persistOverride(s.data); err != nil {
			return err
		}
	}

	dir := filepath.Dir(s.filePath)
	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(s.data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

func (s *Storage) unlock() {
	if s.fileLock != nil {
		_ = s.fileLock.Unlock()
	}
}

// Ping reports whether the datastore directory is still reachable.
func (s *Storage) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Dir(s.filePath)); err != nil {
		return fmt.Errorf("stat data dir: %w", err)
	}
	return nil
}

// Close releases the datastore lock.
func (s *Storage) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unlock()
	return nil
}
