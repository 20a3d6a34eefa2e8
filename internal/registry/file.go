package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bakkerme/channelwatch/internal/core"
)

// fileRecord is the on-disk shape of one channel entry. The field name
// matches the historical data.json format, so existing state files keep
// working unchanged.
type fileRecord struct {
	LatestVideoID string `json:"latestVideoId"`
}

// FileStore keeps the registry in a single JSON file mapping channel ID to
// its last-notified item ID. Updates rewrite the whole file through a
// temp-file rename, so readers never observe a half-written state.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("registry file path is required")
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) LoadAll(ctx context.Context) (map[string]core.TrackedSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

func (s *FileStore) Update(ctx context.Context, sourceID, newItemID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sourceID == "" {
		return fmt.Errorf("source id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readRecordsLocked()
	if err != nil {
		return err
	}
	if _, ok := records[sourceID]; !ok {
		return fmt.Errorf("update %q: %w", sourceID, ErrNotFound)
	}
	records[sourceID] = fileRecord{LatestVideoID: newItemID}
	return s.writeLocked(records)
}

func (s *FileStore) Ensure(ctx context.Context, sourceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sourceID == "" {
		return fmt.Errorf("source id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readRecordsLocked()
	if err != nil {
		// A missing file is fine here: Ensure creates the store on first use.
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		records = map[string]fileRecord{}
	}
	if _, ok := records[sourceID]; ok {
		return nil
	}
	records[sourceID] = fileRecord{}
	return s.writeLocked(records)
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) readLocked() (map[string]core.TrackedSource, error) {
	records, err := s.readRecordsLocked()
	if err != nil {
		return nil, err
	}
	sources := make(map[string]core.TrackedSource, len(records))
	for id, record := range records {
		sources[id] = core.TrackedSource{
			SourceID:           id,
			LastNotifiedItemID: record.LatestVideoID,
		}
	}
	return sources, nil
}

func (s *FileStore) readRecordsLocked() (map[string]fileRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrUnavailable, s.path, err)
	}
	var records map[string]fileRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrCorrupt, s.path, err)
	}
	if records == nil {
		records = map[string]fileRecord{}
	}
	return records, nil
}

func (s *FileStore) writeLocked(records map[string]fileRecord) error {
	data, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", ErrUnavailable, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: write temp file: %w", ErrUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: close temp file: %w", ErrUnavailable, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: replace %s: %w", ErrUnavailable, s.path, err)
	}
	return nil
}
