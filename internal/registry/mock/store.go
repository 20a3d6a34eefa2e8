package mock

import (
	"context"

	"github.com/bakkerme/channelwatch/internal/core"
	"github.com/bakkerme/channelwatch/internal/registry"
)

// Store is an in-memory registry for tests. Updates records every call so
// tests can assert on write order, and UpdateErr lets a test simulate a
// storage write failure after a successful send.
type Store struct {
	Sources   map[string]core.TrackedSource
	LoadErr   error
	UpdateErr error
	Updates   []string
}

func (s *Store) LoadAll(ctx context.Context) (map[string]core.TrackedSource, error) {
	_ = ctx
	if s.LoadErr != nil {
		return nil, s.LoadErr
	}
	snapshot := make(map[string]core.TrackedSource, len(s.Sources))
	for id, source := range s.Sources {
		snapshot[id] = source
	}
	return snapshot, nil
}

func (s *Store) Update(ctx context.Context, sourceID, newItemID string) error {
	_ = ctx
	s.Updates = append(s.Updates, sourceID)
	if s.UpdateErr != nil {
		return s.UpdateErr
	}
	if _, ok := s.Sources[sourceID]; !ok {
		return registry.ErrNotFound
	}
	s.Sources[sourceID] = core.TrackedSource{SourceID: sourceID, LastNotifiedItemID: newItemID}
	return nil
}

func (s *Store) Ensure(ctx context.Context, sourceID string) error {
	_ = ctx
	if s.Sources == nil {
		s.Sources = map[string]core.TrackedSource{}
	}
	if _, ok := s.Sources[sourceID]; !ok {
		s.Sources[sourceID] = core.TrackedSource{SourceID: sourceID}
	}
	return nil
}

func (s *Store) Close() error {
	return nil
}
