// Package profiles resolves the default snapshot of a participant from stored profiles.
package profiles

import (
	"context"
	"fmt"

	"freshanon/internal/clock"
	"freshanon/internal/models"
)

var ErrProfileNotFound = models.ErrProfileNotFound

// Store yields a participant's current snapshot.
type Store interface {
	GetSnapshot(ctx context.Context, participantID string) (*models.Snapshot, error)
}

// Source yields raw profiles. The SQL backends, FileStore and CachedStore implement it.
type Source interface {
	GetProfile(ctx context.Context, participantID string) (*models.Profile, error)
}

type sourceStore struct {
	source Source
	clock  clock.Clock
}

// NewStore derives snapshots from src, resolving adult access at the moment of the call.
func NewStore(src Source, clk clock.Clock) Store {
	return &sourceStore{source: src, clock: clk}
}

func (s *sourceStore) GetSnapshot(ctx context.Context, participantID string) (*models.Snapshot, error) {
	p, err := s.source.GetProfile(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, participantID)
	}
	return p.Snapshot(s.clock.Now()), nil
}

// Empty is the source used when no profile storage is configured.
type Empty struct{}

func (Empty) GetProfile(_ context.Context, participantID string) (*models.Profile, error) {
	return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, participantID)
}
