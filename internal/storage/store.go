// Package storage defines the backing store shared by the waiting pool, the rematch
// history and the session registry. Backends live in sub-packages.
package storage

import (
	"context"
	"time"

	"freshanon/internal/models"
)

// ClaimRequest describes one atomic pairing attempt.
// SelfSeq and PartnerSeq are the pool insertion numbers observed during the scan;
// the claim fails with models.ErrRaceLost if either entry was replaced or removed since.
type ClaimRequest struct {
	SessionID  string
	Self       string
	SelfSeq    uint64
	Partner    string
	PartnerSeq uint64
	Cooldown   time.Duration
	Now        time.Time
}

// CandidateQuery selects the pool entries self may be paired with. Backends apply the
// compatibility predicates of models.Compatible and skip partners inside the rematch
// cooldown before cutting to Bound, so incompatible older entries never crowd out a
// compatible one.
type CandidateQuery struct {
	Self               *models.Snapshot
	Bound              int
	PremiumFirst       bool
	MinInterestOverlap int
	Cooldown           time.Duration
	Now                time.Time
}

type Stats struct {
	Waiting      int `json:"waiting"`
	OpenSessions int `json:"open_sessions"`
}

type Store interface {
	// Enqueue upserts the snapshot, resets EnqueuedAt to at and assigns a fresh Seq.
	// Fails with models.ErrInSession if the participant holds an open session.
	Enqueue(ctx context.Context, snap *models.Snapshot, at time.Time) (*models.Snapshot, error)
	Dequeue(ctx context.Context, participantID string) (bool, error)
	Waiting(ctx context.Context, participantID string) (*models.Snapshot, error)
	// ScanCandidates is a relaxed read; the claim re-validates everything it relies on.
	ScanCandidates(ctx context.Context, q CandidateQuery) ([]*models.Snapshot, error)

	// Claim removes both pool entries, inserts the session and upserts the rematch
	// record as one all-or-nothing unit. Errors: models.ErrNotWaiting (self gone),
	// models.ErrRaceLost, models.ErrRecentlyPaired, models.ErrTransientStore.
	Claim(ctx context.Context, req ClaimRequest) (*models.Session, error)

	// EndSession closes the open session of participantID, if any, and refreshes the
	// pair's rematch record to at. Returns nil when there is nothing to close.
	EndSession(ctx context.Context, participantID string, at time.Time) (*models.Session, error)
	ActiveSession(ctx context.Context, participantID string) (*models.Session, error)

	RecordRematch(ctx context.Context, a, b string, at time.Time) error
	IsRecent(ctx context.Context, a, b string, window time.Duration, now time.Time) (bool, error)

	EvictStale(ctx context.Context, enqueuedBefore time.Time) ([]string, error)
	PruneRematch(ctx context.Context, matchedBefore time.Time) (int, error)

	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// CandidateLess is the pool order every backend scans in: premium entries first when
// premiumFirst is set, then oldest enqueue, then insertion number.
func CandidateLess(a, b *models.Snapshot, premiumFirst bool) bool {
	if premiumFirst && a.Premium != b.Premium {
		return a.Premium
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.Seq < b.Seq
}

// Dumper is implemented by stores that are not durable by themselves and need
// periodic snapshots to survive a restart.
type Dumper interface {
	Dump() *models.StoreDump
	Load(dump *models.StoreDump) error
}
