// Package matching implements the pairing engine and the per-participant search loop.
package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"freshanon/internal/clock"
	"freshanon/internal/models"
	"freshanon/internal/providers"
	"freshanon/internal/storage"
	"freshanon/internal/storage/locker"
	"freshanon/internal/structures"
)

type Config struct {
	Cooldown        time.Duration
	ScanBound       int
	PremiumPriority bool
	Policy          Policy
	Rules           Rules
	// GenderFilterRequiresPremium makes a gender-restricted search a premium feature.
	GenderFilterRequiresPremium bool
}

func NewConfig(conf structures.MatchingConfig) (Config, error) {
	policy, err := ParsePolicy(conf.Selection)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Cooldown:                    conf.Cooldown,
		ScanBound:                   conf.ScanBound,
		PremiumPriority:             conf.PremiumPriority,
		Policy:                      policy,
		Rules:                       Rules{MinInterestOverlap: conf.MinInterestOverlap},
		GenderFilterRequiresPremium: conf.GenderFilterRequiresPremium,
	}, nil
}

type Engine struct {
	store   storage.Store
	locks   locker.Locker
	clock   clock.Clock
	logger  providers.Logger
	metrics providers.MetricsProviderInterface
	conf    Config
}

func NewEngine(store storage.Store, locks locker.Locker, clk clock.Clock, logger providers.Logger, metrics providers.MetricsProviderInterface, conf Config) *Engine {
	return &Engine{
		store:   store,
		locks:   locks,
		clock:   clk,
		logger:  logger,
		metrics: metrics,
		conf:    conf,
	}
}

// Enqueue normalizes and validates snap, then upserts it into the pool.
func (e *Engine) Enqueue(ctx context.Context, snap *models.Snapshot) (*models.Snapshot, error) {
	if snap == nil {
		return nil, fmt.Errorf("%w: snapshot is required", models.ErrValidation)
	}
	s := snap.Clone()
	s.Normalize()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if e.conf.GenderFilterRequiresPremium && s.DesiredGender != models.GenderAny && !s.Premium {
		return nil, fmt.Errorf("%w: gender-restricted search requires premium", models.ErrValidation)
	}

	entry, err := e.store.Enqueue(ctx, s, e.clock.Now())
	if err != nil {
		return nil, err
	}
	e.logger.Debugf(providers.TypeMatch, "enqueued %s seq=%d", entry.ParticipantID, entry.Seq)
	return entry, nil
}

func (e *Engine) Cancel(ctx context.Context, participantID string) (bool, error) {
	removed, err := e.store.Dequeue(ctx, participantID)
	if err != nil {
		return false, err
	}
	if removed {
		e.logger.Debugf(providers.TypeMatch, "dequeued %s", participantID)
	}
	return removed, nil
}

// AttemptPair tries to pair participantID with one compatible waiting candidate.
// ("", false, nil) means nobody fits right now and the caller stays enqueued.
func (e *Engine) AttemptPair(ctx context.Context, participantID string) (string, bool, error) {
	start := time.Now()
	partner, ok, err := e.attemptPair(ctx, participantID)
	e.metrics.ObserveAttemptDuration(time.Since(start))

	switch {
	case err == nil && ok:
		e.metrics.IncAttempts(providers.AttemptMatched)
	case err == nil:
		e.metrics.IncAttempts(providers.AttemptNoCandidate)
	case errors.Is(err, models.ErrNotWaiting):
		e.metrics.IncAttempts(providers.AttemptNotWaiting)
	default:
		e.metrics.IncAttempts(providers.AttemptError)
	}
	return partner, ok, err
}

func (e *Engine) attemptPair(ctx context.Context, participantID string) (string, bool, error) {
	self, err := e.store.Waiting(ctx, participantID)
	if err != nil {
		return "", false, err
	}

	candidates, err := e.store.ScanCandidates(ctx, storage.CandidateQuery{
		Self:               self,
		Bound:              e.conf.ScanBound,
		PremiumFirst:       e.conf.PremiumPriority,
		MinInterestOverlap: e.conf.Rules.MinInterestOverlap,
		Cooldown:           e.conf.Cooldown,
		Now:                e.clock.Now(),
	})
	if err != nil {
		return "", false, err
	}
	ordered := e.conf.Policy.Order(self, Eligible(self, candidates, e.conf.Rules))

	for _, candidate := range ordered {
		release, locked, err := locker.TryLockPair(ctx, e.locks, self.ParticipantID, candidate.ParticipantID)
		if err != nil {
			return "", false, err
		}
		if !locked {
			e.metrics.IncClaimConflicts(providers.ConflictLocked)
			continue
		}

		session, err := e.store.Claim(ctx, storage.ClaimRequest{
			SessionID:  uuid.NewString(),
			Self:       self.ParticipantID,
			SelfSeq:    self.Seq,
			Partner:    candidate.ParticipantID,
			PartnerSeq: candidate.Seq,
			Cooldown:   e.conf.Cooldown,
			Now:        e.clock.Now(),
		})
		release()

		switch {
		case err == nil:
			e.metrics.IncSessionsStarted()
			e.logger.Infof(providers.TypeMatch, "session %s started: %s <-> %s", session.ID, session.ParticipantA, session.ParticipantB)
			return candidate.ParticipantID, true, nil
		case errors.Is(err, models.ErrRaceLost):
			e.metrics.IncClaimConflicts(providers.ConflictRaceLost)
			e.logger.Debugf(providers.TypeMatch, "claim %s -> %s lost: %s", self.ParticipantID, candidate.ParticipantID, err)
		case errors.Is(err, models.ErrRecentlyPaired):
			e.metrics.IncClaimConflicts(providers.ConflictRecentlyPaired)
		default:
			// ErrNotWaiting: our own entry vanished under us, usually because another
			// attempt just paired us.
			return "", false, err
		}
	}
	return "", false, nil
}

// EndSession closes the open session of participantID and returns the former partner.
// Ending twice is a no-op reported as ("", false, nil).
func (e *Engine) EndSession(ctx context.Context, participantID string) (string, bool, error) {
	session, err := e.store.EndSession(ctx, participantID, e.clock.Now())
	if err != nil {
		return "", false, err
	}
	if session == nil {
		return "", false, nil
	}
	e.metrics.IncSessionsEnded()
	e.logger.Infof(providers.TypeMatch, "session %s ended by %s", session.ID, participantID)
	return session.PartnerOf(participantID), true, nil
}

func (e *Engine) GetPartner(ctx context.Context, participantID string) (string, bool, error) {
	session, err := e.store.ActiveSession(ctx, participantID)
	if err != nil || session == nil {
		return "", false, err
	}
	return session.PartnerOf(participantID), true, nil
}

func (e *Engine) Stats(ctx context.Context) (storage.Stats, error) {
	return e.store.Stats(ctx)
}
