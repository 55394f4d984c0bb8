package services

import (
	"context"
	"errors"

	"freshanon/internal/clock"
	"freshanon/internal/matching"
	"freshanon/internal/models"
	"freshanon/internal/profiles"
	"freshanon/internal/providers"
	"freshanon/internal/storage"
	"freshanon/internal/storage/locker"
	"freshanon/internal/structures"
)

type MatchServiceInterface interface {
	// Enqueue puts the participant into the waiting pool. A nil snapshot is looked up
	// in the profile store.
	Enqueue(ctx context.Context, participantID string, snap *models.Snapshot) (*models.Snapshot, error)
	Cancel(ctx context.Context, participantID string) error
	AttemptPair(ctx context.Context, participantID string) (string, bool, error)
	EndSession(ctx context.Context, participantID string) (string, bool, error)
	GetPartner(ctx context.Context, participantID string) (string, bool, error)

	// StartSearch enqueues and hands the participant to the retry scheduler.
	StartSearch(ctx context.Context, participantID string, snap *models.Snapshot) error
	SearchStatus(participantID string) (matching.Outcome, bool)
	Stats(ctx context.Context) (Stats, error)
	Stop()
}

type Stats struct {
	storage.Stats
	Searching int `json:"searching"`
}

type MatchService struct {
	engine    *matching.Engine
	scheduler *matching.Scheduler
	profiles  profiles.Store
	retry     matching.Backoff
	clock     clock.Clock
	logger    providers.Logger
}

func NewMatchService(conf *structures.Config, store storage.Store, locks locker.Locker, profileStore profiles.Store, clk clock.Clock, logger providers.Logger, metrics providers.MetricsProviderInterface) (MatchServiceInterface, error) {
	engineConf, err := matching.NewConfig(conf.Matching)
	if err != nil {
		return nil, err
	}
	engine := matching.NewEngine(store, locks, clk, logger, metrics, engineConf)
	schedConf := matching.NewSchedulerConfig(conf)

	ms := &MatchService{
		engine:   engine,
		profiles: profileStore,
		retry:    schedConf.Backoff,
		clock:    clk,
		logger:   logger,
	}
	ms.scheduler = matching.NewScheduler(engine, clk, logger, metrics, schedConf, ms.onOutcome)

	metrics.RegisterLoadGauges(
		ms.gauge(func(s Stats) int { return s.Waiting }),
		ms.gauge(func(s Stats) int { return s.OpenSessions }),
		func() float64 { return float64(ms.scheduler.Active()) },
	)
	return ms, nil
}

func (ms *MatchService) gauge(pick func(Stats) int) func() float64 {
	return func() float64 {
		stats, err := ms.Stats(context.Background())
		if err != nil {
			return 0
		}
		return float64(pick(stats))
	}
}

func (ms *MatchService) onOutcome(o matching.Outcome) {
	if o.State == matching.StateMatched {
		ms.logger.Infof(providers.TypeMatch, "search %s matched with %s", o.ParticipantID, o.PartnerID)
	}
}

func (ms *MatchService) Enqueue(ctx context.Context, participantID string, snap *models.Snapshot) (*models.Snapshot, error) {
	if snap == nil {
		var err error
		snap, err = ms.profiles.GetSnapshot(ctx, participantID)
		if err != nil {
			return nil, err
		}
	} else {
		snap = snap.Clone()
	}
	if participantID != "" {
		snap.ParticipantID = participantID
	}

	var entry *models.Snapshot
	err := ms.retry.Do(ctx, ms.clock, func() error {
		var err error
		entry, err = ms.engine.Enqueue(ctx, snap)
		return err
	})
	return entry, err
}

// Cancel stops a running search, if any, and removes the participant from the pool.
func (ms *MatchService) Cancel(ctx context.Context, participantID string) error {
	ms.scheduler.Cancel(participantID)
	return ms.retry.Do(ctx, ms.clock, func() error {
		_, err := ms.engine.Cancel(ctx, participantID)
		return err
	})
}

func (ms *MatchService) AttemptPair(ctx context.Context, participantID string) (string, bool, error) {
	var partner string
	var ok bool
	err := ms.retry.Do(ctx, ms.clock, func() error {
		var err error
		partner, ok, err = ms.engine.AttemptPair(ctx, participantID)
		return err
	})
	return partner, ok, err
}

func (ms *MatchService) EndSession(ctx context.Context, participantID string) (string, bool, error) {
	var partner string
	var ok bool
	err := ms.retry.Do(ctx, ms.clock, func() error {
		var err error
		partner, ok, err = ms.engine.EndSession(ctx, participantID)
		return err
	})
	return partner, ok, err
}

func (ms *MatchService) GetPartner(ctx context.Context, participantID string) (string, bool, error) {
	var partner string
	var ok bool
	err := ms.retry.Do(ctx, ms.clock, func() error {
		var err error
		partner, ok, err = ms.engine.GetPartner(ctx, participantID)
		return err
	})
	return partner, ok, err
}

func (ms *MatchService) StartSearch(ctx context.Context, participantID string, snap *models.Snapshot) error {
	if o, ok := ms.scheduler.Status(participantID); ok && o.State == matching.StateSearching {
		return models.ErrAlreadySearching
	}
	entry, err := ms.Enqueue(ctx, participantID, snap)
	if err != nil {
		return err
	}
	err = ms.scheduler.Start(entry.ParticipantID)
	if err != nil && !errors.Is(err, models.ErrAlreadySearching) {
		if _, cerr := ms.engine.Cancel(context.WithoutCancel(ctx), entry.ParticipantID); cerr != nil {
			ms.logger.Errorf(providers.TypeMatch, "dequeue %s after failed start: %s", entry.ParticipantID, cerr)
		}
	}
	return err
}

func (ms *MatchService) SearchStatus(participantID string) (matching.Outcome, bool) {
	return ms.scheduler.Status(participantID)
}

func (ms *MatchService) Stats(ctx context.Context) (Stats, error) {
	stats, err := ms.engine.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Stats: stats, Searching: ms.scheduler.Active()}, nil
}

func (ms *MatchService) Stop() {
	ms.scheduler.Stop()
}
