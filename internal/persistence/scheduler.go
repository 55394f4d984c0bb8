package persistence

import (
	"context"
	"freshanon/internal/clock"
	"freshanon/internal/providers"
	"freshanon/internal/storage"
	"freshanon/internal/structures"
	"github.com/roylee0704/gron"
	"sync"
	"time"
)

const maintenanceTimeout = 30 * time.Second

type SchedulerInterface interface {
	Init()
	Stop()
	Restore() error
	Persist() error
	Maintain()
}

// Scheduler runs the snapshot job (memory store only) and the store maintenance job:
// eviction of entries waiting longer than matching.maxWait and pruning of rematch
// records older than the cooldown.
type Scheduler struct {
	config      *structures.Config
	logger      providers.Logger
	metrics     providers.MetricsProviderInterface
	store       storage.Store
	clock       clock.Clock
	fileManager *FileManager
	cron        *gron.Cron
	opsMu       sync.Mutex
}

func (s *Scheduler) persistent() bool {
	return s.fileManager != nil && s.config.Persistence.FilePath != ""
}

func (s *Scheduler) Init() {
	s.cron = gron.New()

	if s.persistent() && s.config.Persistence.SaveInterval > 0 {
		s.cron.AddFunc(gron.Every(s.config.Persistence.SaveInterval), func() {
			if err := s.Persist(); err == nil {
				s.logger.Debugf(providers.TypeApp, "Persisted data to file %s", s.config.Persistence.FilePath)
			}
		})
	}

	s.cron.AddFunc(gron.Every(s.config.Persistence.MaintenanceInterval), s.Maintain)
	s.cron.Start()
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

func (s *Scheduler) Restore() error {
	if !s.persistent() {
		return nil
	}
	return s.fileManager.LoadFromFile(s.config.Persistence.FilePath)
}

func (s *Scheduler) Persist() error {
	if !s.persistent() {
		return nil
	}
	s.opsMu.Lock()
	defer s.opsMu.Unlock()

	start := time.Now()
	err := s.fileManager.SaveToFile(s.config.Persistence.FilePath)
	s.metrics.ObservePersistenceDuration(time.Since(start))
	if err != nil {
		s.logger.Errorf(providers.TypeApp, "Error while persisting data: %s", err)
		return err
	}
	return nil
}

func (s *Scheduler) Maintain() {
	s.opsMu.Lock()
	defer s.opsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
	defer cancel()
	now := s.clock.Now()

	if maxWait := s.config.Matching.MaxWait; maxWait > 0 {
		evicted, err := s.store.EvictStale(ctx, now.Add(-maxWait))
		if err != nil {
			s.logger.Errorf(providers.TypeStore, "Evicting stale queue entries: %s", err)
		} else if len(evicted) > 0 {
			s.metrics.IncEvicted(len(evicted))
			s.logger.Infof(providers.TypeStore, "Evicted %d participants waiting longer than %s", len(evicted), maxWait)
		}
	}

	pruned, err := s.store.PruneRematch(ctx, now.Add(-s.config.Matching.Cooldown))
	if err != nil {
		s.logger.Errorf(providers.TypeStore, "Pruning rematch history: %s", err)
		return
	}
	if pruned > 0 {
		s.logger.Debugf(providers.TypeStore, "Pruned %d expired rematch records", pruned)
	}
}

// NewScheduler snapshots the store only when it is a storage.Dumper; the SQL backends
// are durable on their own.
func NewScheduler(config *structures.Config, logger providers.Logger, metrics providers.MetricsProviderInterface, store storage.Store, clk clock.Clock, compressor Compressor) SchedulerInterface {
	s := &Scheduler{
		config:  config,
		logger:  logger,
		metrics: metrics,
		store:   store,
		clock:   clk,
	}
	if dumper, ok := store.(storage.Dumper); ok {
		s.fileManager = NewFileManager(compressor, dumper, logger)
	}
	return s
}
