package matching

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"

	"freshanon/internal/clock"
	"freshanon/internal/models"
	"freshanon/internal/providers"
	"freshanon/internal/structures"
)

type State string

const (
	StateSearching State = "searching"
	StateMatched   State = "matched"
	StateCancelled State = "cancelled"
	StateTimeout   State = "timeout"
	StateFailed    State = "failed"
)

type Outcome struct {
	ParticipantID string    `json:"participant_id"`
	State         State     `json:"state"`
	PartnerID     string    `json:"partner_id,omitempty"`
	Err           error     `json:"-"`
	At            time.Time `json:"at"`
}

// Listener receives every final outcome. It runs on the search goroutine and must not block.
type Listener func(Outcome)

// Pairer is the part of the engine the scheduler drives.
type Pairer interface {
	AttemptPair(ctx context.Context, participantID string) (string, bool, error)
	Cancel(ctx context.Context, participantID string) (bool, error)
	GetPartner(ctx context.Context, participantID string) (string, bool, error)
}

type SchedulerConfig struct {
	RetryInterval time.Duration
	SearchTimeout time.Duration
	Backoff       Backoff
	// OutcomeTTL is how long a final outcome stays visible to Status. <= 0 keeps it forever.
	OutcomeTTL time.Duration
}

func NewSchedulerConfig(conf *structures.Config) SchedulerConfig {
	return SchedulerConfig{
		RetryInterval: conf.Matching.RetryInterval,
		SearchTimeout: conf.Matching.SearchTimeout,
		OutcomeTTL:    conf.Matching.OutcomeTTL,
		Backoff: Backoff{
			Base:        conf.Retry.BaseDelay,
			Max:         conf.Retry.MaxDelay,
			MaxAttempts: conf.Retry.MaxAttempts,
		},
	}
}

type task struct {
	cancel  context.CancelFunc
	done    chan struct{}
	matched chan string
}

// Scheduler runs one search goroutine per participant until it pairs, is cancelled
// or times out.
type Scheduler struct {
	pairer   Pairer
	clock    clock.Clock
	logger   providers.Logger
	metrics  providers.MetricsProviderInterface
	conf     SchedulerConfig
	listener Listener

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped *atomic.Bool

	mu     sync.Mutex
	tasks  map[string]*task
	last   map[string]Outcome
	pruned time.Time
}

func NewScheduler(pairer Pairer, clk clock.Clock, logger providers.Logger, metrics providers.MetricsProviderInterface, conf SchedulerConfig, listener Listener) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	if listener == nil {
		listener = func(Outcome) {}
	}
	return &Scheduler{
		pairer:   pairer,
		clock:    clk,
		logger:   logger,
		metrics:  metrics,
		conf:     conf,
		listener: listener,
		ctx:      ctx,
		cancel:   cancel,
		stopped:  atomic.NewBool(false),
		tasks:    make(map[string]*task),
		last:     make(map[string]Outcome),
		pruned:   clk.Now(),
	}
}

// Start launches the search loop for an already enqueued participant.
func (s *Scheduler) Start(participantID string) error {
	if s.stopped.Load() {
		return fmt.Errorf("%w: scheduler stopped", models.ErrServiceUnavailable)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[participantID]; ok {
		return models.ErrAlreadySearching
	}

	ctx, cancel := context.WithCancel(s.ctx)
	t := &task{
		cancel:  cancel,
		done:    make(chan struct{}),
		matched: make(chan string, 1),
	}
	now := s.clock.Now()
	s.pruneLocked(now)
	s.tasks[participantID] = t
	s.last[participantID] = Outcome{ParticipantID: participantID, State: StateSearching, At: now}

	s.wg.Add(1)
	go s.run(ctx, participantID, t)
	return nil
}

// Cancel stops the search of participantID and waits for its final outcome.
// The outcome can still be matched if an attempt was already in flight.
func (s *Scheduler) Cancel(participantID string) (Outcome, bool) {
	s.mu.Lock()
	t, ok := s.tasks[participantID]
	s.mu.Unlock()
	if !ok {
		return Outcome{}, false
	}
	t.cancel()
	<-t.done
	return s.Status(participantID)
}

// Status returns the running state or the last final outcome of participantID.
func (s *Scheduler) Status(participantID string) (Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.last[participantID]
	if !ok {
		return Outcome{}, false
	}
	if _, running := s.tasks[participantID]; !running && s.expired(o, s.clock.Now()) {
		delete(s.last, participantID)
		return Outcome{}, false
	}
	return o, true
}

func (s *Scheduler) expired(o Outcome, now time.Time) bool {
	return s.conf.OutcomeTTL > 0 && now.Sub(o.At) >= s.conf.OutcomeTTL
}

// pruneLocked drops expired final outcomes, sweeping at most once per OutcomeTTL.
func (s *Scheduler) pruneLocked(now time.Time) {
	if s.conf.OutcomeTTL <= 0 || now.Sub(s.pruned) < s.conf.OutcomeTTL {
		return
	}
	s.pruned = now
	for id, o := range s.last {
		if _, running := s.tasks[id]; !running && s.expired(o, now) {
			delete(s.last, id)
		}
	}
}

func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Stop cancels every search and waits for all of them to finish.
func (s *Scheduler) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, participantID string, t *task) {
	defer s.wg.Done()
	defer close(t.done)

	outcome := s.search(ctx, participantID, t)
	outcome.ParticipantID = participantID
	outcome.At = s.clock.Now()

	s.mu.Lock()
	if s.tasks[participantID] == t {
		delete(s.tasks, participantID)
	}
	s.last[participantID] = outcome
	s.pruneLocked(outcome.At)
	s.mu.Unlock()

	s.metrics.IncSearchOutcomes(string(outcome.State))
	if outcome.Err != nil {
		s.logger.Warnf(providers.TypeMatch, "search %s ended %s: %s", participantID, outcome.State, outcome.Err)
	} else {
		s.logger.Debugf(providers.TypeMatch, "search %s ended %s", participantID, outcome.State)
	}
	s.listener(outcome)
}

func (s *Scheduler) search(ctx context.Context, participantID string, t *task) Outcome {
	deadline := s.clock.After(s.conf.SearchTimeout)
	failures := 0

	for {
		wait := s.conf.RetryInterval

		partner, ok, err := s.attempt(ctx, participantID)
		if err != nil && ctx.Err() != nil {
			// the backend surfaced our own cancellation
			return s.leave(ctx, participantID, StateCancelled, nil)
		}
		switch {
		case err == nil && ok:
			s.notify(partner, participantID)
			return Outcome{State: StateMatched, PartnerID: partner}
		case err == nil:
			failures = 0
		case errors.Is(err, models.ErrNotWaiting):
			return s.leave(ctx, participantID, StateFailed, err)
		case errors.Is(err, models.ErrTransientStore):
			failures++
			if failures >= s.conf.Backoff.MaxAttempts {
				return s.leave(ctx, participantID, StateFailed, fmt.Errorf("%w: %v", models.ErrServiceUnavailable, err))
			}
			wait = s.conf.Backoff.Delay(failures)
			s.logger.Warnf(providers.TypeMatch, "attempt %s failed (%d/%d), retry in %s: %s",
				participantID, failures, s.conf.Backoff.MaxAttempts, wait, err)
		default:
			return s.leave(ctx, participantID, StateFailed, err)
		}

		select {
		case partner := <-t.matched:
			return Outcome{State: StateMatched, PartnerID: partner}
		case <-ctx.Done():
			return s.leave(ctx, participantID, StateCancelled, nil)
		case <-deadline:
			return s.leave(ctx, participantID, StateTimeout, nil)
		case <-s.clock.After(wait):
		}
	}
}

func (s *Scheduler) attempt(ctx context.Context, participantID string) (partner string, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("attempt panicked: %v", r)
		}
	}()
	return s.pairer.AttemptPair(ctx, participantID)
}

// leave dequeues the participant on a non-matching exit. If someone else's attempt
// paired it in the meantime the outcome becomes matched.
func (s *Scheduler) leave(ctx context.Context, participantID string, state State, cause error) Outcome {
	cleanup := context.WithoutCancel(ctx)

	if _, err := s.pairer.Cancel(cleanup, participantID); err != nil {
		s.logger.Errorf(providers.TypeMatch, "dequeue %s after %s: %s", participantID, state, err)
	}
	partner, ok, err := s.pairer.GetPartner(cleanup, participantID)
	if err != nil {
		s.logger.Errorf(providers.TypeMatch, "partner lookup %s: %s", participantID, err)
	}
	if ok {
		return Outcome{State: StateMatched, PartnerID: partner}
	}
	return Outcome{State: state, Err: cause}
}

func (s *Scheduler) notify(partnerID, participantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[partnerID]; ok {
		select {
		case t.matched <- participantID:
		default:
		}
	}
}
