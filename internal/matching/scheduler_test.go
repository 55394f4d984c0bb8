package matching

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freshanon/internal/clock"
	"freshanon/internal/models"
	"freshanon/internal/providers"
	"freshanon/internal/structures"
	"freshanon/internal/testutil"
)

func testSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		RetryInterval: 3 * time.Second,
		SearchTimeout: time.Minute,
		Backoff:       Backoff{Base: time.Second, Max: 4 * time.Second, MaxAttempts: 3},
	}
}

func newTestScheduler(t *testing.T, pairer Pairer, clk clock.Clock, conf SchedulerConfig) (*Scheduler, chan Outcome) {
	outcomes := make(chan Outcome, 16)
	s := NewScheduler(pairer, clk, &testutil.MockLogger{}, providers.NewNoopMetrics(), conf, func(o Outcome) {
		outcomes <- o
	})
	t.Cleanup(s.Stop)
	return s, outcomes
}

func nextOutcome(t *testing.T, ch chan Outcome) Outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("no outcome delivered")
		return Outcome{}
	}
}

func TestNewSchedulerConfig(t *testing.T) {
	conf := &structures.Config{
		Matching: structures.MatchingConfig{RetryInterval: 3 * time.Second, SearchTimeout: time.Minute, OutcomeTTL: 5 * time.Minute},
		Retry:    structures.RetryConfig{BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second, MaxAttempts: 5},
	}
	sc := NewSchedulerConfig(conf)
	assert.Equal(t, 3*time.Second, sc.RetryInterval)
	assert.Equal(t, time.Minute, sc.SearchTimeout)
	assert.Equal(t, 5*time.Minute, sc.OutcomeTTL)
	assert.Equal(t, Backoff{Base: 200 * time.Millisecond, Max: 5 * time.Second, MaxAttempts: 5}, sc.Backoff)
}

func TestScheduler_ImmediateMatch(t *testing.T) {
	f := newEngineFixture(defaultConfig())
	f.enqueue(t, ru("p1", 22, models.GenderMale), ru("p2", 22, models.GenderFemale))
	s, outcomes := newTestScheduler(t, f.engine, f.clock, testSchedulerConfig())

	require.NoError(t, s.Start("p1"))
	o := nextOutcome(t, outcomes)
	assert.Equal(t, "p1", o.ParticipantID)
	assert.Equal(t, StateMatched, o.State)
	assert.Equal(t, "p2", o.PartnerID)

	status, ok := s.Status("p1")
	require.True(t, ok)
	assert.Equal(t, StateMatched, status.State)
}

func TestScheduler_RetriesUntilPartnerArrives(t *testing.T) {
	f := newEngineFixture(defaultConfig())
	f.enqueue(t, ru("p1", 22, models.GenderMale))
	s, outcomes := newTestScheduler(t, f.engine, f.clock, testSchedulerConfig())

	require.NoError(t, s.Start("p1"))
	f.clock.WaitForTimers(2)

	status, ok := s.Status("p1")
	require.True(t, ok)
	assert.Equal(t, StateSearching, status.State)
	assert.Equal(t, 1, s.Active())
	assert.ErrorIs(t, s.Start("p1"), models.ErrAlreadySearching)

	f.enqueue(t, ru("p2", 22, models.GenderFemale))
	f.clock.Advance(3 * time.Second)

	o := nextOutcome(t, outcomes)
	assert.Equal(t, StateMatched, o.State)
	assert.Equal(t, "p2", o.PartnerID)
	assert.Equal(t, 0, s.Active())
}

func TestScheduler_Timeout(t *testing.T) {
	f := newEngineFixture(defaultConfig())
	f.enqueue(t, ru("p1", 22, models.GenderMale))
	conf := testSchedulerConfig()
	conf.SearchTimeout = 5 * time.Second
	s, outcomes := newTestScheduler(t, f.engine, f.clock, conf)

	require.NoError(t, s.Start("p1"))
	f.clock.WaitForTimers(2)
	f.clock.Advance(3 * time.Second)
	f.clock.WaitForTimers(2)
	f.clock.Advance(2 * time.Second)

	o := nextOutcome(t, outcomes)
	assert.Equal(t, StateTimeout, o.State)
	assert.Empty(t, o.PartnerID)

	_, err := f.store.Waiting(context.Background(), "p1")
	assert.ErrorIs(t, err, models.ErrNotWaiting, "timed out participant leaves the pool")
}

func TestScheduler_Cancel(t *testing.T) {
	f := newEngineFixture(defaultConfig())
	f.enqueue(t, ru("p1", 22, models.GenderMale))
	s, outcomes := newTestScheduler(t, f.engine, f.clock, testSchedulerConfig())

	require.NoError(t, s.Start("p1"))
	f.clock.WaitForTimers(2)

	o, ok := s.Cancel("p1")
	require.True(t, ok)
	assert.Equal(t, StateCancelled, o.State)
	assert.Equal(t, StateCancelled, nextOutcome(t, outcomes).State)

	_, err := f.store.Waiting(context.Background(), "p1")
	assert.ErrorIs(t, err, models.ErrNotWaiting)

	_, ok = s.Cancel("p1")
	assert.False(t, ok, "nothing left to cancel")
}

func TestScheduler_PartnerTaskFinishesMatched(t *testing.T) {
	f := newEngineFixture(defaultConfig())
	f.enqueue(t, ru("p1", 22, models.GenderMale))
	s, outcomes := newTestScheduler(t, f.engine, f.clock, testSchedulerConfig())

	require.NoError(t, s.Start("p1"))
	f.clock.WaitForTimers(2)

	f.enqueue(t, ru("p2", 22, models.GenderFemale))
	require.NoError(t, s.Start("p2"))

	got := map[string]Outcome{}
	for i := 0; i < 2; i++ {
		o := nextOutcome(t, outcomes)
		got[o.ParticipantID] = o
	}
	assert.Equal(t, StateMatched, got["p1"].State)
	assert.Equal(t, "p2", got["p1"].PartnerID)
	assert.Equal(t, StateMatched, got["p2"].State)
	assert.Equal(t, "p1", got["p2"].PartnerID)
}

func TestScheduler_StopCancelsAll(t *testing.T) {
	f := newEngineFixture(defaultConfig())
	f.enqueue(t, ru("p3", 40, models.GenderMale), ru("p4", 20, models.GenderFemale))
	s, outcomes := newTestScheduler(t, f.engine, f.clock, testSchedulerConfig())

	require.NoError(t, s.Start("p3"))
	require.NoError(t, s.Start("p4"))
	f.clock.WaitForTimers(4)

	s.Stop()
	assert.Equal(t, StateCancelled, nextOutcome(t, outcomes).State)
	assert.Equal(t, StateCancelled, nextOutcome(t, outcomes).State)
	assert.Equal(t, 0, s.Active())
	assert.ErrorIs(t, s.Start("p3"), models.ErrServiceUnavailable)
}

// scriptedPairer returns whatever attempt yields and records dequeues.
type scriptedPairer struct {
	mu       sync.Mutex
	calls    int
	attempt  func(n int) (string, bool, error)
	partner  string
	dequeued []string
}

func (p *scriptedPairer) AttemptPair(_ context.Context, _ string) (string, bool, error) {
	p.mu.Lock()
	p.calls++
	n := p.calls
	p.mu.Unlock()
	return p.attempt(n)
}

func (p *scriptedPairer) Cancel(_ context.Context, participantID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dequeued = append(p.dequeued, participantID)
	return true, nil
}

func (p *scriptedPairer) GetPartner(_ context.Context, _ string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.partner, p.partner != "", nil
}

func TestScheduler_TransientFailuresBackOffThenFail(t *testing.T) {
	clk := clock.NewFake(t0)
	pairer := &scriptedPairer{attempt: func(int) (string, bool, error) {
		return "", false, models.ErrTransientStore
	}}
	s, outcomes := newTestScheduler(t, pairer, clk, testSchedulerConfig())

	require.NoError(t, s.Start("p1"))
	clk.WaitForTimers(2)
	clk.Advance(time.Second)
	clk.WaitForTimers(2)
	clk.Advance(2 * time.Second)

	o := nextOutcome(t, outcomes)
	assert.Equal(t, StateFailed, o.State)
	assert.ErrorIs(t, o.Err, models.ErrServiceUnavailable)
	assert.Equal(t, 3, pairer.calls)
	assert.Equal(t, []string{"p1"}, pairer.dequeued)
}

func TestScheduler_TransientRecovers(t *testing.T) {
	clk := clock.NewFake(t0)
	pairer := &scriptedPairer{attempt: func(n int) (string, bool, error) {
		if n == 1 {
			return "", false, models.ErrTransientStore
		}
		return "p2", true, nil
	}}
	s, outcomes := newTestScheduler(t, pairer, clk, testSchedulerConfig())

	require.NoError(t, s.Start("p1"))
	clk.WaitForTimers(2)
	clk.Advance(time.Second)

	o := nextOutcome(t, outcomes)
	assert.Equal(t, StateMatched, o.State)
	assert.Equal(t, "p2", o.PartnerID)
	assert.Empty(t, pairer.dequeued)
}

func TestScheduler_PanicIsFailure(t *testing.T) {
	pairer := &scriptedPairer{attempt: func(int) (string, bool, error) {
		panic("boom")
	}}
	s, outcomes := newTestScheduler(t, pairer, clock.NewFake(t0), testSchedulerConfig())

	require.NoError(t, s.Start("p1"))
	o := nextOutcome(t, outcomes)
	assert.Equal(t, StateFailed, o.State)
	assert.ErrorContains(t, o.Err, "boom")
	assert.Equal(t, []string{"p1"}, pairer.dequeued)
}

func TestScheduler_NotWaitingButPairedIsMatched(t *testing.T) {
	pairer := &scriptedPairer{
		attempt: func(int) (string, bool, error) { return "", false, models.ErrNotWaiting },
		partner: "p9",
	}
	s, outcomes := newTestScheduler(t, pairer, clock.NewFake(t0), testSchedulerConfig())

	require.NoError(t, s.Start("p1"))
	o := nextOutcome(t, outcomes)
	assert.Equal(t, StateMatched, o.State)
	assert.Equal(t, "p9", o.PartnerID)
}

func TestScheduler_NotWaitingAloneIsFailure(t *testing.T) {
	pairer := &scriptedPairer{attempt: func(int) (string, bool, error) {
		return "", false, models.ErrNotWaiting
	}}
	s, outcomes := newTestScheduler(t, pairer, clock.NewFake(t0), testSchedulerConfig())

	require.NoError(t, s.Start("p1"))
	o := nextOutcome(t, outcomes)
	assert.Equal(t, StateFailed, o.State)
	assert.ErrorIs(t, o.Err, models.ErrNotWaiting)
}

// blockingPairer holds every attempt until its context ends and then reports the
// cancellation wrapped in a plain store error.
type blockingPairer struct {
	scriptedPairer
	started chan struct{}
}

func (p *blockingPairer) AttemptPair(ctx context.Context, _ string) (string, bool, error) {
	p.started <- struct{}{}
	<-ctx.Done()
	return "", false, fmt.Errorf("postgres scan: %w", ctx.Err())
}

func TestScheduler_WrappedCancellationIsCancelled(t *testing.T) {
	pairer := &blockingPairer{started: make(chan struct{}, 1)}
	s, outcomes := newTestScheduler(t, pairer, clock.NewFake(t0), testSchedulerConfig())

	require.NoError(t, s.Start("p1"))
	<-pairer.started
	cancelled, ok := s.Cancel("p1")
	require.True(t, ok)
	assert.Equal(t, StateCancelled, cancelled.State)

	o := nextOutcome(t, outcomes)
	assert.Equal(t, StateCancelled, o.State)
	assert.NoError(t, o.Err)
	assert.Equal(t, []string{"p1"}, pairer.dequeued)
}

func TestScheduler_FinalOutcomesExpire(t *testing.T) {
	conf := testSchedulerConfig()
	conf.OutcomeTTL = 10 * time.Minute
	pairer := &scriptedPairer{attempt: func(int) (string, bool, error) {
		return "", false, models.ErrNotWaiting
	}}
	clk := clock.NewFake(t0)
	s, outcomes := newTestScheduler(t, pairer, clk, conf)

	require.NoError(t, s.Start("p1"))
	nextOutcome(t, outcomes)
	clk.Advance(9 * time.Minute)
	_, ok := s.Status("p1")
	assert.True(t, ok)

	require.NoError(t, s.Start("p2"))
	nextOutcome(t, outcomes)

	clk.Advance(2 * time.Minute)
	_, ok = s.Status("p1")
	assert.False(t, ok, "expired outcome is hidden")

	// the periodic sweep removes expired entries nobody asks about
	clk.Advance(9 * time.Minute)
	require.NoError(t, s.Start("p3"))
	nextOutcome(t, outcomes)
	s.mu.Lock()
	_, kept := s.last["p2"]
	size := len(s.last)
	s.mu.Unlock()
	assert.False(t, kept)
	assert.Equal(t, 1, size)
}
