// Package storagetest is the behavioural contract every storage.Store backend must pass.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freshanon/internal/models"
	"freshanon/internal/storage"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) storage.Store

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func Run(t *testing.T, newStore Factory) {
	cases := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"EnqueueUpsert", testEnqueueUpsert},
		{"EnqueuePreservesAttributes", testEnqueuePreservesAttributes},
		{"DequeueIdempotent", testDequeueIdempotent},
		{"WaitingMissing", testWaitingMissing},
		{"ScanOrderPremiumFirst", testScanOrderPremiumFirst},
		{"ScanOrderFIFO", testScanOrderFIFO},
		{"ScanBound", testScanBound},
		{"ScanFiltersBeforeBound", testScanFiltersBeforeBound},
		{"ScanPredicates", testScanPredicates},
		{"ScanSkipsCooldown", testScanSkipsCooldown},
		{"ScanMinInterestOverlap", testScanMinInterestOverlap},
		{"ClaimSuccess", testClaimSuccess},
		{"ClaimSelfGone", testClaimSelfGone},
		{"ClaimPartnerGone", testClaimPartnerGone},
		{"ClaimStaleSeq", testClaimStaleSeq},
		{"ClaimCooldown", testClaimCooldown},
		{"ClaimConcurrentSamePair", testClaimConcurrentSamePair},
		{"ClaimConcurrentTriangle", testClaimConcurrentTriangle},
		{"EndSession", testEndSession},
		{"Rematch", testRematch},
		{"EvictStale", testEvictStale},
		{"PruneRematch", testPruneRematch},
		{"Stats", testStats},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tc.fn(t, s)
		})
	}
}

func snap(id string) *models.Snapshot {
	return &models.Snapshot{
		ParticipantID: id,
		Language:      "en",
		Age:           25,
		Gender:        models.GenderMale,
		DesiredGender: models.GenderAny,
		AgeWindow:     5,
	}
}

func enqueue(t *testing.T, s storage.Store, sn *models.Snapshot, at time.Time) *models.Snapshot {
	t.Helper()
	entry, err := s.Enqueue(context.Background(), sn, at)
	require.NoError(t, err)
	return entry
}

func claim(s storage.Store, self, partner *models.Snapshot, cooldown time.Duration, now time.Time) (*models.Session, error) {
	return s.Claim(context.Background(), storage.ClaimRequest{
		SessionID:  uuid.NewString(),
		Self:       self.ParticipantID,
		SelfSeq:    self.Seq,
		Partner:    partner.ParticipantID,
		PartnerSeq: partner.Seq,
		Cooldown:   cooldown,
		Now:        now,
	})
}

func scan(t *testing.T, s storage.Store, self *models.Snapshot, bound int, premiumFirst bool) []string {
	t.Helper()
	got, err := s.ScanCandidates(context.Background(), storage.CandidateQuery{
		Self:         self,
		Bound:        bound,
		PremiumFirst: premiumFirst,
		Now:          epoch,
	})
	require.NoError(t, err)
	return ids(got)
}

func ids(entries []*models.Snapshot) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ParticipantID
	}
	return out
}

func testEnqueueUpsert(t *testing.T, s storage.Store) {
	ctx := context.Background()
	first := enqueue(t, s, snap("p1"), epoch)
	second := enqueue(t, s, snap("p1"), epoch.Add(time.Minute))

	assert.Greater(t, second.Seq, first.Seq)
	got, err := s.Waiting(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, second.Seq, got.Seq)
	assert.True(t, got.EnqueuedAt.Equal(epoch.Add(time.Minute)))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Waiting)
}

func testEnqueuePreservesAttributes(t *testing.T, s storage.Store) {
	in := &models.Snapshot{
		ParticipantID: "p1",
		Language:      "ru",
		Age:           31,
		Gender:        models.GenderFemale,
		DesiredGender: models.GenderMale,
		AgeWindow:     3,
		Vibe:          "chill",
		Interests:     []string{"chess", "music"},
		Premium:       true,
		AdultAccess:   true,
		RequireAdult:  true,
	}
	enqueue(t, s, in, epoch)

	got, err := s.Waiting(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "ru", got.Language)
	assert.Equal(t, 31, got.Age)
	assert.Equal(t, models.GenderFemale, got.Gender)
	assert.Equal(t, models.GenderMale, got.DesiredGender)
	assert.Equal(t, 3, got.AgeWindow)
	assert.Equal(t, "chill", got.Vibe)
	assert.Equal(t, []string{"chess", "music"}, got.Interests)
	assert.True(t, got.Premium)
	assert.True(t, got.AdultAccess)
	assert.True(t, got.RequireAdult)
}

func testDequeueIdempotent(t *testing.T, s storage.Store) {
	ctx := context.Background()
	enqueue(t, s, snap("p1"), epoch)

	removed, err := s.Dequeue(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.Dequeue(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func testWaitingMissing(t *testing.T, s storage.Store) {
	_, err := s.Waiting(context.Background(), "ghost")
	assert.ErrorIs(t, err, models.ErrNotWaiting)
}

func testScanOrderPremiumFirst(t *testing.T, s storage.Store) {
	enqueue(t, s, snap("old"), epoch)
	premium := snap("premium")
	premium.Premium = true
	enqueue(t, s, premium, epoch.Add(2*time.Second))
	enqueue(t, s, snap("young"), epoch.Add(time.Second))
	enqueue(t, s, snap("self"), epoch)

	assert.Equal(t, []string{"premium", "old", "young"}, scan(t, s, snap("self"), 10, true))
}

func testScanOrderFIFO(t *testing.T, s storage.Store) {
	premium := snap("premium")
	premium.Premium = true
	enqueue(t, s, premium, epoch.Add(2*time.Second))
	enqueue(t, s, snap("b"), epoch.Add(time.Second))
	enqueue(t, s, snap("a"), epoch.Add(time.Second))
	enqueue(t, s, snap("old"), epoch)

	// equal enqueue times fall back to insertion order
	assert.Equal(t, []string{"old", "b", "a", "premium"}, scan(t, s, snap("nobody"), 10, false))
}

func testScanBound(t *testing.T, s storage.Store) {
	for i, id := range []string{"a", "b", "c", "d"} {
		enqueue(t, s, snap(id), epoch.Add(time.Duration(i)*time.Second))
	}
	assert.Equal(t, []string{"b", "c"}, scan(t, s, snap("a"), 2, true))
}

func testScanFiltersBeforeBound(t *testing.T, s storage.Store) {
	for i := 0; i < 5; i++ {
		other := snap(uuid.NewString())
		other.Language = "ru"
		enqueue(t, s, other, epoch.Add(time.Duration(i)*time.Second))
	}
	enqueue(t, s, snap("late"), epoch.Add(time.Minute))

	assert.Equal(t, []string{"late"}, scan(t, s, snap("self"), 2, false))
}

func testScanPredicates(t *testing.T, s storage.Store) {
	self := snap("self")
	self.DesiredGender = models.GenderFemale
	self.Vibe = "chill"
	self.Premium = true

	add := func(id string, mutate func(o *models.Snapshot)) {
		other := snap(id)
		other.Gender = models.GenderFemale
		other.DesiredGender = models.GenderMale
		other.Vibe = "chill"
		mutate(other)
		enqueue(t, s, other, epoch)
	}
	add("ok", func(*models.Snapshot) {})
	add("no-vibe", func(o *models.Snapshot) { o.Vibe = "" })
	add("lang", func(o *models.Snapshot) { o.Language = "ru" })
	add("male", func(o *models.Snapshot) { o.Gender = models.GenderMale })
	add("unknown-gender", func(o *models.Snapshot) { o.Gender = "" })
	add("wants-female", func(o *models.Snapshot) { o.DesiredGender = models.GenderFemale })
	add("too-old", func(o *models.Snapshot) { o.Age = 31 })
	add("narrow-window", func(o *models.Snapshot) { o.Age, o.AgeWindow = 28, 2 })
	add("other-vibe", func(o *models.Snapshot) { o.Vibe = "deep" })
	add("wants-adult", func(o *models.Snapshot) { o.AdultAccess, o.RequireAdult = true, true })
	add("premium-only", func(o *models.Snapshot) { o.Premium, o.PremiumOnly = true, true })

	assert.ElementsMatch(t, []string{"ok", "no-vibe", "premium-only"}, scan(t, s, self, 0, false))

	self.Premium = false
	assert.ElementsMatch(t, []string{"ok", "no-vibe"}, scan(t, s, self, 0, false))

	self.PremiumOnly = true
	self.Premium = true
	assert.ElementsMatch(t, []string{"premium-only"}, scan(t, s, self, 0, false))
}

func testScanSkipsCooldown(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.RecordRematch(ctx, "self", "recent", epoch.Add(-29*time.Minute)))
	require.NoError(t, s.RecordRematch(ctx, "expired", "self", epoch.Add(-30*time.Minute)))
	require.NoError(t, s.RecordRematch(ctx, "other", "stranger", epoch))
	enqueue(t, s, snap("recent"), epoch)
	enqueue(t, s, snap("expired"), epoch.Add(time.Second))
	enqueue(t, s, snap("stranger"), epoch.Add(2*time.Second))

	got, err := s.ScanCandidates(ctx, storage.CandidateQuery{
		Self:     snap("self"),
		Bound:    1,
		Cooldown: 30 * time.Minute,
		Now:      epoch,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"expired"}, ids(got))

	got, err = s.ScanCandidates(ctx, storage.CandidateQuery{Self: snap("self"), Now: epoch})
	require.NoError(t, err)
	assert.Equal(t, []string{"recent", "expired", "stranger"}, ids(got))
}

func testScanMinInterestOverlap(t *testing.T, s storage.Store) {
	both := snap("both")
	both.Interests = []string{"chess", "music"}
	one := snap("one")
	one.Interests = []string{"music", "tea"}
	enqueue(t, s, both, epoch)
	enqueue(t, s, one, epoch.Add(time.Second))
	enqueue(t, s, snap("none"), epoch.Add(2*time.Second))

	self := snap("self")
	self.Interests = []string{"chess", "music"}
	query := func(minOverlap int) []string {
		got, err := s.ScanCandidates(context.Background(), storage.CandidateQuery{
			Self:               self,
			MinInterestOverlap: minOverlap,
			Now:                epoch,
		})
		require.NoError(t, err)
		return ids(got)
	}
	assert.Equal(t, []string{"both", "one", "none"}, query(0))
	assert.Equal(t, []string{"both", "one"}, query(1))
	assert.Equal(t, []string{"both"}, query(2))
}

func testClaimSuccess(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := enqueue(t, s, snap("a"), epoch)
	b := enqueue(t, s, snap("b"), epoch)

	session, err := claim(s, a, b, 30*time.Minute, epoch.Add(time.Second))
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "a", session.ParticipantA)
	assert.Equal(t, "b", session.ParticipantB)
	assert.True(t, session.Open())

	_, err = s.Waiting(ctx, "a")
	assert.ErrorIs(t, err, models.ErrNotWaiting)
	_, err = s.Waiting(ctx, "b")
	assert.ErrorIs(t, err, models.ErrNotWaiting)

	active, err := s.ActiveSession(ctx, "b")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, session.ID, active.ID)
	assert.Equal(t, "a", active.PartnerOf("b"))

	recent, err := s.IsRecent(ctx, "b", "a", 30*time.Minute, epoch.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, recent)

	_, err = s.Enqueue(ctx, snap("a"), epoch.Add(time.Minute))
	assert.ErrorIs(t, err, models.ErrInSession)
}

func testClaimSelfGone(t *testing.T, s storage.Store) {
	a := enqueue(t, s, snap("a"), epoch)
	b := enqueue(t, s, snap("b"), epoch)
	_, err := s.Dequeue(context.Background(), "a")
	require.NoError(t, err)

	_, err = claim(s, a, b, time.Minute, epoch)
	assert.ErrorIs(t, err, models.ErrNotWaiting)

	got, err := s.Waiting(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, b.Seq, got.Seq)
}

func testClaimPartnerGone(t *testing.T, s storage.Store) {
	a := enqueue(t, s, snap("a"), epoch)
	b := enqueue(t, s, snap("b"), epoch)
	_, err := s.Dequeue(context.Background(), "b")
	require.NoError(t, err)

	_, err = claim(s, a, b, time.Minute, epoch)
	assert.ErrorIs(t, err, models.ErrRaceLost)

	_, err = s.Waiting(context.Background(), "a")
	assert.NoError(t, err)
}

func testClaimStaleSeq(t *testing.T, s storage.Store) {
	a := enqueue(t, s, snap("a"), epoch)
	b := enqueue(t, s, snap("b"), epoch)
	enqueue(t, s, snap("b"), epoch.Add(time.Second))

	_, err := claim(s, a, b, time.Minute, epoch.Add(time.Second))
	assert.ErrorIs(t, err, models.ErrRaceLost)

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Waiting)
	assert.Equal(t, 0, stats.OpenSessions)
}

func testClaimCooldown(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.RecordRematch(ctx, "b", "a", epoch))
	a := enqueue(t, s, snap("a"), epoch)
	b := enqueue(t, s, snap("b"), epoch)

	_, err := claim(s, a, b, 30*time.Minute, epoch.Add(29*time.Minute))
	assert.ErrorIs(t, err, models.ErrRecentlyPaired)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Waiting)

	session, err := claim(s, a, b, 30*time.Minute, epoch.Add(30*time.Minute))
	require.NoError(t, err)
	assert.NotNil(t, session)
}

func testClaimConcurrentSamePair(t *testing.T, s storage.Store) {
	a := enqueue(t, s, snap("a"), epoch)
	b := enqueue(t, s, snap("b"), epoch)

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			self, partner := a, b
			if i%2 == 1 {
				self, partner = b, a
			}
			_, err := claim(s, self, partner, time.Minute, epoch)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			if !errors.Is(err, models.ErrRaceLost) && !errors.Is(err, models.ErrNotWaiting) &&
				!errors.Is(err, models.ErrRecentlyPaired) && !errors.Is(err, models.ErrTransientStore) {
				t.Errorf("unexpected claim error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Waiting)
	assert.Equal(t, 1, stats.OpenSessions)
}

func testClaimConcurrentTriangle(t *testing.T, s storage.Store) {
	a := enqueue(t, s, snap("a"), epoch)
	b := enqueue(t, s, snap("b"), epoch)
	c := enqueue(t, s, snap("c"), epoch)

	pairs := [][2]*models.Snapshot{{a, b}, {b, c}, {c, a}}
	var wg sync.WaitGroup
	sessions := make(chan *models.Session, len(pairs))
	for _, p := range pairs {
		wg.Add(1)
		go func(self, partner *models.Snapshot) {
			defer wg.Done()
			if session, err := claim(s, self, partner, time.Minute, epoch); err == nil {
				sessions <- session
			}
		}(p[0], p[1])
	}
	wg.Wait()
	close(sessions)

	var formed []*models.Session
	for session := range sessions {
		formed = append(formed, session)
	}
	require.Len(t, formed, 1)

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Waiting)
	assert.Equal(t, 1, stats.OpenSessions)
}

func testEndSession(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := enqueue(t, s, snap("a"), epoch)
	b := enqueue(t, s, snap("b"), epoch)
	started, err := claim(s, a, b, time.Minute, epoch)
	require.NoError(t, err)

	end := epoch.Add(10 * time.Minute)
	ended, err := s.EndSession(ctx, "b", end)
	require.NoError(t, err)
	require.NotNil(t, ended)
	assert.Equal(t, started.ID, ended.ID)
	assert.False(t, ended.Open())
	assert.Equal(t, "a", ended.PartnerOf("b"))

	again, err := s.EndSession(ctx, "a", end.Add(time.Second))
	require.NoError(t, err)
	assert.Nil(t, again)

	active, err := s.ActiveSession(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, active)

	// the cooldown runs from the end of the session
	recent, err := s.IsRecent(ctx, "a", "b", 30*time.Minute, end.Add(29*time.Minute))
	require.NoError(t, err)
	assert.True(t, recent)

	_, err = s.Enqueue(ctx, snap("a"), end)
	assert.NoError(t, err)
}

func testRematch(t *testing.T, s storage.Store) {
	ctx := context.Background()
	recent, err := s.IsRecent(ctx, "a", "b", time.Minute, epoch)
	require.NoError(t, err)
	assert.False(t, recent)

	require.NoError(t, s.RecordRematch(ctx, "b", "a", epoch))
	require.NoError(t, s.RecordRematch(ctx, "a", "b", epoch))

	recent, err = s.IsRecent(ctx, "a", "b", time.Minute, epoch.Add(59*time.Second))
	require.NoError(t, err)
	assert.True(t, recent)

	recent, err = s.IsRecent(ctx, "b", "a", time.Minute, epoch.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, recent)
}

func testEvictStale(t *testing.T, s storage.Store) {
	ctx := context.Background()
	enqueue(t, s, snap("old1"), epoch)
	enqueue(t, s, snap("old2"), epoch.Add(time.Second))
	enqueue(t, s, snap("fresh"), epoch.Add(time.Hour))

	evicted, err := s.EvictStale(ctx, epoch.Add(time.Minute))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"old1", "old2"}, evicted)

	_, err = s.Waiting(ctx, "fresh")
	assert.NoError(t, err)
	_, err = s.Waiting(ctx, "old1")
	assert.ErrorIs(t, err, models.ErrNotWaiting)
}

func testPruneRematch(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.RecordRematch(ctx, "a", "b", epoch))
	require.NoError(t, s.RecordRematch(ctx, "a", "c", epoch.Add(time.Hour)))

	n, err := s.PruneRematch(ctx, epoch.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	recent, err := s.IsRecent(ctx, "a", "b", 24*time.Hour, epoch.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, recent)
	recent, err = s.IsRecent(ctx, "a", "c", 24*time.Hour, epoch.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, recent)
}

func testStats(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := enqueue(t, s, snap("a"), epoch)
	b := enqueue(t, s, snap("b"), epoch)
	enqueue(t, s, snap("c"), epoch)
	_, err := claim(s, a, b, time.Minute, epoch)
	require.NoError(t, err)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.Stats{Waiting: 1, OpenSessions: 1}, stats)
}
