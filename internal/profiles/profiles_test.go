package profiles

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freshanon/internal/clock"
	"freshanon/internal/models"
	"freshanon/internal/storage/memory"
	"freshanon/internal/storage/sqlite"
	"freshanon/internal/structures"
	"freshanon/internal/testutil"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

const profilesJSON = `[
  {"participant_id": "p1", "language": "RU", "age": 22, "gender": "m", "desired_gender": "any",
   "age_window": 2, "interests": ["Music", "chess", "music"], "premium": true,
   "adult_until": "2024-05-02T00:00:00Z"},
  {"participant_id": "p2", "language": "ru", "age": 30, "gender": "f", "age_window": 3,
   "adult_until": "2024-04-01T00:00:00Z"}
]`

func writeProfiles(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "profiles.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// countingSource counts lookups that reach it.
type countingSource struct {
	Source
	calls int
}

func (c *countingSource) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	c.calls++
	return c.Source.GetProfile(ctx, id)
}

func TestLoadFile(t *testing.T) {
	fs, err := LoadFile(writeProfiles(t, profilesJSON))
	require.NoError(t, err)
	assert.Equal(t, 2, fs.Len())

	p, err := fs.GetProfile(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 22, p.Age)
	assert.True(t, p.Premium)

	_, err = fs.GetProfile(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = LoadFile(writeProfiles(t, "{not json"))
	assert.Error(t, err)

	_, err = LoadFile(writeProfiles(t, `[{"language": "en"}]`))
	assert.ErrorContains(t, err, "no participant_id")
}

func TestStore_SnapshotResolvesAdultAccess(t *testing.T) {
	fs, err := LoadFile(writeProfiles(t, profilesJSON))
	require.NoError(t, err)
	clk := clock.NewFake(now)
	store := NewStore(fs, clk)

	s, err := store.GetSnapshot(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "ru", s.Language)
	assert.Equal(t, []string{"chess", "music"}, s.Interests)
	assert.Equal(t, models.GenderMale, s.Gender)
	assert.True(t, s.AdultAccess)

	s, err = store.GetSnapshot(context.Background(), "p2")
	require.NoError(t, err)
	assert.False(t, s.AdultAccess, "expired grant")
	assert.Equal(t, models.GenderAny, s.DesiredGender)

	clk.Advance(24 * time.Hour)
	s, err = store.GetSnapshot(context.Background(), "p1")
	require.NoError(t, err)
	assert.False(t, s.AdultAccess, "grant ran out")
}

func TestStore_Empty(t *testing.T) {
	store := NewStore(Empty{}, clock.NewFake(now))
	_, err := store.GetSnapshot(context.Background(), "p1")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestCachedStore_HitsCache(t *testing.T) {
	fs, err := LoadFile(writeProfiles(t, profilesJSON))
	require.NoError(t, err)
	src := &countingSource{Source: fs}
	cache := testutil.NewMockCache()
	cs := NewCachedStore(src, cache, &testutil.MockLogger{})

	for i := 0; i < 3; i++ {
		p, err := cs.GetProfile(context.Background(), "p1")
		require.NoError(t, err)
		assert.Equal(t, "p1", p.ParticipantID)
		require.NotNil(t, p.AdultUntil)
		assert.True(t, p.AdultUntil.Equal(time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)))
	}
	assert.Equal(t, 1, src.calls)

	cs.Invalidate("p1")
	_, err = cs.GetProfile(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestCachedStore_MissesAreNotCached(t *testing.T) {
	src := &countingSource{Source: Empty{}}
	cache := testutil.NewMockCache()
	cs := NewCachedStore(src, cache, &testutil.MockLogger{})

	for i := 0; i < 2; i++ {
		_, err := cs.GetProfile(context.Background(), "ghost")
		assert.ErrorIs(t, err, ErrProfileNotFound)
	}
	assert.Equal(t, 2, src.calls)
	assert.Empty(t, cache.Data)
}

func TestCachedStore_CorruptEntryFallsBack(t *testing.T) {
	fs, err := LoadFile(writeProfiles(t, profilesJSON))
	require.NoError(t, err)
	cache := testutil.NewMockCache()
	cache.Set("profile:p2", []byte("garbage"))
	logger := &testutil.MockLogger{}
	cs := NewCachedStore(fs, cache, logger)

	p, err := cs.GetProfile(context.Background(), "p2")
	require.NoError(t, err)
	assert.Equal(t, 30, p.Age)
	assert.Equal(t, 1, logger.Count("warn", "undecodable"))
}

func TestNewProfileProvider_File(t *testing.T) {
	conf := &structures.Config{Profiles: structures.ProfilesConfig{File: writeProfiles(t, profilesJSON)}}
	store, err := NewProfileProvider(conf, memory.NewStore(), testutil.NewMockCache(), &testutil.MockLogger{}, clock.NewFake(now))
	require.NoError(t, err)

	s, err := store.GetSnapshot(context.Background(), "p2")
	require.NoError(t, err)
	assert.Equal(t, 30, s.Age)
}

func TestNewProfileProvider_SqliteTable(t *testing.T) {
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "pool.db"), 1)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.UpsertProfile(context.Background(), &models.Profile{
		ParticipantID: "p7", Language: "en", Age: 33, AgeWindow: 2,
	}))

	cache := testutil.NewMockCache()
	conf := &structures.Config{Cache: structures.CacheConfig{Enabled: true}, Store: structures.StoreConfig{Backend: "sqlite"}}
	store, err := NewProfileProvider(conf, db, cache, &testutil.MockLogger{}, clock.NewFake(now))
	require.NoError(t, err)

	s, err := store.GetSnapshot(context.Background(), "p7")
	require.NoError(t, err)
	assert.Equal(t, 33, s.Age)
	assert.Contains(t, cache.Data, "profile:p7")
}

func TestNewProfileProvider_None(t *testing.T) {
	store, err := NewProfileProvider(&structures.Config{}, memory.NewStore(), testutil.NewMockCache(), &testutil.MockLogger{}, clock.NewFake(now))
	require.NoError(t, err)
	_, err = store.GetSnapshot(context.Background(), "p1")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestNewProfileProvider_BadFile(t *testing.T) {
	conf := &structures.Config{Profiles: structures.ProfilesConfig{File: writeProfiles(t, "[")}}
	_, err := NewProfileProvider(conf, memory.NewStore(), testutil.NewMockCache(), &testutil.MockLogger{}, clock.NewFake(now))
	assert.Error(t, err)
}
