package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"freshanon/internal/models"
	"freshanon/internal/storage"
	"freshanon/internal/storage/storagetest"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "freshanon.db"), 4)
	require.NoError(t, err)
	return s
}

func TestStore_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store { return openTemp(t) })
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("", 1)
	assert.Error(t, err)
}

func TestStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "freshanon.db")
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s, err := Open(path, 2)
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, &models.Snapshot{ParticipantID: "a", Language: "en", Age: 20, DesiredGender: models.GenderAny}, at)
	require.NoError(t, err)
	require.NoError(t, s.RecordRematch(ctx, "a", "b", at))
	require.NoError(t, s.Close())

	s, err = Open(path, 2)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Waiting(ctx, "a")
	require.NoError(t, err)
	assert.True(t, got.EnqueuedAt.Equal(at))
	recent, err := s.IsRecent(ctx, "b", "a", time.Hour, at.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, recent)
}

func TestStore_Profiles(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	defer s.Close()

	_, err := s.GetProfile(ctx, "ghost")
	assert.ErrorIs(t, err, models.ErrProfileNotFound)

	until := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	in := &models.Profile{
		ParticipantID: "a",
		Language:      "en",
		Age:           22,
		Gender:        models.GenderFemale,
		DesiredGender: models.GenderAny,
		AgeWindow:     4,
		Interests:     []string{"art"},
		Premium:       true,
		PremiumOnly:   true,
		AdultUntil:    &until,
	}
	require.NoError(t, s.UpsertProfile(ctx, in))

	got, err := s.GetProfile(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 22, got.Age)
	assert.True(t, got.PremiumOnly)
	assert.Equal(t, []string{"art"}, got.Interests)
	require.NotNil(t, got.AdultUntil)
	assert.True(t, got.AdultUntil.Equal(until))

	in.AdultUntil = nil
	in.Age = 23
	require.NoError(t, s.UpsertProfile(ctx, in))
	got, err = s.GetProfile(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 23, got.Age)
	assert.Nil(t, got.AdultUntil)
}

func TestOpen_AddsMissingColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	conn, err := sqlite.OpenConn(path)
	require.NoError(t, err)
	require.NoError(t, sqlitex.ExecuteScript(conn, `
		CREATE TABLE queue (
			seq INTEGER PRIMARY KEY AUTOINCREMENT, participant_id TEXT NOT NULL UNIQUE,
			language TEXT NOT NULL, age INTEGER NOT NULL, gender TEXT NOT NULL,
			desired_gender TEXT NOT NULL, age_window INTEGER NOT NULL, vibe TEXT NOT NULL,
			interests TEXT NOT NULL, premium INTEGER NOT NULL, adult_access INTEGER NOT NULL,
			require_adult INTEGER NOT NULL, enqueued_at INTEGER NOT NULL
		);
		INSERT INTO queue (participant_id, language, age, gender, desired_gender, age_window, vibe,
			interests, premium, adult_access, require_adult, enqueued_at)
		VALUES ('old', 'en', 25, 'female', 'any', 5, '', '[]', 0, 0, 0, 0);`, nil))
	require.NoError(t, conn.Close())

	s, err := Open(path, 2)
	require.NoError(t, err)

	got, err := s.Waiting(context.Background(), "old")
	require.NoError(t, err)
	assert.False(t, got.PremiumOnly)

	self := &models.Snapshot{ParticipantID: "self", Language: "en", Age: 25, Gender: models.GenderMale,
		DesiredGender: models.GenderAny, AgeWindow: 5}
	candidates, err := s.ScanCandidates(context.Background(), storage.CandidateQuery{Self: self, Now: time.Now()})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "old", candidates[0].ParticipantID)

	// a second open sees the column and leaves it alone
	require.NoError(t, s.Close())
	s, err = Open(path, 2)
	require.NoError(t, err)
	assert.NoError(t, s.Close())
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify("op", nil))
	assert.ErrorIs(t, classify("op", context.DeadlineExceeded), models.ErrTransientStore)

	plain := classify("op", errors.New("boom"))
	assert.False(t, errors.Is(plain, models.ErrTransientStore))
	assert.Contains(t, plain.Error(), "boom")
}

func TestStore_CancelledContextIsTransient(t *testing.T) {
	s := openTemp(t)
	defer s.Close()

	// occupy every connection so Take has to wait on the context
	var held []*sqlite.Conn
	for i := 0; i < 4; i++ {
		conn, err := s.pool.Take(context.Background())
		require.NoError(t, err, fmt.Sprintf("conn %d", i))
		held = append(held, conn)
	}
	defer func() {
		for _, conn := range held {
			s.pool.Put(conn)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Waiting(ctx, "a")
	assert.ErrorIs(t, err, models.ErrTransientStore)
}
