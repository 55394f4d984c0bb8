package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freshanon/internal/models"
	"freshanon/internal/storage"
	"freshanon/internal/storage/storagetest"
)

// openTest connects to FRESHANON_PG_DSN and empties every table.
func openTest(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("FRESHANON_PG_DSN")
	if dsn == "" {
		t.Skip("FRESHANON_PG_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn, 8)
	require.NoError(t, err)
	_, err = s.pool.Exec(ctx, `TRUNCATE queue, sessions, rematch, profiles`)
	require.NoError(t, err)
	return s
}

func TestStore_Conformance(t *testing.T) {
	if os.Getenv("FRESHANON_PG_DSN") == "" {
		t.Skip("FRESHANON_PG_DSN not set")
	}
	storagetest.Run(t, func(t *testing.T) storage.Store { return openTest(t) })
}

func TestStore_Profiles(t *testing.T) {
	s := openTest(t)
	defer s.Close()
	ctx := context.Background()

	_, err := s.GetProfile(ctx, "ghost")
	assert.ErrorIs(t, err, models.ErrProfileNotFound)

	until := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertProfile(ctx, &models.Profile{
		ParticipantID: "a", Language: "en", Age: 30, Gender: models.GenderMale,
		DesiredGender: models.GenderFemale, AgeWindow: 2, AdultUntil: &until,
	}))
	got, err := s.GetProfile(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.GenderFemale, got.DesiredGender)
	require.NotNil(t, got.AdultUntil)
	assert.True(t, got.AdultUntil.Equal(until))
	assert.Nil(t, got.Interests)
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify("op", nil))

	assert.ErrorIs(t, classify("op", &pgconn.PgError{Code: "40001"}), models.ErrTransientStore)
	assert.ErrorIs(t, classify("op", &pgconn.PgError{Code: "08006"}), models.ErrTransientStore)
	assert.ErrorIs(t, classify("op", &pgconn.PgError{Code: "55P03"}), models.ErrTransientStore)
	assert.ErrorIs(t, classify("op", context.DeadlineExceeded), models.ErrTransientStore)

	unique := classify("op", &pgconn.PgError{Code: "23505"})
	assert.False(t, errors.Is(unique, models.ErrTransientStore))

	assert.Equal(t, models.ErrNotWaiting, classify("op", models.ErrNotWaiting))
	lost := classify("op", errors.Join(models.ErrRaceLost))
	assert.ErrorIs(t, lost, models.ErrRaceLost)
	assert.False(t, errors.Is(lost, models.ErrTransientStore))
}
