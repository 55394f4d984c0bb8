package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"freshanon/internal/models"
)

func (s *Store) GetProfile(ctx context.Context, participantID string) (*models.Profile, error) {
	var (
		profile        models.Profile
		gender, wanted string
		adultUntil     *time.Time
	)
	err := s.pool.QueryRow(ctx, `SELECT participant_id, language, age, gender, desired_gender, age_window,
		vibe, interests, premium, adult_until, premium_only FROM profiles WHERE participant_id = $1`, participantID).
		Scan(&profile.ParticipantID, &profile.Language, &profile.Age, &gender, &wanted, &profile.AgeWindow,
			&profile.Vibe, &profile.Interests, &profile.Premium, &adultUntil, &profile.PremiumOnly)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrProfileNotFound
	}
	if err != nil {
		return nil, classify("get profile", err)
	}
	profile.Gender = models.Gender(gender)
	profile.DesiredGender = models.Gender(wanted)
	if len(profile.Interests) == 0 {
		profile.Interests = nil
	}
	if adultUntil != nil {
		utc := adultUntil.UTC()
		profile.AdultUntil = &utc
	}
	return &profile, nil
}

func (s *Store) UpsertProfile(ctx context.Context, profile *models.Profile) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO profiles (participant_id, language, age, gender, desired_gender,
		age_window, vibe, interests, premium, adult_until, premium_only)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (participant_id) DO UPDATE SET
			language = EXCLUDED.language, age = EXCLUDED.age, gender = EXCLUDED.gender,
			desired_gender = EXCLUDED.desired_gender, age_window = EXCLUDED.age_window,
			vibe = EXCLUDED.vibe, interests = EXCLUDED.interests, premium = EXCLUDED.premium,
			adult_until = EXCLUDED.adult_until, premium_only = EXCLUDED.premium_only`,
		profile.ParticipantID, profile.Language, profile.Age, string(profile.Gender),
		string(profile.DesiredGender), profile.AgeWindow, profile.Vibe, nonNil(profile.Interests),
		profile.Premium, profile.AdultUntil, profile.PremiumOnly)
	return classify("upsert profile", err)
}
