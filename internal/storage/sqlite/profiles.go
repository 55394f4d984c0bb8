package sqlite

import (
	"context"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"freshanon/internal/models"
)

func (s *Store) GetProfile(ctx context.Context, participantID string) (*models.Profile, error) {
	conn, err := s.take(ctx, "get profile")
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var profile *models.Profile
	var decodeErr error
	err = sqlitex.Execute(conn, `SELECT participant_id, language, age, gender, desired_gender, age_window,
		vibe, interests, premium, adult_until, premium_only FROM profiles WHERE participant_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{participantID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				interests, err := decodeInterests(stmt.ColumnText(7))
				if err != nil {
					decodeErr = err
					return err
				}
				profile = &models.Profile{
					ParticipantID: stmt.ColumnText(0),
					Language:      stmt.ColumnText(1),
					Age:           stmt.ColumnInt(2),
					Gender:        models.Gender(stmt.ColumnText(3)),
					DesiredGender: models.Gender(stmt.ColumnText(4)),
					AgeWindow:     stmt.ColumnInt(5),
					Vibe:          stmt.ColumnText(6),
					Interests:     interests,
					Premium:       stmt.ColumnInt64(8) != 0,
					PremiumOnly:   stmt.ColumnInt64(10) != 0,
				}
				if !stmt.ColumnIsNull(9) {
					until := time.Unix(0, stmt.ColumnInt64(9)).UTC()
					profile.AdultUntil = &until
				}
				return nil
			},
		})
	if decodeErr != nil {
		return nil, decodeErr
	}
	if err != nil {
		return nil, classify("get profile", err)
	}
	if profile == nil {
		return nil, models.ErrProfileNotFound
	}
	return profile, nil
}

func (s *Store) UpsertProfile(ctx context.Context, profile *models.Profile) error {
	conn, err := s.take(ctx, "upsert profile")
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	interests, err := encodeInterests(profile.Interests)
	if err != nil {
		return err
	}
	var adultUntil any
	if profile.AdultUntil != nil {
		adultUntil = profile.AdultUntil.UnixNano()
	}

	err = sqlitex.Execute(conn, `INSERT INTO profiles (participant_id, language, age, gender, desired_gender,
		age_window, vibe, interests, premium, adult_until, premium_only) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (participant_id) DO UPDATE SET
			language = excluded.language, age = excluded.age, gender = excluded.gender,
			desired_gender = excluded.desired_gender, age_window = excluded.age_window,
			vibe = excluded.vibe, interests = excluded.interests, premium = excluded.premium,
			adult_until = excluded.adult_until, premium_only = excluded.premium_only`,
		&sqlitex.ExecOptions{Args: []any{
			profile.ParticipantID, profile.Language, profile.Age, string(profile.Gender),
			string(profile.DesiredGender), profile.AgeWindow, profile.Vibe, interests,
			boolInt(profile.Premium), adultUntil, boolInt(profile.PremiumOnly),
		}})
	return classify("upsert profile", err)
}
