// Package postgres is the shared durable storage backend for deployments running more
// than one matcher process. Claims lock both pool rows with FOR UPDATE SKIP LOCKED
// after winning non-blocking per-participant advisory locks; enqueue and session end
// take the same advisory lock in blocking mode.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"freshanon/internal/models"
	"freshanon/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS queue (
	seq            BIGSERIAL,
	participant_id TEXT        PRIMARY KEY,
	language       TEXT        NOT NULL,
	age            INTEGER     NOT NULL,
	gender         TEXT        NOT NULL,
	desired_gender TEXT        NOT NULL,
	age_window     INTEGER     NOT NULL,
	vibe           TEXT        NOT NULL,
	interests      TEXT[]      NOT NULL DEFAULT '{}',
	premium        BOOLEAN     NOT NULL,
	premium_only   BOOLEAN     NOT NULL DEFAULT FALSE,
	adult_access   BOOLEAN     NOT NULL,
	require_adult  BOOLEAN     NOT NULL,
	enqueued_at    TIMESTAMPTZ NOT NULL
);
ALTER TABLE queue ADD COLUMN IF NOT EXISTS premium_only BOOLEAN NOT NULL DEFAULT FALSE;
CREATE INDEX IF NOT EXISTS queue_priority ON queue (premium DESC, enqueued_at, seq);
CREATE INDEX IF NOT EXISTS queue_fifo ON queue (enqueued_at, seq);

CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT        PRIMARY KEY,
	participant_a TEXT        NOT NULL,
	participant_b TEXT        NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	ended_at      TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS sessions_open_a ON sessions (participant_a) WHERE ended_at IS NULL;
CREATE INDEX IF NOT EXISTS sessions_open_b ON sessions (participant_b) WHERE ended_at IS NULL;

CREATE TABLE IF NOT EXISTS rematch (
	pair_a     TEXT        NOT NULL,
	pair_b     TEXT        NOT NULL,
	matched_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (pair_a, pair_b)
);

CREATE TABLE IF NOT EXISTS profiles (
	participant_id TEXT        PRIMARY KEY,
	language       TEXT        NOT NULL,
	age            INTEGER     NOT NULL,
	gender         TEXT        NOT NULL,
	desired_gender TEXT        NOT NULL,
	age_window     INTEGER     NOT NULL,
	vibe           TEXT        NOT NULL DEFAULT '',
	interests      TEXT[]      NOT NULL DEFAULT '{}',
	premium        BOOLEAN     NOT NULL DEFAULT FALSE,
	premium_only   BOOLEAN     NOT NULL DEFAULT FALSE,
	adult_until    TIMESTAMPTZ
);
ALTER TABLE profiles ADD COLUMN IF NOT EXISTS premium_only BOOLEAN NOT NULL DEFAULT FALSE;
`

const queueColumns = `seq, participant_id, language, age, gender, desired_gender, age_window,
	vibe, interests, premium, adult_access, require_adult, enqueued_at, premium_only`

// candidateFilter mirrors models.Compatible plus the rematch cooldown.
const candidateFilter = `participant_id <> @self
	AND language = @language
	AND abs(age - @age) <= @age_window
	AND abs(age - @age) <= age_window
	AND (@desired_gender IN ('any', '') OR gender = @desired_gender)
	AND (desired_gender IN ('any', '') OR desired_gender = @gender)
	AND (@vibe = '' OR vibe = '' OR vibe = @vibe)
	AND (NOT @require_adult OR (@adult_access AND adult_access))
	AND (NOT require_adult OR (adult_access AND @adult_access))
	AND (NOT @premium_only OR premium)
	AND (NOT premium_only OR @premium)
	AND (@min_overlap <= 0 OR cardinality(ARRAY(
		SELECT unnest(interests) INTERSECT SELECT unnest(@interests::text[]))) >= @min_overlap)
	AND NOT EXISTS (SELECT 1 FROM rematch r
		WHERE ((r.pair_a = queue.participant_id AND r.pair_b = @self)
			OR (r.pair_a = @self AND r.pair_b = queue.participant_id))
		AND r.matched_at > @cooldown_cutoff)`

type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

// Open connects, pings and applies the schema. maxConns <= 0 keeps the pgx default.
func Open(ctx context.Context, dsn string, maxConns int) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// inTx runs fn in a read-committed transaction, rolling back on any error.
func (s *Store) inTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classify(op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return classify(op, err)
	}
	return classify(op, tx.Commit(ctx))
}

func lockParticipant(ctx context.Context, tx pgx.Tx, participantID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, participantID)
	return err
}

func tryLockParticipant(ctx context.Context, tx pgx.Tx, participantID string) (bool, error) {
	var ok bool
	err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock(hashtext($1))`, participantID).Scan(&ok)
	return ok, err
}

func (s *Store) Enqueue(ctx context.Context, snap *models.Snapshot, at time.Time) (*models.Snapshot, error) {
	var seq int64
	err := s.inTx(ctx, "enqueue", func(tx pgx.Tx) error {
		if err := lockParticipant(ctx, tx, snap.ParticipantID); err != nil {
			return err
		}
		busy, err := hasOpenSession(ctx, tx, snap.ParticipantID)
		if err != nil {
			return err
		}
		if busy {
			return models.ErrInSession
		}
		return tx.QueryRow(ctx, `
			INSERT INTO queue (participant_id, language, age, gender, desired_gender, age_window,
				vibe, interests, premium, adult_access, require_adult, enqueued_at, premium_only)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (participant_id) DO UPDATE SET
				language = EXCLUDED.language, age = EXCLUDED.age, gender = EXCLUDED.gender,
				desired_gender = EXCLUDED.desired_gender, age_window = EXCLUDED.age_window,
				vibe = EXCLUDED.vibe, interests = EXCLUDED.interests, premium = EXCLUDED.premium,
				adult_access = EXCLUDED.adult_access, require_adult = EXCLUDED.require_adult,
				enqueued_at = EXCLUDED.enqueued_at, premium_only = EXCLUDED.premium_only,
				seq = nextval(pg_get_serial_sequence('queue', 'seq'))
			RETURNING seq`,
			snap.ParticipantID, snap.Language, snap.Age, string(snap.Gender), string(snap.DesiredGender),
			snap.AgeWindow, snap.Vibe, nonNil(snap.Interests), snap.Premium, snap.AdultAccess,
			snap.RequireAdult, at, snap.PremiumOnly,
		).Scan(&seq)
	})
	if err != nil {
		return nil, err
	}

	entry := snap.Clone()
	entry.EnqueuedAt = at
	entry.Seq = uint64(seq)
	return entry, nil
}

func (s *Store) Dequeue(ctx context.Context, participantID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM queue WHERE participant_id = $1`, participantID)
	if err != nil {
		return false, classify("dequeue", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) Waiting(ctx context.Context, participantID string) (*models.Snapshot, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+queueColumns+` FROM queue WHERE participant_id = $1`, participantID)
	if err != nil {
		return nil, classify("waiting", err)
	}
	entries, err := collectEntries(rows)
	if err != nil {
		return nil, classify("waiting", err)
	}
	if len(entries) == 0 {
		return nil, models.ErrNotWaiting
	}
	return entries[0], nil
}

func (s *Store) ScanCandidates(ctx context.Context, q storage.CandidateQuery) ([]*models.Snapshot, error) {
	self := q.Self
	order := "enqueued_at, seq"
	if q.PremiumFirst {
		order = "premium DESC, enqueued_at, seq"
	}
	query := `SELECT ` + queueColumns + ` FROM queue WHERE ` + candidateFilter + ` ORDER BY ` + order
	args := pgx.NamedArgs{
		"self":            self.ParticipantID,
		"language":        self.Language,
		"age":             self.Age,
		"age_window":      self.AgeWindow,
		"gender":          string(self.Gender),
		"desired_gender":  string(self.DesiredGender),
		"vibe":            self.Vibe,
		"require_adult":   self.RequireAdult,
		"adult_access":    self.AdultAccess,
		"premium":         self.Premium,
		"premium_only":    self.PremiumOnly,
		"min_overlap":     q.MinInterestOverlap,
		"interests":       nonNil(self.Interests),
		"cooldown_cutoff": q.Now.Add(-q.Cooldown),
	}
	if q.Bound > 0 {
		query += ` LIMIT @bound`
		args["bound"] = q.Bound
	}

	rows, err := s.pool.Query(ctx, query, args)
	if err != nil {
		return nil, classify("scan", err)
	}
	entries, err := collectEntries(rows)
	if err != nil {
		return nil, classify("scan", err)
	}
	return entries, nil
}

func (s *Store) Claim(ctx context.Context, req storage.ClaimRequest) (*models.Session, error) {
	err := s.inTx(ctx, "claim", func(tx pgx.Tx) error {
		first, second := req.Self, req.Partner
		if second < first {
			first, second = second, first
		}
		for _, id := range []string{first, second} {
			ok, err := tryLockParticipant(ctx, tx, id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s is being claimed", models.ErrRaceLost, id)
			}
		}

		rows, err := tx.Query(ctx, `SELECT participant_id, seq FROM queue
			WHERE participant_id = ANY($1) FOR UPDATE SKIP LOCKED`, []string{req.Self, req.Partner})
		if err != nil {
			return err
		}
		seqs := make(map[string]uint64, 2)
		for rows.Next() {
			var id string
			var seq int64
			if err := rows.Scan(&id, &seq); err != nil {
				rows.Close()
				return err
			}
			seqs[id] = uint64(seq)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		selfSeq, ok := seqs[req.Self]
		if !ok {
			return models.ErrNotWaiting
		}
		if selfSeq != req.SelfSeq {
			return fmt.Errorf("%w: %s was re-enqueued", models.ErrRaceLost, req.Self)
		}
		if seq, ok := seqs[req.Partner]; !ok || seq != req.PartnerSeq {
			return fmt.Errorf("%w: %s is no longer available", models.ErrRaceLost, req.Partner)
		}
		for _, id := range []string{req.Self, req.Partner} {
			busy, err := hasOpenSession(ctx, tx, id)
			if err != nil {
				return err
			}
			if busy {
				return fmt.Errorf("%w: %s already in session", models.ErrRaceLost, id)
			}
		}

		key := models.NewPairKey(req.Self, req.Partner)
		matchedAt, found, err := queryRematch(ctx, tx, key)
		if err != nil {
			return err
		}
		if found && (models.RematchRecord{Pair: key, MatchedAt: matchedAt}).Recent(req.Cooldown, req.Now) {
			return models.ErrRecentlyPaired
		}

		if _, err := tx.Exec(ctx, `DELETE FROM queue WHERE participant_id = ANY($1)`,
			[]string{req.Self, req.Partner}); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO sessions (id, participant_a, participant_b, started_at)
			VALUES ($1, $2, $3, $4)`, req.SessionID, req.Self, req.Partner, req.Now); err != nil {
			return err
		}
		return upsertRematch(ctx, tx, key, req.Now)
	})
	if err != nil {
		return nil, err
	}
	return &models.Session{
		ID:           req.SessionID,
		ParticipantA: req.Self,
		ParticipantB: req.Partner,
		StartedAt:    req.Now,
	}, nil
}

func (s *Store) EndSession(ctx context.Context, participantID string, at time.Time) (*models.Session, error) {
	var session *models.Session
	err := s.inTx(ctx, "end session", func(tx pgx.Tx) error {
		if err := lockParticipant(ctx, tx, participantID); err != nil {
			return err
		}
		var err error
		session, err = openSession(ctx, tx, participantID)
		if err != nil || session == nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE sessions SET ended_at = $1 WHERE id = $2`, at, session.ID); err != nil {
			return err
		}
		return upsertRematch(ctx, tx, models.NewPairKey(session.ParticipantA, session.ParticipantB), at)
	})
	if err != nil || session == nil {
		return nil, err
	}
	ended := at
	session.EndedAt = &ended
	return session, nil
}

func (s *Store) ActiveSession(ctx context.Context, participantID string) (*models.Session, error) {
	session, err := openSession(ctx, s.pool, participantID)
	if err != nil {
		return nil, classify("active session", err)
	}
	return session, nil
}

func (s *Store) RecordRematch(ctx context.Context, a, b string, at time.Time) error {
	return classify("record rematch", upsertRematch(ctx, s.pool, models.NewPairKey(a, b), at))
}

func (s *Store) IsRecent(ctx context.Context, a, b string, window time.Duration, now time.Time) (bool, error) {
	key := models.NewPairKey(a, b)
	matchedAt, found, err := queryRematch(ctx, s.pool, key)
	if err != nil {
		return false, classify("is recent", err)
	}
	return found && models.RematchRecord{Pair: key, MatchedAt: matchedAt}.Recent(window, now), nil
}

func (s *Store) EvictStale(ctx context.Context, enqueuedBefore time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `DELETE FROM queue WHERE enqueued_at < $1 RETURNING participant_id`, enqueuedBefore)
	if err != nil {
		return nil, classify("evict", err)
	}
	evicted, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, classify("evict", err)
	}
	return evicted, nil
}

func (s *Store) PruneRematch(ctx context.Context, matchedBefore time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rematch WHERE matched_at < $1`, matchedBefore)
	if err != nil {
		return 0, classify("prune rematch", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) Stats(ctx context.Context) (storage.Stats, error) {
	var stats storage.Stats
	err := s.pool.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM queue), (SELECT COUNT(*) FROM sessions WHERE ended_at IS NULL)`,
	).Scan(&stats.Waiting, &stats.OpenSessions)
	if err != nil {
		return storage.Stats{}, classify("stats", err)
	}
	return stats, nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func collectEntries(rows pgx.Rows) ([]*models.Snapshot, error) {
	defer rows.Close()
	var entries []*models.Snapshot
	for rows.Next() {
		var (
			entry          models.Snapshot
			seq            int64
			gender, wanted string
		)
		if err := rows.Scan(&seq, &entry.ParticipantID, &entry.Language, &entry.Age, &gender, &wanted,
			&entry.AgeWindow, &entry.Vibe, &entry.Interests, &entry.Premium, &entry.AdultAccess,
			&entry.RequireAdult, &entry.EnqueuedAt, &entry.PremiumOnly); err != nil {
			return nil, err
		}
		entry.Seq = uint64(seq)
		entry.Gender = models.Gender(gender)
		entry.DesiredGender = models.Gender(wanted)
		entry.EnqueuedAt = entry.EnqueuedAt.UTC()
		if len(entry.Interests) == 0 {
			entry.Interests = nil
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

func hasOpenSession(ctx context.Context, q querier, participantID string) (bool, error) {
	session, err := openSession(ctx, q, participantID)
	return session != nil, err
}

func openSession(ctx context.Context, q querier, participantID string) (*models.Session, error) {
	var session models.Session
	err := q.QueryRow(ctx, `SELECT id, participant_a, participant_b, started_at FROM sessions
		WHERE ended_at IS NULL AND (participant_a = $1 OR participant_b = $1) LIMIT 1`, participantID).
		Scan(&session.ID, &session.ParticipantA, &session.ParticipantB, &session.StartedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	session.StartedAt = session.StartedAt.UTC()
	return &session, nil
}

func queryRematch(ctx context.Context, q querier, key models.PairKey) (time.Time, bool, error) {
	var matchedAt time.Time
	err := q.QueryRow(ctx, `SELECT matched_at FROM rematch WHERE pair_a = $1 AND pair_b = $2`, key.A, key.B).
		Scan(&matchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return matchedAt.UTC(), true, nil
}

func upsertRematch(ctx context.Context, q querier, key models.PairKey, at time.Time) error {
	_, err := q.Exec(ctx, `INSERT INTO rematch (pair_a, pair_b, matched_at) VALUES ($1, $2, $3)
		ON CONFLICT (pair_a, pair_b) DO UPDATE SET matched_at = EXCLUDED.matched_at`, key.A, key.B, at)
	return err
}

// classify maps driver failures onto the domain error taxonomy. Domain sentinels pass
// through untouched.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, domain := range []error{models.ErrNotWaiting, models.ErrInSession, models.ErrRaceLost,
		models.ErrRecentlyPaired, models.ErrProfileNotFound, models.ErrTransientStore} {
		if errors.Is(err, domain) {
			return err
		}
	}
	if isTransient(err) {
		return fmt.Errorf("%w: postgres %s: %v", models.ErrTransientStore, op, err)
	}
	return fmt.Errorf("postgres %s: %w", op, err)
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"), // connection exception
			strings.HasPrefix(pgErr.Code, "40"), // serialization failure, deadlock
			pgErr.Code == "55P03",               // lock not available
			pgErr.Code == "57P01":               // admin shutdown
			return true
		}
		return false
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
