// Package sqlite is the embedded durable storage backend built on zombiezen.com/go/sqlite.
// Writers are serialised by IMMEDIATE transactions, so every check-then-act sequence
// (enqueue, claim, end) runs against a consistent view.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"freshanon/internal/models"
	"freshanon/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS queue (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	participant_id TEXT    NOT NULL UNIQUE,
	language       TEXT    NOT NULL,
	age            INTEGER NOT NULL,
	gender         TEXT    NOT NULL,
	desired_gender TEXT    NOT NULL,
	age_window     INTEGER NOT NULL,
	vibe           TEXT    NOT NULL,
	interests      TEXT    NOT NULL,
	premium        INTEGER NOT NULL,
	premium_only   INTEGER NOT NULL DEFAULT 0,
	adult_access   INTEGER NOT NULL,
	require_adult  INTEGER NOT NULL,
	enqueued_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS queue_priority ON queue (premium DESC, enqueued_at, seq);
CREATE INDEX IF NOT EXISTS queue_fifo ON queue (enqueued_at, seq);

CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT    PRIMARY KEY,
	participant_a TEXT    NOT NULL,
	participant_b TEXT    NOT NULL,
	started_at    INTEGER NOT NULL,
	ended_at      INTEGER
);
CREATE INDEX IF NOT EXISTS sessions_open_a ON sessions (participant_a) WHERE ended_at IS NULL;
CREATE INDEX IF NOT EXISTS sessions_open_b ON sessions (participant_b) WHERE ended_at IS NULL;

CREATE TABLE IF NOT EXISTS rematch (
	pair_a     TEXT    NOT NULL,
	pair_b     TEXT    NOT NULL,
	matched_at INTEGER NOT NULL,
	PRIMARY KEY (pair_a, pair_b)
);

CREATE TABLE IF NOT EXISTS profiles (
	participant_id TEXT    PRIMARY KEY,
	language       TEXT    NOT NULL,
	age            INTEGER NOT NULL,
	gender         TEXT    NOT NULL,
	desired_gender TEXT    NOT NULL,
	age_window     INTEGER NOT NULL,
	vibe           TEXT    NOT NULL,
	interests      TEXT    NOT NULL,
	premium        INTEGER NOT NULL,
	premium_only   INTEGER NOT NULL DEFAULT 0,
	adult_until    INTEGER
);
`

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=OFF",
	"PRAGMA temp_store=MEMORY",
}

// addedColumns are applied to databases created before the column existed.
var addedColumns = []struct{ table, column, ddl string }{
	{"queue", "premium_only", "INTEGER NOT NULL DEFAULT 0"},
	{"profiles", "premium_only", "INTEGER NOT NULL DEFAULT 0"},
}

const queueColumns = `seq, participant_id, language, age, gender, desired_gender, age_window,
	vibe, interests, premium, adult_access, require_adult, enqueued_at, premium_only`

// candidateFilter mirrors models.Compatible plus the rematch cooldown.
const candidateFilter = `participant_id != :self
	AND language = :language
	AND abs(age - :age) <= :age_window
	AND abs(age - :age) <= age_window
	AND (:desired_gender IN ('any', '') OR gender = :desired_gender)
	AND (desired_gender IN ('any', '') OR desired_gender = :gender)
	AND (:vibe = '' OR vibe = '' OR vibe = :vibe)
	AND (:require_adult = 0 OR (:adult_access = 1 AND adult_access = 1))
	AND (require_adult = 0 OR (adult_access = 1 AND :adult_access = 1))
	AND (:premium_only = 0 OR premium = 1)
	AND (premium_only = 0 OR :premium = 1)
	AND (:min_overlap <= 0 OR (SELECT COUNT(*) FROM json_each(queue.interests)
		WHERE value IN (SELECT value FROM json_each(:interests))) >= :min_overlap)
	AND NOT EXISTS (SELECT 1 FROM rematch r
		WHERE ((r.pair_a = queue.participant_id AND r.pair_b = :self)
			OR (r.pair_a = :self AND r.pair_b = queue.participant_id))
		AND r.matched_at > :cooldown_cutoff)`

type Store struct {
	pool *sqlitex.Pool
	path string
}

var _ storage.Store = (*Store)(nil)

// Open creates the database file if needed and applies the schema.
// poolSize <= 0 falls back to 4.
func Open(path string, poolSize int) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite store: path is required")
	}
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: opening %s: %w", path, err)
	}

	s := &Store{pool: pool, path: path}
	if err := s.migrate(); err != nil {
		_ = pool.Close()
		return nil, err
	}
	return s, nil
}

func prepareConn(conn *sqlite.Conn) error {
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlite store: %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) migrate() error {
	conn, err := s.pool.Take(context.Background())
	if err != nil {
		return fmt.Errorf("sqlite store: migrate: %w", err)
	}
	defer s.pool.Put(conn)
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("sqlite store: applying schema: %w", err)
	}
	for _, c := range addedColumns {
		present := false
		err := sqlitex.Execute(conn, `SELECT 1 FROM pragma_table_info(?) WHERE name = ?`,
			&sqlitex.ExecOptions{
				Args: []any{c.table, c.column},
				ResultFunc: func(*sqlite.Stmt) error {
					present = true
					return nil
				},
			})
		if err != nil {
			return fmt.Errorf("sqlite store: inspecting %s: %w", c.table, err)
		}
		if present {
			continue
		}
		if err := sqlitex.ExecuteTransient(conn,
			`ALTER TABLE `+c.table+` ADD COLUMN `+c.column+` `+c.ddl, nil); err != nil {
			return fmt.Errorf("sqlite store: adding %s.%s: %w", c.table, c.column, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("sqlite store: closing %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) take(ctx context.Context, op string) (*sqlite.Conn, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: sqlite %s: %v", models.ErrTransientStore, op, err)
	}
	return conn, nil
}

func (s *Store) Enqueue(ctx context.Context, snap *models.Snapshot, at time.Time) (entry *models.Snapshot, err error) {
	conn, err := s.take(ctx, "enqueue")
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	interests, err := encodeInterests(snap.Interests)
	if err != nil {
		return nil, err
	}

	end, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, classify("enqueue", err)
	}
	defer end(&err)

	busy, err := hasOpenSession(conn, snap.ParticipantID)
	if err != nil {
		return nil, classify("enqueue", err)
	}
	if busy {
		return nil, models.ErrInSession
	}

	if err = sqlitex.Execute(conn, `DELETE FROM queue WHERE participant_id = ?`,
		&sqlitex.ExecOptions{Args: []any{snap.ParticipantID}}); err != nil {
		return nil, classify("enqueue", err)
	}
	err = sqlitex.Execute(conn, `INSERT INTO queue (participant_id, language, age, gender, desired_gender,
		age_window, vibe, interests, premium, adult_access, require_adult, enqueued_at, premium_only)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			snap.ParticipantID, snap.Language, snap.Age, string(snap.Gender), string(snap.DesiredGender),
			snap.AgeWindow, snap.Vibe, interests, boolInt(snap.Premium), boolInt(snap.AdultAccess),
			boolInt(snap.RequireAdult), at.UnixNano(), boolInt(snap.PremiumOnly),
		},
	})
	if err != nil {
		return nil, classify("enqueue", err)
	}

	entry = snap.Clone()
	entry.EnqueuedAt = at
	entry.Seq = uint64(conn.LastInsertRowID())
	return entry, nil
}

func (s *Store) Dequeue(ctx context.Context, participantID string) (bool, error) {
	conn, err := s.take(ctx, "dequeue")
	if err != nil {
		return false, err
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, `DELETE FROM queue WHERE participant_id = ?`,
		&sqlitex.ExecOptions{Args: []any{participantID}}); err != nil {
		return false, classify("dequeue", err)
	}
	return conn.Changes() > 0, nil
}

func (s *Store) Waiting(ctx context.Context, participantID string) (*models.Snapshot, error) {
	conn, err := s.take(ctx, "waiting")
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	entry, err := loadEntry(conn, participantID)
	if err != nil {
		return nil, classify("waiting", err)
	}
	if entry == nil {
		return nil, models.ErrNotWaiting
	}
	return entry, nil
}

func (s *Store) ScanCandidates(ctx context.Context, q storage.CandidateQuery) ([]*models.Snapshot, error) {
	conn, err := s.take(ctx, "scan")
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	self := q.Self
	interests, err := encodeInterests(self.Interests)
	if err != nil {
		return nil, err
	}
	order := "enqueued_at, seq"
	if q.PremiumFirst {
		order = "premium DESC, enqueued_at, seq"
	}
	limit := q.Bound
	if limit <= 0 {
		limit = -1
	}

	var entries []*models.Snapshot
	var decodeErr error
	err = sqlitex.Execute(conn,
		`SELECT `+queueColumns+` FROM queue WHERE `+candidateFilter+` ORDER BY `+order+` LIMIT :limit`,
		&sqlitex.ExecOptions{
			Named: map[string]any{
				":self":            self.ParticipantID,
				":language":        self.Language,
				":age":             self.Age,
				":age_window":      self.AgeWindow,
				":gender":          string(self.Gender),
				":desired_gender":  string(self.DesiredGender),
				":vibe":            self.Vibe,
				":require_adult":   boolInt(self.RequireAdult),
				":adult_access":    boolInt(self.AdultAccess),
				":premium":         boolInt(self.Premium),
				":premium_only":    boolInt(self.PremiumOnly),
				":min_overlap":     q.MinInterestOverlap,
				":interests":       interests,
				":cooldown_cutoff": q.Now.Add(-q.Cooldown).UnixNano(),
				":limit":           limit,
			},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				entry, err := scanEntry(stmt)
				if err != nil {
					decodeErr = err
					return err
				}
				entries = append(entries, entry)
				return nil
			},
		})
	if decodeErr != nil {
		return nil, decodeErr
	}
	if err != nil {
		return nil, classify("scan", err)
	}
	return entries, nil
}

func (s *Store) Claim(ctx context.Context, req storage.ClaimRequest) (session *models.Session, err error) {
	conn, err := s.take(ctx, "claim")
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	end, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, classify("claim", err)
	}
	defer end(&err)

	selfSeq, found, err := querySeq(conn, req.Self)
	if err != nil {
		return nil, classify("claim", err)
	}
	if !found {
		return nil, models.ErrNotWaiting
	}
	if selfSeq != req.SelfSeq {
		return nil, fmt.Errorf("%w: %s was re-enqueued", models.ErrRaceLost, req.Self)
	}
	partnerSeq, found, err := querySeq(conn, req.Partner)
	if err != nil {
		return nil, classify("claim", err)
	}
	if !found || partnerSeq != req.PartnerSeq {
		return nil, fmt.Errorf("%w: %s is no longer available", models.ErrRaceLost, req.Partner)
	}
	for _, id := range []string{req.Self, req.Partner} {
		busy, err := hasOpenSession(conn, id)
		if err != nil {
			return nil, classify("claim", err)
		}
		if busy {
			return nil, fmt.Errorf("%w: %s already in session", models.ErrRaceLost, id)
		}
	}

	key := models.NewPairKey(req.Self, req.Partner)
	matchedAt, found, err := queryRematch(conn, key)
	if err != nil {
		return nil, classify("claim", err)
	}
	if found && (models.RematchRecord{Pair: key, MatchedAt: matchedAt}).Recent(req.Cooldown, req.Now) {
		return nil, models.ErrRecentlyPaired
	}

	if err = sqlitex.Execute(conn, `DELETE FROM queue WHERE participant_id IN (?, ?)`,
		&sqlitex.ExecOptions{Args: []any{req.Self, req.Partner}}); err != nil {
		return nil, classify("claim", err)
	}
	if err = sqlitex.Execute(conn,
		`INSERT INTO sessions (id, participant_a, participant_b, started_at) VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{req.SessionID, req.Self, req.Partner, req.Now.UnixNano()}}); err != nil {
		return nil, classify("claim", err)
	}
	if err = upsertRematch(conn, key, req.Now); err != nil {
		return nil, classify("claim", err)
	}

	return &models.Session{
		ID:           req.SessionID,
		ParticipantA: req.Self,
		ParticipantB: req.Partner,
		StartedAt:    req.Now,
	}, nil
}

func (s *Store) EndSession(ctx context.Context, participantID string, at time.Time) (session *models.Session, err error) {
	conn, err := s.take(ctx, "end session")
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	end, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, classify("end session", err)
	}
	defer end(&err)

	session, err = openSession(conn, participantID)
	if err != nil || session == nil {
		return nil, classify("end session", err)
	}
	if err = sqlitex.Execute(conn, `UPDATE sessions SET ended_at = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{at.UnixNano(), session.ID}}); err != nil {
		return nil, classify("end session", err)
	}
	if err = upsertRematch(conn, models.NewPairKey(session.ParticipantA, session.ParticipantB), at); err != nil {
		return nil, classify("end session", err)
	}

	ended := at
	session.EndedAt = &ended
	return session, nil
}

func (s *Store) ActiveSession(ctx context.Context, participantID string) (*models.Session, error) {
	conn, err := s.take(ctx, "active session")
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	session, err := openSession(conn, participantID)
	if err != nil {
		return nil, classify("active session", err)
	}
	return session, nil
}

func (s *Store) RecordRematch(ctx context.Context, a, b string, at time.Time) error {
	conn, err := s.take(ctx, "record rematch")
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	return classify("record rematch", upsertRematch(conn, models.NewPairKey(a, b), at))
}

func (s *Store) IsRecent(ctx context.Context, a, b string, window time.Duration, now time.Time) (bool, error) {
	conn, err := s.take(ctx, "is recent")
	if err != nil {
		return false, err
	}
	defer s.pool.Put(conn)

	key := models.NewPairKey(a, b)
	matchedAt, found, err := queryRematch(conn, key)
	if err != nil {
		return false, classify("is recent", err)
	}
	return found && models.RematchRecord{Pair: key, MatchedAt: matchedAt}.Recent(window, now), nil
}

func (s *Store) EvictStale(ctx context.Context, enqueuedBefore time.Time) ([]string, error) {
	conn, err := s.take(ctx, "evict")
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var evicted []string
	err = sqlitex.Execute(conn, `DELETE FROM queue WHERE enqueued_at < ? RETURNING participant_id`,
		&sqlitex.ExecOptions{
			Args: []any{enqueuedBefore.UnixNano()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				evicted = append(evicted, stmt.ColumnText(0))
				return nil
			},
		})
	if err != nil {
		return nil, classify("evict", err)
	}
	return evicted, nil
}

func (s *Store) PruneRematch(ctx context.Context, matchedBefore time.Time) (int, error) {
	conn, err := s.take(ctx, "prune rematch")
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, `DELETE FROM rematch WHERE matched_at < ?`,
		&sqlitex.ExecOptions{Args: []any{matchedBefore.UnixNano()}}); err != nil {
		return 0, classify("prune rematch", err)
	}
	return conn.Changes(), nil
}

func (s *Store) Stats(ctx context.Context) (storage.Stats, error) {
	conn, err := s.take(ctx, "stats")
	if err != nil {
		return storage.Stats{}, err
	}
	defer s.pool.Put(conn)

	var stats storage.Stats
	err = sqlitex.Execute(conn,
		`SELECT (SELECT COUNT(*) FROM queue), (SELECT COUNT(*) FROM sessions WHERE ended_at IS NULL)`,
		&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
			stats.Waiting = stmt.ColumnInt(0)
			stats.OpenSessions = stmt.ColumnInt(1)
			return nil
		}})
	if err != nil {
		return storage.Stats{}, classify("stats", err)
	}
	return stats, nil
}

func loadEntry(conn *sqlite.Conn, participantID string) (*models.Snapshot, error) {
	var entry *models.Snapshot
	err := sqlitex.Execute(conn, `SELECT `+queueColumns+` FROM queue WHERE participant_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{participantID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var err error
				entry, err = scanEntry(stmt)
				return err
			},
		})
	return entry, err
}

func scanEntry(stmt *sqlite.Stmt) (*models.Snapshot, error) {
	interests, err := decodeInterests(stmt.ColumnText(8))
	if err != nil {
		return nil, err
	}
	return &models.Snapshot{
		Seq:           uint64(stmt.ColumnInt64(0)),
		ParticipantID: stmt.ColumnText(1),
		Language:      stmt.ColumnText(2),
		Age:           stmt.ColumnInt(3),
		Gender:        models.Gender(stmt.ColumnText(4)),
		DesiredGender: models.Gender(stmt.ColumnText(5)),
		AgeWindow:     stmt.ColumnInt(6),
		Vibe:          stmt.ColumnText(7),
		Interests:     interests,
		Premium:       stmt.ColumnInt64(9) != 0,
		AdultAccess:   stmt.ColumnInt64(10) != 0,
		RequireAdult:  stmt.ColumnInt64(11) != 0,
		EnqueuedAt:    time.Unix(0, stmt.ColumnInt64(12)).UTC(),
		PremiumOnly:   stmt.ColumnInt64(13) != 0,
	}, nil
}

func querySeq(conn *sqlite.Conn, participantID string) (uint64, bool, error) {
	var seq uint64
	found := false
	err := sqlitex.Execute(conn, `SELECT seq FROM queue WHERE participant_id = ?`, &sqlitex.ExecOptions{
		Args: []any{participantID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			seq = uint64(stmt.ColumnInt64(0))
			found = true
			return nil
		},
	})
	return seq, found, err
}

func hasOpenSession(conn *sqlite.Conn, participantID string) (bool, error) {
	session, err := openSession(conn, participantID)
	return session != nil, err
}

func openSession(conn *sqlite.Conn, participantID string) (*models.Session, error) {
	var session *models.Session
	err := sqlitex.Execute(conn, `SELECT id, participant_a, participant_b, started_at FROM sessions
		WHERE ended_at IS NULL AND (participant_a = ? OR participant_b = ?) LIMIT 1`,
		&sqlitex.ExecOptions{
			Args: []any{participantID, participantID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				session = &models.Session{
					ID:           stmt.ColumnText(0),
					ParticipantA: stmt.ColumnText(1),
					ParticipantB: stmt.ColumnText(2),
					StartedAt:    time.Unix(0, stmt.ColumnInt64(3)).UTC(),
				}
				return nil
			},
		})
	return session, err
}

func queryRematch(conn *sqlite.Conn, key models.PairKey) (time.Time, bool, error) {
	var matchedAt time.Time
	found := false
	err := sqlitex.Execute(conn, `SELECT matched_at FROM rematch WHERE pair_a = ? AND pair_b = ?`,
		&sqlitex.ExecOptions{
			Args: []any{key.A, key.B},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				matchedAt = time.Unix(0, stmt.ColumnInt64(0)).UTC()
				found = true
				return nil
			},
		})
	return matchedAt, found, err
}

func upsertRematch(conn *sqlite.Conn, key models.PairKey, at time.Time) error {
	return sqlitex.Execute(conn, `INSERT INTO rematch (pair_a, pair_b, matched_at) VALUES (?, ?, ?)
		ON CONFLICT (pair_a, pair_b) DO UPDATE SET matched_at = excluded.matched_at`,
		&sqlitex.ExecOptions{Args: []any{key.A, key.B, at.UnixNano()}})
}

// classify maps driver failures onto the domain error taxonomy. Busy and locked
// databases, interrupted statements and expired contexts are transient.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch sqlite.ErrCode(err).ToPrimary() {
	case sqlite.ResultBusy, sqlite.ResultLocked, sqlite.ResultInterrupt:
		return fmt.Errorf("%w: sqlite %s: %v", models.ErrTransientStore, op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: sqlite %s: %v", models.ErrTransientStore, op, err)
	}
	return fmt.Errorf("sqlite %s: %w", op, err)
}

func boolInt(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func encodeInterests(interests []string) (string, error) {
	if len(interests) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(interests)
	if err != nil {
		return "", fmt.Errorf("sqlite store: encoding interests: %w", err)
	}
	return string(data), nil
}

func decodeInterests(raw string) ([]string, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var interests []string
	if err := json.Unmarshal([]byte(raw), &interests); err != nil {
		return nil, fmt.Errorf("sqlite store: decoding interests: %w", err)
	}
	return interests, nil
}
