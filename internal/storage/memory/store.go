// Package memory is the in-process storage backend. Every mutation runs under one
// mutex, which makes Claim trivially atomic; durability comes from periodic dumps.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"freshanon/internal/models"
	"freshanon/internal/storage"
)

type Store struct {
	mu       sync.RWMutex
	seq      uint64
	waiting  map[string]*models.Snapshot
	sessions map[string]*models.Session // open sessions by id
	active   map[string]string          // participant id -> open session id
	rematch  map[models.PairKey]time.Time
}

func NewStore() *Store {
	return &Store{
		waiting:  make(map[string]*models.Snapshot),
		sessions: make(map[string]*models.Session),
		active:   make(map[string]string),
		rematch:  make(map[models.PairKey]time.Time),
	}
}

var _ storage.Store = (*Store)(nil)
var _ storage.Dumper = (*Store)(nil)

func (s *Store) Enqueue(_ context.Context, snap *models.Snapshot, at time.Time) (*models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.active[snap.ParticipantID]; ok {
		return nil, models.ErrInSession
	}
	s.seq++
	entry := snap.Clone()
	entry.EnqueuedAt = at
	entry.Seq = s.seq
	s.waiting[entry.ParticipantID] = entry
	return entry.Clone(), nil
}

func (s *Store) Dequeue(_ context.Context, participantID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.waiting[participantID]; !ok {
		return false, nil
	}
	delete(s.waiting, participantID)
	return true, nil
}

func (s *Store) Waiting(_ context.Context, participantID string) (*models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.waiting[participantID]
	if !ok {
		return nil, models.ErrNotWaiting
	}
	return entry.Clone(), nil
}

func (s *Store) ScanCandidates(_ context.Context, q storage.CandidateQuery) ([]*models.Snapshot, error) {
	s.mu.RLock()
	entries := make([]*models.Snapshot, 0, len(s.waiting))
	for id, entry := range s.waiting {
		if id == q.Self.ParticipantID || !models.Compatible(q.Self, entry, q.MinInterestOverlap) {
			continue
		}
		key := models.NewPairKey(id, q.Self.ParticipantID)
		if at, ok := s.rematch[key]; ok && (models.RematchRecord{Pair: key, MatchedAt: at}).Recent(q.Cooldown, q.Now) {
			continue
		}
		entries = append(entries, entry)
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return storage.CandidateLess(entries[i], entries[j], q.PremiumFirst)
	})
	if q.Bound > 0 && len(entries) > q.Bound {
		entries = entries[:q.Bound]
	}

	result := make([]*models.Snapshot, len(entries))
	for i, entry := range entries {
		result[i] = entry.Clone()
	}
	return result, nil
}

func (s *Store) Claim(_ context.Context, req storage.ClaimRequest) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	self, ok := s.waiting[req.Self]
	if !ok {
		return nil, models.ErrNotWaiting
	}
	if self.Seq != req.SelfSeq {
		return nil, fmt.Errorf("%w: %s was re-enqueued", models.ErrRaceLost, req.Self)
	}
	partner, ok := s.waiting[req.Partner]
	if !ok || partner.Seq != req.PartnerSeq {
		return nil, fmt.Errorf("%w: %s is no longer available", models.ErrRaceLost, req.Partner)
	}
	if _, busy := s.active[req.Self]; busy {
		return nil, fmt.Errorf("%w: %s already in session", models.ErrRaceLost, req.Self)
	}
	if _, busy := s.active[req.Partner]; busy {
		return nil, fmt.Errorf("%w: %s already in session", models.ErrRaceLost, req.Partner)
	}

	key := models.NewPairKey(req.Self, req.Partner)
	if at, ok := s.rematch[key]; ok && (models.RematchRecord{Pair: key, MatchedAt: at}).Recent(req.Cooldown, req.Now) {
		return nil, models.ErrRecentlyPaired
	}

	delete(s.waiting, req.Self)
	delete(s.waiting, req.Partner)

	session := &models.Session{
		ID:           req.SessionID,
		ParticipantA: req.Self,
		ParticipantB: req.Partner,
		StartedAt:    req.Now,
	}
	s.sessions[session.ID] = session
	s.active[req.Self] = session.ID
	s.active[req.Partner] = session.ID
	s.rematch[key] = req.Now

	copied := *session
	return &copied, nil
}

func (s *Store) EndSession(_ context.Context, participantID string, at time.Time) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.active[participantID]
	if !ok {
		return nil, nil
	}
	session := s.sessions[id]
	delete(s.sessions, id)
	delete(s.active, session.ParticipantA)
	delete(s.active, session.ParticipantB)

	ended := at
	session.EndedAt = &ended
	s.rematch[models.NewPairKey(session.ParticipantA, session.ParticipantB)] = at

	copied := *session
	return &copied, nil
}

func (s *Store) ActiveSession(_ context.Context, participantID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.active[participantID]
	if !ok {
		return nil, nil
	}
	copied := *s.sessions[id]
	return &copied, nil
}

func (s *Store) RecordRematch(_ context.Context, a, b string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rematch[models.NewPairKey(a, b)] = at
	return nil
}

func (s *Store) IsRecent(_ context.Context, a, b string, window time.Duration, now time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := models.NewPairKey(a, b)
	at, ok := s.rematch[key]
	if !ok {
		return false, nil
	}
	return models.RematchRecord{Pair: key, MatchedAt: at}.Recent(window, now), nil
}

func (s *Store) EvictStale(_ context.Context, enqueuedBefore time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var evicted []string
	for id, entry := range s.waiting {
		if entry.EnqueuedAt.Before(enqueuedBefore) {
			delete(s.waiting, id)
			evicted = append(evicted, id)
		}
	}
	sort.Strings(evicted)
	return evicted, nil
}

func (s *Store) PruneRematch(_ context.Context, matchedBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, at := range s.rematch {
		if at.Before(matchedBefore) {
			delete(s.rematch, key)
			n++
		}
	}
	return n, nil
}

func (s *Store) Stats(_ context.Context) (storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return storage.Stats{Waiting: len(s.waiting), OpenSessions: len(s.sessions)}, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) Dump() *models.StoreDump {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dump := &models.StoreDump{
		Version:  models.StoreDumpVersion,
		Seq:      s.seq,
		Waiting:  make([]*models.Snapshot, 0, len(s.waiting)),
		Sessions: make([]*models.Session, 0, len(s.sessions)),
		Rematch:  make([]models.RematchRecord, 0, len(s.rematch)),
	}
	for _, entry := range s.waiting {
		dump.Waiting = append(dump.Waiting, entry.Clone())
	}
	for _, session := range s.sessions {
		copied := *session
		dump.Sessions = append(dump.Sessions, &copied)
	}
	for key, at := range s.rematch {
		dump.Rematch = append(dump.Rematch, models.RematchRecord{Pair: key, MatchedAt: at})
	}
	sort.Slice(dump.Waiting, func(i, j int) bool { return dump.Waiting[i].Seq < dump.Waiting[j].Seq })
	sort.Slice(dump.Sessions, func(i, j int) bool { return dump.Sessions[i].ID < dump.Sessions[j].ID })
	sort.Slice(dump.Rematch, func(i, j int) bool { return dump.Rematch[i].Pair.String() < dump.Rematch[j].Pair.String() })
	return dump
}

// Load replaces the whole state. Entries breaking the store invariants are dropped:
// a second open session for a participant, and pool entries of participants in session.
func (s *Store) Load(dump *models.StoreDump) error {
	if dump == nil {
		return nil
	}
	if dump.Version != models.StoreDumpVersion {
		return fmt.Errorf("unsupported store dump version %d", dump.Version)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq = dump.Seq
	s.waiting = make(map[string]*models.Snapshot, len(dump.Waiting))
	s.sessions = make(map[string]*models.Session, len(dump.Sessions))
	s.active = make(map[string]string, 2*len(dump.Sessions))
	s.rematch = make(map[models.PairKey]time.Time, len(dump.Rematch))

	for _, session := range dump.Sessions {
		if session == nil || !session.Open() {
			continue
		}
		if _, dup := s.active[session.ParticipantA]; dup {
			continue
		}
		if _, dup := s.active[session.ParticipantB]; dup {
			continue
		}
		copied := *session
		s.sessions[copied.ID] = &copied
		s.active[copied.ParticipantA] = copied.ID
		s.active[copied.ParticipantB] = copied.ID
	}
	for _, entry := range dump.Waiting {
		if entry == nil {
			continue
		}
		// dropped entries still count: their Seq was handed out
		if entry.Seq > s.seq {
			s.seq = entry.Seq
		}
		if _, busy := s.active[entry.ParticipantID]; busy {
			continue
		}
		s.waiting[entry.ParticipantID] = entry.Clone()
	}
	for _, rec := range dump.Rematch {
		s.rematch[models.NewPairKey(rec.Pair.A, rec.Pair.B)] = rec.MatchedAt
	}
	return nil
}
