package models

import (
	"strings"
	"time"
)

type Session struct {
	ID           string     `json:"id"`
	ParticipantA string     `json:"participant_a"`
	ParticipantB string     `json:"participant_b"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

func (s *Session) Open() bool {
	return s.EndedAt == nil
}

func (s *Session) Has(participantID string) bool {
	return s.ParticipantA == participantID || s.ParticipantB == participantID
}

// PartnerOf returns the other side of the session, or "" if participantID is not in it.
func (s *Session) PartnerOf(participantID string) string {
	switch participantID {
	case s.ParticipantA:
		return s.ParticipantB
	case s.ParticipantB:
		return s.ParticipantA
	default:
		return ""
	}
}

// PairKey identifies an unordered pair of participants; A <= B always holds.
type PairKey struct {
	A string `json:"a"`
	B string `json:"b"`
}

func NewPairKey(x, y string) PairKey {
	if y < x {
		x, y = y, x
	}
	return PairKey{A: x, B: y}
}

func (k PairKey) String() string {
	return k.A + "|" + k.B
}

func ParsePairKey(raw string) (PairKey, bool) {
	a, b, ok := strings.Cut(raw, "|")
	if !ok || a == "" || b == "" {
		return PairKey{}, false
	}
	return NewPairKey(a, b), true
}

type RematchRecord struct {
	Pair      PairKey   `json:"pair"`
	MatchedAt time.Time `json:"matched_at"`
}

// Recent reports whether the record still blocks re-pairing at now.
func (r RematchRecord) Recent(window time.Duration, now time.Time) bool {
	return now.Sub(r.MatchedAt) < window
}
