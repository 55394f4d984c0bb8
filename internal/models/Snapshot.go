package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	MinAge = 13
	MaxAge = 100
)

type Gender string

const (
	GenderAny    Gender = "any"
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// ParseGender accepts the short forms used by the front-end ("m", "f").
func ParseGender(raw string) Gender {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "m", "male", "boy":
		return GenderMale
	case "f", "female", "girl":
		return GenderFemale
	case "", "any", "*":
		return GenderAny
	default:
		return Gender(strings.ToLower(strings.TrimSpace(raw)))
	}
}

// Snapshot holds the matching attributes of a participant captured at enqueue time.
type Snapshot struct {
	ParticipantID string    `json:"participant_id"`
	Language      string    `json:"language"`
	Age           int       `json:"age"`
	Gender        Gender    `json:"gender"`
	DesiredGender Gender    `json:"desired_gender"`
	AgeWindow     int       `json:"age_window"`
	Vibe          string    `json:"vibe,omitempty"`
	Interests     []string  `json:"interests,omitempty"`
	Premium       bool      `json:"premium"`
	PremiumOnly   bool      `json:"premium_only"`
	AdultAccess   bool      `json:"adult_access"`
	RequireAdult  bool      `json:"require_adult"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
	Seq           uint64    `json:"seq"`
}

// Normalize lower-cases the comparable fields and turns Interests into a sorted set.
// An unknown gender is stored as empty, an empty desired gender as "any".
func (s *Snapshot) Normalize() {
	s.ParticipantID = strings.TrimSpace(s.ParticipantID)
	s.Language = strings.ToLower(strings.TrimSpace(s.Language))
	s.Vibe = strings.ToLower(strings.TrimSpace(s.Vibe))

	s.Gender = ParseGender(string(s.Gender))
	if s.Gender == GenderAny {
		s.Gender = ""
	}
	s.DesiredGender = ParseGender(string(s.DesiredGender))

	if len(s.Interests) == 0 {
		s.Interests = nil
		return
	}
	seen := make(map[string]struct{}, len(s.Interests))
	interests := make([]string, 0, len(s.Interests))
	for _, v := range s.Interests {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		interests = append(interests, v)
	}
	sort.Strings(interests)
	if len(interests) == 0 {
		interests = nil
	}
	s.Interests = interests
}

// Validate expects a normalized snapshot.
func (s *Snapshot) Validate() error {
	if s.ParticipantID == "" {
		return fmt.Errorf("%w: participant id is required", ErrValidation)
	}
	if s.Language == "" {
		return fmt.Errorf("%w: language is required", ErrValidation)
	}
	if s.Age < MinAge || s.Age > MaxAge {
		return fmt.Errorf("%w: age %d is outside [%d, %d]", ErrValidation, s.Age, MinAge, MaxAge)
	}
	if s.AgeWindow < 0 {
		return fmt.Errorf("%w: age window must not be negative", ErrValidation)
	}
	switch s.Gender {
	case "", GenderMale, GenderFemale:
	default:
		return fmt.Errorf("%w: unknown gender %q", ErrValidation, s.Gender)
	}
	switch s.DesiredGender {
	case GenderAny, GenderMale, GenderFemale:
	default:
		return fmt.Errorf("%w: unknown desired gender %q", ErrValidation, s.DesiredGender)
	}
	if s.PremiumOnly && !s.Premium {
		return fmt.Errorf("%w: premium-only pairing requires premium", ErrValidation)
	}
	if s.RequireAdult && !s.AdultAccess {
		return fmt.Errorf("%w: adult-gated search requires active adult access", ErrValidation)
	}
	return nil
}

// Clone returns a deep copy so stores never share the Interests slice with callers.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	if s.Interests != nil {
		c.Interests = append([]string(nil), s.Interests...)
	}
	return &c
}

// InterestOverlap counts shared interests of two normalized snapshots.
func (s *Snapshot) InterestOverlap(other *Snapshot) int {
	i, j, n := 0, 0, 0
	for i < len(s.Interests) && j < len(other.Interests) {
		switch {
		case s.Interests[i] == other.Interests[j]:
			n++
			i++
			j++
		case s.Interests[i] < other.Interests[j]:
			i++
		default:
			j++
		}
	}
	return n
}
