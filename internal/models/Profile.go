package models

import "time"

// Profile is the stored participant record the default snapshot is derived from.
// Adult access is a time-bounded grant (paid pass or trial) rather than a flag.
type Profile struct {
	ParticipantID string     `json:"participant_id"`
	Language      string     `json:"language"`
	Age           int        `json:"age"`
	Gender        Gender     `json:"gender"`
	DesiredGender Gender     `json:"desired_gender"`
	AgeWindow     int        `json:"age_window"`
	Vibe          string     `json:"vibe,omitempty"`
	Interests     []string   `json:"interests,omitempty"`
	Premium       bool       `json:"premium"`
	PremiumOnly   bool       `json:"premium_only,omitempty"`
	AdultUntil    *time.Time `json:"adult_until,omitempty"`
}

func (p *Profile) AdultAccessAt(now time.Time) bool {
	return p.AdultUntil != nil && p.AdultUntil.After(now)
}

// Snapshot captures the matching attributes as of now. The result is normalized.
// A premium-only preference left over from a lapsed premium is dropped.
func (p *Profile) Snapshot(now time.Time) *Snapshot {
	s := &Snapshot{
		ParticipantID: p.ParticipantID,
		Language:      p.Language,
		Age:           p.Age,
		Gender:        p.Gender,
		DesiredGender: p.DesiredGender,
		AgeWindow:     p.AgeWindow,
		Vibe:          p.Vibe,
		Premium:       p.Premium,
		PremiumOnly:   p.PremiumOnly && p.Premium,
		AdultAccess:   p.AdultAccessAt(now),
	}
	if p.Interests != nil {
		s.Interests = append([]string(nil), p.Interests...)
	}
	s.Normalize()
	return s
}
