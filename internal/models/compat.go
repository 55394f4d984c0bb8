package models

// Compatible reports whether a and b may be paired. Every check is symmetric, so
// Compatible(a, b) == Compatible(b, a). minInterestOverlap > 0 requires that many
// shared interests. The rematch cooldown is not checked here.
//
// The SQL backends mirror these predicates in their candidate scans; keep them in sync.
func Compatible(a, b *Snapshot, minInterestOverlap int) bool {
	if a.ParticipantID == b.ParticipantID {
		return false
	}
	return a.Language == b.Language &&
		genderAccepts(a, b) && genderAccepts(b, a) &&
		ageAccepts(a, b) && ageAccepts(b, a) &&
		vibeMatches(a, b) &&
		adultAccepts(a, b) && adultAccepts(b, a) &&
		premiumAccepts(a, b) && premiumAccepts(b, a) &&
		interestsMatch(a, b, minInterestOverlap)
}

// genderAccepts: a participant with an unknown gender only satisfies "any".
func genderAccepts(seeker, other *Snapshot) bool {
	if seeker.DesiredGender == GenderAny || seeker.DesiredGender == "" {
		return true
	}
	return other.Gender == seeker.DesiredGender
}

// ageAccepts reports whether other's age lies in [seeker.Age-window, seeker.Age+window].
func ageAccepts(seeker, other *Snapshot) bool {
	diff := seeker.Age - other.Age
	if diff < 0 {
		diff = -diff
	}
	return diff <= seeker.AgeWindow
}

func vibeMatches(a, b *Snapshot) bool {
	return a.Vibe == "" || b.Vibe == "" || a.Vibe == b.Vibe
}

func adultAccepts(seeker, other *Snapshot) bool {
	if !seeker.RequireAdult {
		return true
	}
	return seeker.AdultAccess && other.AdultAccess
}

func premiumAccepts(seeker, other *Snapshot) bool {
	return !seeker.PremiumOnly || other.Premium
}

func interestsMatch(a, b *Snapshot, minOverlap int) bool {
	if minOverlap <= 0 {
		return true
	}
	return a.InterestOverlap(b) >= minOverlap
}
