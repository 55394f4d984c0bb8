package matching

import (
	"fmt"
	"sort"

	"freshanon/internal/models"
)

// Policy decides in which order eligible candidates are claimed.
type Policy string

const (
	// PolicyFirst keeps the store's priority order: premium first, then oldest.
	PolicyFirst Policy = "first"
	// PolicyOverlap prefers the candidate sharing the most interests; a shared vibe
	// adds half a point. Ties keep priority order.
	PolicyOverlap Policy = "overlap"
)

func ParsePolicy(raw string) (Policy, error) {
	switch Policy(raw) {
	case PolicyFirst, "":
		return PolicyFirst, nil
	case PolicyOverlap:
		return PolicyOverlap, nil
	default:
		return "", fmt.Errorf("unknown selection policy %q", raw)
	}
}

// Order returns eligible in claim order. The input must already be in priority order
// and is not modified.
func (p Policy) Order(self *models.Snapshot, eligible []*models.Snapshot) []*models.Snapshot {
	ordered := append([]*models.Snapshot(nil), eligible...)
	if p != PolicyOverlap {
		return ordered
	}
	scores := make(map[string]float64, len(ordered))
	for _, c := range ordered {
		scores[c.ParticipantID] = Score(self, c)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return scores[ordered[i].ParticipantID] > scores[ordered[j].ParticipantID]
	})
	return ordered
}

func Score(self, candidate *models.Snapshot) float64 {
	score := float64(self.InterestOverlap(candidate))
	if self.Vibe != "" && self.Vibe == candidate.Vibe {
		score += 0.5
	}
	return score
}
