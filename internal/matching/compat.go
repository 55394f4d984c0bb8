package matching

import "freshanon/internal/models"

// Rules are the configurable hard filters applied on top of the fixed ones.
type Rules struct {
	// MinInterestOverlap > 0 requires that many shared interests.
	MinInterestOverlap int
}

// Compatible reports whether a and b may be paired under rules. See models.Compatible.
func Compatible(a, b *models.Snapshot, rules Rules) bool {
	return models.Compatible(a, b, rules.MinInterestOverlap)
}

// Eligible keeps the candidates compatible with self, preserving their order.
func Eligible(self *models.Snapshot, candidates []*models.Snapshot, rules Rules) []*models.Snapshot {
	eligible := make([]*models.Snapshot, 0, len(candidates))
	for _, c := range candidates {
		if Compatible(self, c, rules) {
			eligible = append(eligible, c)
		}
	}
	return eligible
}
