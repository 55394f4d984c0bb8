package models

// StoreDumpVersion is bumped whenever the on-disk layout of StoreDump changes.
const StoreDumpVersion = 1

// StoreDump is the persistence envelope of the in-memory store.
// Sessions carries open sessions only; closed ones are history and are not restored.
type StoreDump struct {
	Version  int             `json:"version"`
	Seq      uint64          `json:"seq"`
	Waiting  []*Snapshot     `json:"waiting"`
	Sessions []*Session      `json:"sessions"`
	Rematch  []RematchRecord `json:"rematch"`
}
