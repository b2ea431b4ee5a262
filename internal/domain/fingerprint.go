package domain

import "time"

// EmptyContentHash is the fingerprint of a content set with no publishable items.
const EmptyContentHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// Fingerprint summarizes the full publishable content set.
// Only Hash takes part in change detection.
type Fingerprint struct {
	Hash       string
	ItemCount  int
	Counts     map[string]int // by content type
	ComputedAt time.Time
}
