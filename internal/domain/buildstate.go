package domain

import (
	"strconv"
	"time"
)

// BuildState is the single persisted record describing the last triggered build.
type BuildState struct {
	LastHash    string
	Version     int64
	LastBuildAt time.Time // zero until the first build
	UpdatedAt   time.Time
}

// BuildVersion returns the version as carried on the wire.
func (s BuildState) BuildVersion() string {
	return strconv.FormatInt(s.Version, 10)
}
