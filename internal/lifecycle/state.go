// Package lifecycle drives the per-drive index state machine. Builds
// walk a drive and publish an immutable store generation through a
// single atomic pointer swap; searches keep reading the prior
// generation until the swap lands, and a failed rebuild never touches
// what was already published.
package lifecycle

import (
	"time"

	seekerrors "github.com/driveseek/driveseek/internal/errors"
)

// State is one position in the per-drive machine.
type State string

const (
	// StateNotBuilt means no generation was ever published.
	StateNotBuilt State = "not_built"
	// StateBuilding means a walk is in flight.
	StateBuilding State = "building"
	// StateReady means a generation is published and searchable.
	StateReady State = "ready"
	// StateFailed means the last build failed. A previously published
	// generation, if any, stays searchable.
	StateFailed State = "failed"
)

// validNext enumerates the legal transitions: NotBuilt->Building,
// Building->{Ready,Failed}, and Building again from Ready (forced
// rebuild) or Failed (retry).
func validNext(from, to State) bool {
	switch from {
	case StateNotBuilt:
		return to == StateBuilding
	case StateBuilding:
		return to == StateReady || to == StateFailed
	case StateReady, StateFailed:
		return to == StateBuilding
	}
	return false
}

// transitionError reports an illegal state change. Reaching this is a
// bug in the manager, not a caller mistake.
func transitionError(drive string, from, to State) error {
	return seekerrors.New(seekerrors.ErrCodeInvalidTransition,
		"illegal index state transition", nil).
		WithDetail("drive", drive).
		WithDetail("from", string(from)).
		WithDetail("to", string(to))
}

// Status describes one drive as seen from outside the machine.
type Status struct {
	Drive      string            `json:"drive"`
	State      State             `json:"state"`
	Generation uint64            `json:"generation,omitempty"`
	Count      int               `json:"count,omitempty"`
	BuiltAt    time.Time         `json:"built_at"`
	Failure    string            `json:"failure,omitempty"`
	Progress   *ProgressSnapshot `json:"progress,omitempty"`
}
