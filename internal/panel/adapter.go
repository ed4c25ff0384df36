package panel

import (
	"fmt"

	"shuttle-service/internal/types"
)

// UnknownStatusError is returned when a legacy trip status string is not
// part of the known vocabulary. Callers pick their own fallback (usually
// offline) instead of crashing.
type UnknownStatusError struct {
	Status string
}

func (e *UnknownStatusError) Error() string {
	return fmt.Sprintf("unknown legacy trip status: %q", e.Status)
}

var legacyStatuses = map[string]types.RaceState{
	"PrepIdle":   types.RaceOffline,
	"PrepTimer":  types.RaceWaitingStart,
	"Boarding":   types.RaceBoarding,
	"RouteReady": types.RaceArrivedStop,
	"InRoute":    types.RaceInTransit,
	"Finished":   types.RaceFinished,
}

// FromLegacyStatus converts the old trip-status vocabulary still emitted by
// some producers into the canonical lifecycle state.
func FromLegacyStatus(status string) (types.RaceState, error) {
	state, ok := legacyStatuses[status]
	if !ok {
		return types.RaceOffline, &UnknownStatusError{Status: status}
	}
	return state, nil
}
