package panel

import (
	"fmt"

	"shuttle-service/internal/types"
)

// ButtonConfig describes the single primary action button for a lifecycle
// state. StopName is set by the caller for arrive-stop; the table cannot
// derive it from state alone.
type ButtonConfig struct {
	Label    string
	Action   types.TransitionAction
	Enabled  bool
	StopName string
}

// PanelVisibility describes which supporting panels are shown for a
// lifecycle state.
type PanelVisibility struct {
	MainButton  bool
	Queue       bool
	Reservation bool
	Cash        bool
}

var actionTable = map[types.RaceState]ButtonConfig{
	types.RaceOffline:      {Label: "Start shift", Action: types.ActionStartShift, Enabled: true},
	types.RaceWaitingStart: {Label: "Start trip", Action: types.ActionStartTrip, Enabled: true},
	types.RaceBoarding:     {Label: "Depart", Action: types.ActionDepartStop, Enabled: true},
	types.RaceInTransit:    {Label: "Arrive at stop", Action: types.ActionArriveStop, Enabled: true},
	types.RaceArrivedStop:  {Label: "Start boarding", Action: types.ActionStartBoarding, Enabled: true},
	types.RaceFinished:     {Label: "Finish trip", Action: types.ActionFinishTrip, Enabled: true},
}

var panelTable = map[types.RaceState]PanelVisibility{
	types.RaceOffline:      {MainButton: true},
	types.RaceWaitingStart: {MainButton: true, Reservation: true},
	types.RaceBoarding:     {MainButton: true, Queue: true, Cash: true},
	types.RaceInTransit:    {MainButton: true},
	types.RaceArrivedStop:  {MainButton: true, Reservation: true},
	types.RaceFinished:     {MainButton: true},
}

// ActionFor returns the button configuration for a lifecycle state. The
// table is total over all RaceState values; an unknown state is a
// programming defect and panics.
func ActionFor(state types.RaceState) ButtonConfig {
	cfg, ok := actionTable[state]
	if !ok {
		panic(fmt.Sprintf("panel: no action entry for state %q", state))
	}
	return cfg
}

// PanelsFor returns the panel visibility for a lifecycle state.
func PanelsFor(state types.RaceState) PanelVisibility {
	vis, ok := panelTable[state]
	if !ok {
		panic(fmt.Sprintf("panel: no panel entry for state %q", state))
	}
	return vis
}

// States lists every lifecycle state the tables cover, in lifecycle order.
func States() []types.RaceState {
	return []types.RaceState{
		types.RaceOffline,
		types.RaceWaitingStart,
		types.RaceBoarding,
		types.RaceInTransit,
		types.RaceArrivedStop,
		types.RaceFinished,
	}
}
