package types

// RaceState is the trip lifecycle state of the vehicle. Exactly one is
// active at a time.
type RaceState string

const (
	RaceOffline      RaceState = "offline"
	RaceWaitingStart RaceState = "waiting-start"
	RaceBoarding     RaceState = "boarding"
	RaceInTransit    RaceState = "in-transit"
	RaceArrivedStop  RaceState = "arrived-stop"
	RaceFinished     RaceState = "finished"
)

// TransitionAction is the single driver action offered for a lifecycle state.
type TransitionAction string

const (
	ActionStartShift    TransitionAction = "start-shift"
	ActionStartTrip     TransitionAction = "start-trip"
	ActionDepartStop    TransitionAction = "depart-stop"
	ActionArriveStop    TransitionAction = "arrive-stop"
	ActionStartBoarding TransitionAction = "start-boarding"
	ActionFinishTrip    TransitionAction = "finish-trip"
	ActionNone          TransitionAction = "none"
)
