package fsm

import "github.com/librescoot/librefsm"

// Race lifecycle states
const (
	StateOffline      librefsm.StateID = "offline"
	StateWaitingStart librefsm.StateID = "waiting-start"
	StateBoarding     librefsm.StateID = "boarding"
	StateInTransit    librefsm.StateID = "in-transit"
	StateArrivedStop  librefsm.StateID = "arrived-stop"
	StateFinished     librefsm.StateID = "finished"
)

// Race lifecycle events
const (
	// Driver actions (from Redis commands or the panel button)
	EvStartShift    librefsm.EventID = "start-shift"
	EvStartTrip     librefsm.EventID = "start-trip"
	EvDepartStop    librefsm.EventID = "depart-stop"
	EvArriveStop    librefsm.EventID = "arrive-stop"
	EvStartBoarding librefsm.EventID = "start-boarding"
	EvFinishTrip    librefsm.EventID = "finish-trip"

	// Externally decided: the dispatcher marks the route complete
	EvRouteComplete librefsm.EventID = "route-complete"
)
