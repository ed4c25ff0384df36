package fsm

import (
	"github.com/librescoot/librefsm"
)

// NewDefinition creates the race lifecycle FSM definition.
// The actions parameter provides the implementation for state entry/exit
// and guards.
func NewDefinition(actions Actions) *librefsm.Definition {
	return librefsm.NewDefinition().
		State(StateOffline,
			librefsm.WithOnEnter(actions.EnterOffline),
		).
		State(StateWaitingStart,
			librefsm.WithOnEnter(actions.EnterWaitingStart),
		).
		State(StateBoarding,
			librefsm.WithOnEnter(actions.EnterBoarding),
			librefsm.WithOnExit(actions.ExitBoarding),
		).
		State(StateInTransit,
			librefsm.WithOnEnter(actions.EnterInTransit),
		).
		State(StateArrivedStop,
			librefsm.WithOnEnter(actions.EnterArrivedStop),
		).
		State(StateFinished,
			librefsm.WithOnEnter(actions.EnterFinished),
		).

		// === Transitions ===

		Transition(StateOffline, EvStartShift, StateWaitingStart).
		Transition(StateWaitingStart, EvStartTrip, StateBoarding).

		// Departure is blocked while a scanned passenger awaits an
		// accept/reject decision or a scan is in flight.
		Transition(StateBoarding, EvDepartStop, StateInTransit,
			librefsm.WithGuard(actions.CanDepartStop),
		).

		Transition(StateInTransit, EvArriveStop, StateArrivedStop).
		Transition(StateArrivedStop, EvStartBoarding, StateBoarding).

		// Entry into Finished is decided outside the lifecycle (the route is
		// complete); it is accepted wherever the vehicle can be standing.
		Transition(StateBoarding, EvRouteComplete, StateFinished,
			librefsm.WithGuard(actions.CanDepartStop),
		).
		Transition(StateArrivedStop, EvRouteComplete, StateFinished).

		Transition(StateFinished, EvFinishTrip, StateOffline).

		// Initial state
		Initial(StateOffline)
}
