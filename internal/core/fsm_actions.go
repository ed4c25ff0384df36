package core

import (
	"context"
	"fmt"

	"github.com/librescoot/librefsm"

	"shuttle-service/internal/fsm"
	"shuttle-service/internal/types"
)

// Ensure ShuttleSystem implements fsm.Actions
var _ fsm.Actions = (*ShuttleSystem)(nil)

// stateIDToRaceState converts librefsm StateID to types.RaceState
func stateIDToRaceState(id librefsm.StateID) types.RaceState {
	switch id {
	case fsm.StateOffline:
		return types.RaceOffline
	case fsm.StateWaitingStart:
		return types.RaceWaitingStart
	case fsm.StateBoarding:
		return types.RaceBoarding
	case fsm.StateInTransit:
		return types.RaceInTransit
	case fsm.StateArrivedStop:
		return types.RaceArrivedStop
	case fsm.StateFinished:
		return types.RaceFinished
	default:
		return types.RaceState(string(id))
	}
}

// raceStateToStateID converts types.RaceState to librefsm StateID
func raceStateToStateID(s types.RaceState) librefsm.StateID {
	switch s {
	case types.RaceOffline:
		return fsm.StateOffline
	case types.RaceWaitingStart:
		return fsm.StateWaitingStart
	case types.RaceBoarding:
		return fsm.StateBoarding
	case types.RaceInTransit:
		return fsm.StateInTransit
	case types.RaceArrivedStop:
		return fsm.StateArrivedStop
	case types.RaceFinished:
		return fsm.StateFinished
	default:
		return librefsm.StateID(string(s))
	}
}

// actionToEvent maps a driver action command to a lifecycle event.
func actionToEvent(action string) (librefsm.EventID, error) {
	switch action {
	case "start-shift":
		return fsm.EvStartShift, nil
	case "start-trip":
		return fsm.EvStartTrip, nil
	case "depart-stop":
		return fsm.EvDepartStop, nil
	case "arrive-stop":
		return fsm.EvArriveStop, nil
	case "start-boarding":
		return fsm.EvStartBoarding, nil
	case "finish-trip":
		return fsm.EvFinishTrip, nil
	case "route-complete":
		return fsm.EvRouteComplete, nil
	default:
		return "", fmt.Errorf("invalid action: %s", action)
	}
}

// initFSM initializes and starts the librefsm machine
func (s *ShuttleSystem) initFSM(ctx context.Context) error {
	def := fsm.NewDefinition(s)
	machine, err := def.Build()
	if err != nil {
		return err
	}
	s.machine = machine

	s.machine.OnStateChange(func(from, to librefsm.StateID) {
		newState := stateIDToRaceState(to)
		oldState := stateIDToRaceState(from)

		s.logger.Infof("Race state transition: %s -> %s", oldState, newState)

		// Scanning is only permitted while boarding; everywhere else the
		// queue reports preparation-not-started.
		s.queue.SetDisabled(to != fsm.StateBoarding)

		// Publish directly with the known new state (calling CurrentState
		// here would deadlock against the FSM mutex)
		if err := s.redis.PublishRaceState(newState); err != nil {
			s.logger.Errorf("Failed to publish race state: %v", err)
		}
	})

	if err := s.machine.Start(ctx); err != nil {
		return err
	}

	s.logger.Infof("Race lifecycle machine started")
	return nil
}

// sendEvent sends an event to the FSM
func (s *ShuttleSystem) sendEvent(event librefsm.EventID) error {
	return s.machine.SendSync(librefsm.Event{ID: event})
}

// === State Entry Actions ===

func (s *ShuttleSystem) EnterOffline(c *librefsm.Context) error {
	s.logger.Debugf("FSM: EnterOffline")
	return nil
}

func (s *ShuttleSystem) EnterWaitingStart(c *librefsm.Context) error {
	s.logger.Debugf("FSM: EnterWaitingStart")
	return nil
}

func (s *ShuttleSystem) EnterBoarding(c *librefsm.Context) error {
	s.logger.Debugf("FSM: EnterBoarding")

	pending := 0
	for _, p := range s.queue.Passengers() {
		if p.ScanStatus == types.ScanPending {
			pending++
		}
	}
	s.logger.Infof("Boarding open: %d passengers awaiting scan", pending)
	return nil
}

func (s *ShuttleSystem) EnterInTransit(c *librefsm.Context) error {
	s.logger.Debugf("FSM: EnterInTransit")

	s.mu.RLock()
	stop := s.stopName
	s.mu.RUnlock()
	if stop != "" {
		s.logger.Infof("In transit, next stop: %s", stop)
	}
	return nil
}

func (s *ShuttleSystem) EnterArrivedStop(c *librefsm.Context) error {
	s.logger.Debugf("FSM: EnterArrivedStop")
	return nil
}

func (s *ShuttleSystem) EnterFinished(c *librefsm.Context) error {
	s.logger.Debugf("FSM: EnterFinished")
	s.logger.Infof("Route complete, awaiting finish-trip")
	return nil
}

// === State Exit Actions ===

func (s *ShuttleSystem) ExitBoarding(c *librefsm.Context) error {
	s.logger.Debugf("FSM: ExitBoarding")
	return nil
}

// === Guards ===

// CanDepartStop blocks departure while a boarding decision is outstanding
// or a scan is in flight.
func (s *ShuttleSystem) CanDepartStop(c *librefsm.Context) bool {
	if s.queue.Locked() {
		s.logger.Debugf("Depart guard: scan in flight")
		return false
	}
	if s.queue.DecisionOutstanding() {
		s.logger.Debugf("Depart guard: scanned passenger awaiting decision")
		return false
	}
	return true
}
