package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/librescoot/librefsm"

	"shuttle-service/internal/boarding"
	"shuttle-service/internal/events"
	"shuttle-service/internal/fsm"
	"shuttle-service/internal/logger"
	"shuttle-service/internal/messaging"
	"shuttle-service/internal/panel"
	"shuttle-service/internal/types"
)

// buzzerPulse is how long the fault buzzer sounds after a failed scan.
const buzzerPulse = 200 * time.Millisecond

// ShuttleSystem wires the race lifecycle machine, the boarding queue and
// the collaborators (Redis, panel hardware) into one vehicle-facing daemon.
type ShuttleSystem struct {
	machine     *librefsm.Machine
	queue       *boarding.Controller
	logger      *logger.Logger
	io          PanelIO
	redis       MessagingClient
	sink        events.Sink
	mu          sync.RWMutex
	stopName    string
	initialized bool
}

func NewShuttleSystem(io PanelIO, redis MessagingClient, l *logger.Logger) *ShuttleSystem {
	s := &ShuttleSystem{
		logger: l.WithTag("Shuttle"),
		io:     io,
		redis:  redis,
	}

	s.sink = events.Multi{events.NewLogSink(l), redis}
	s.queue = boarding.NewController(l, s.sink, boarding.Callbacks{
		OnUpdate: s.handleQueueUpdate,
		OnAccept: func(id types.PassengerID) { s.publishDecision("accept", id) },
		OnReject: func(id types.PassengerID) { s.publishDecision("reject", id) },
		OnReturn: func(id types.PassengerID) { s.publishDecision("return", id) },
		OnExpire: func(types.PassengerID) { s.updateSessionLed() },
	})
	// Scanning is gated until the lifecycle reaches boarding.
	s.queue.SetDisabled(true)
	return s
}

// SetScanTimeout overrides the abandoned-scan auto-cancel.
func (s *ShuttleSystem) SetScanTimeout(d time.Duration) {
	s.queue.SetScanTimeout(d)
}

func (s *ShuttleSystem) Start() error {
	s.logger.Infof("Starting shuttle system")

	s.redis.SetCallbacks(messaging.Callbacks{
		ActionCallback:       s.handleActionRequest,
		ScanStartCallback:    s.handleScanStart,
		ScanCancelCallback:   s.handleScanCancel,
		ScanConfirmCallback:  s.handleScanConfirm,
		ScanInvalidCallback:  s.handleScanInvalid,
		DecisionCallback:     s.handleDecisionRequest,
		QueueAddCallback:     s.handleQueueAdd,
		QueueSetCallback:     s.handleQueueSet,
		LegacyStatusCallback: s.handleLegacyStatus,
		StopNameCallback:     s.handleStopName,
	})

	if err := s.redis.Connect(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	savedState, err := s.redis.GetRaceState()
	if err != nil {
		s.logger.Warnf("Failed to get saved race state: %v", err)
		savedState = types.RaceOffline
	}

	if name, err := s.redis.GetStopName(); err != nil {
		s.logger.Warnf("Failed to get stop name: %v", err)
	} else {
		s.mu.Lock()
		s.stopName = name
		s.mu.Unlock()
	}

	// Indicators start dark until a scan locks the session
	s.io.SetInitialValue("session_led", false)
	s.io.SetInitialValue("fault_buzzer", false)

	if err := s.io.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize panel hardware: %w", err)
	}

	s.io.RegisterInputCallback("scan_button", s.handleScanButton)
	s.io.RegisterInputCallback("accept_button", s.handleDecisionButton)
	s.io.RegisterInputCallback("reject_button", s.handleDecisionButton)

	if err := s.initFSM(context.Background()); err != nil {
		return fmt.Errorf("failed to initialize FSM: %w", err)
	}

	if savedState != types.RaceOffline {
		s.logger.Infof("Restoring saved race state: %s", savedState)
		if err := s.machine.SetState(raceStateToStateID(savedState)); err != nil {
			s.logger.Errorf("Failed to restore race state: %v", err)
		}
	}

	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()

	if err := s.redis.PublishRaceState(s.CurrentState()); err != nil {
		return fmt.Errorf("failed to publish initial state: %w", err)
	}

	if err := s.redis.StartListening(); err != nil {
		return fmt.Errorf("failed to start Redis listeners: %w", err)
	}

	s.logger.Infof("System started successfully")
	return nil
}

func (s *ShuttleSystem) Shutdown() {
	s.queue.CancelScan()
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warnf("Failed to close Redis client: %v", err)
		}
	}
	if s.io != nil {
		s.io.Cleanup()
	}
}

// CurrentState returns the current race lifecycle state.
func (s *ShuttleSystem) CurrentState() types.RaceState {
	if s.machine != nil {
		return stateIDToRaceState(s.machine.CurrentState())
	}
	return types.RaceOffline
}

// CurrentButton derives the primary action button for the current state,
// with the stop name annotation filled in for the arrive action.
func (s *ShuttleSystem) CurrentButton() panel.ButtonConfig {
	cfg := panel.ActionFor(s.CurrentState())
	if cfg.Action == types.ActionArriveStop {
		s.mu.RLock()
		cfg.StopName = s.stopName
		s.mu.RUnlock()
	}
	return cfg
}

// CurrentPanels derives the supporting panel visibility for the current state.
func (s *ShuttleSystem) CurrentPanels() panel.PanelVisibility {
	return panel.PanelsFor(s.CurrentState())
}

// === Redis command handlers ===

func (s *ShuttleSystem) handleActionRequest(action string) error {
	s.logger.Infof("Handling action request: %s", action)

	ev, err := actionToEvent(action)
	if err != nil {
		return err
	}

	// A depart with an outstanding boarding decision is a policy refusal,
	// reported through the event log rather than bubbled up.
	if ev == fsm.EvDepartStop || ev == fsm.EvRouteComplete {
		if s.queue.DecisionOutstanding() || s.queue.Locked() {
			s.sink.Emit(events.EventBlocked, map[string]any{
				"op":     action,
				"reason": "decision-outstanding",
			})
			s.logger.Infof("Action %s blocked: boarding decision outstanding", action)
			return nil
		}
	}

	return s.sendEvent(ev)
}

func (s *ShuttleSystem) handleScanStart() error {
	id, err := s.queue.StartScan()
	if err != nil {
		// Blocked is a local refusal: already reported to the event log.
		if reason, ok := boarding.Blocked(err); ok {
			s.logger.Infof("Scan start blocked: %s", reason)
			return nil
		}
		return err
	}

	s.logger.Infof("Scan started for passenger %d", id)
	s.updateSessionLed()
	return nil
}

func (s *ShuttleSystem) handleScanConfirm(sum float64, recipient string) error {
	err := s.queue.ConfirmScan(sum, recipient)
	if err == boarding.ErrNoActiveSession {
		s.logger.Warnf("Scan confirm with no active session")
		return nil
	}
	s.updateSessionLed()
	return err
}

func (s *ShuttleSystem) handleScanInvalid() error {
	err := s.queue.FailScan()
	if err == boarding.ErrNoActiveSession {
		s.logger.Warnf("Scan invalid with no active session")
		return nil
	}
	s.updateSessionLed()
	s.pulseBuzzer()
	return err
}

func (s *ShuttleSystem) handleScanCancel() error {
	s.queue.CancelScan()
	s.updateSessionLed()
	return nil
}

func (s *ShuttleSystem) handleDecisionRequest(op string, id types.PassengerID) error {
	s.logger.Infof("Handling decision request: %s for passenger %d", op, id)

	var err error
	switch op {
	case "accept":
		err = s.queue.Accept(id)
	case "reject":
		err = s.queue.Reject(id)
	case "return":
		err = s.queue.Return(id)
	default:
		return fmt.Errorf("invalid decision op: %s", op)
	}

	// Invalid-state is a local refusal: reported to the event log, no-op
	// otherwise.
	if err == boarding.ErrInvalidState {
		s.logger.Infof("Decision %s for passenger %d refused: invalid state", op, id)
		return nil
	}
	return err
}

func (s *ShuttleSystem) handleQueueAdd(p types.Passenger) error {
	s.queue.Add(p)
	return nil
}

func (s *ShuttleSystem) handleQueueSet(passengers []types.Passenger) error {
	s.queue.SetQueue(passengers)
	return nil
}

// handleLegacyStatus adapts the old trip-status vocabulary still emitted by
// the dispatch backend and mirrors it into the lifecycle machine.
func (s *ShuttleSystem) handleLegacyStatus(status string) error {
	state, err := panel.FromLegacyStatus(status)
	if err != nil {
		s.logger.Warnf("Falling back to offline: %v", err)
		state = types.RaceOffline
	}

	if state == s.CurrentState() {
		return nil
	}
	s.logger.Infof("Legacy trip status %q -> %s", status, state)
	return s.machine.SetState(raceStateToStateID(state))
}

func (s *ShuttleSystem) handleStopName(name string) error {
	s.mu.Lock()
	s.stopName = name
	s.mu.Unlock()
	s.logger.Infof("Next stop: %s", name)
	return nil
}

// === Panel hardware handlers ===

func (s *ShuttleSystem) handleScanButton(channel string, value bool) error {
	if !value {
		return nil // Only care about presses
	}
	return s.handleScanStart()
}

// handleDecisionButton routes the physical accept/reject buttons to the
// first scanned passenger; the panel has no per-passenger addressing.
func (s *ShuttleSystem) handleDecisionButton(channel string, value bool) error {
	if !value {
		return nil
	}

	id, ok := s.queue.FirstScanned()
	if !ok {
		s.logger.Infof("Ignoring %s: no scanned passenger", channel)
		return nil
	}

	op := "accept"
	if channel == "reject_button" {
		op = "reject"
	}
	return s.handleDecisionRequest(op, id)
}

// === Collaborator notifications ===

func (s *ShuttleSystem) handleQueueUpdate(passengers []types.Passenger) {
	if err := s.redis.PublishQueue(passengers); err != nil {
		s.logger.Warnf("Failed to publish queue update: %v", err)
	}
}

func (s *ShuttleSystem) publishDecision(op string, id types.PassengerID) {
	if err := s.redis.PublishDecision(op, id); err != nil {
		s.logger.Warnf("Failed to publish %s decision for passenger %d: %v", op, id, err)
	}
}

// === Panel outputs ===

func (s *ShuttleSystem) updateSessionLed() {
	if err := s.io.WriteDigitalOutput("session_led", s.queue.Locked()); err != nil {
		s.logger.Warnf("Failed to update session LED: %v", err)
	}
}

func (s *ShuttleSystem) pulseBuzzer() {
	if err := s.io.WriteDigitalOutput("fault_buzzer", true); err != nil {
		s.logger.Warnf("Failed to sound buzzer: %v", err)
		return
	}
	time.Sleep(buzzerPulse)
	if err := s.io.WriteDigitalOutput("fault_buzzer", false); err != nil {
		s.logger.Warnf("Failed to silence buzzer: %v", err)
	}
}
