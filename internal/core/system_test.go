package core

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"shuttle-service/internal/hardware"
	"shuttle-service/internal/logger"
	"shuttle-service/internal/messaging"
	"shuttle-service/internal/types"
)

// Mock MessagingClient
type mockMessagingClient struct {
	mu        sync.Mutex
	callbacks messaging.Callbacks

	// Track method calls
	publishedStates    []types.RaceState
	publishedQueues    [][]types.Passenger
	publishedDecisions []string
	emittedEvents      []string
	emittedDetails     []map[string]any

	// Return values
	raceState    types.RaceState
	raceStateErr error
	stopName     string
}

func newMockMessagingClient() *mockMessagingClient {
	return &mockMessagingClient{raceState: types.RaceOffline}
}

func (m *mockMessagingClient) SetCallbacks(callbacks messaging.Callbacks) { m.callbacks = callbacks }
func (m *mockMessagingClient) Connect() error                             { return nil }
func (m *mockMessagingClient) StartListening() error                      { return nil }
func (m *mockMessagingClient) Close() error                               { return nil }

func (m *mockMessagingClient) GetRaceState() (types.RaceState, error) {
	return m.raceState, m.raceStateErr
}

func (m *mockMessagingClient) GetStopName() (string, error) { return m.stopName, nil }

func (m *mockMessagingClient) PublishRaceState(state types.RaceState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishedStates = append(m.publishedStates, state)
	return nil
}

func (m *mockMessagingClient) PublishQueue(passengers []types.Passenger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishedQueues = append(m.publishedQueues, passengers)
	return nil
}

func (m *mockMessagingClient) PublishDecision(op string, id types.PassengerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishedDecisions = append(m.publishedDecisions, op)
	return nil
}

func (m *mockMessagingClient) Emit(name string, details map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emittedEvents = append(m.emittedEvents, name)
	m.emittedDetails = append(m.emittedDetails, details)
}

func (m *mockMessagingClient) lastEvent() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.emittedEvents) == 0 {
		return ""
	}
	return m.emittedEvents[len(m.emittedEvents)-1]
}

// Mock PanelIO
type mockPanelIO struct {
	mu             sync.Mutex
	digitalOutputs map[string]bool
	outputHistory  []struct {
		channel string
		value   bool
	}
	initialValues  map[string]bool
	inputCallbacks map[string]hardware.InputCallback
}

func newMockPanelIO() *mockPanelIO {
	return &mockPanelIO{
		digitalOutputs: make(map[string]bool),
		initialValues:  make(map[string]bool),
		inputCallbacks: make(map[string]hardware.InputCallback),
	}
}

func (m *mockPanelIO) Initialize() error { return nil }
func (m *mockPanelIO) Cleanup()          {}

func (m *mockPanelIO) WriteDigitalOutput(channel string, value bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.digitalOutputs[channel] = value
	m.outputHistory = append(m.outputHistory, struct {
		channel string
		value   bool
	}{channel, value})
	return nil
}

func (m *mockPanelIO) SetInitialValue(name string, value bool) {
	m.initialValues[name] = value
}

func (m *mockPanelIO) RegisterInputCallback(channel string, callback hardware.InputCallback) {
	m.inputCallbacks[channel] = callback
}

// SimulateInput triggers an input callback
func (m *mockPanelIO) SimulateInput(channel string, value bool) error {
	if cb, ok := m.inputCallbacks[channel]; ok {
		return cb(channel, value)
	}
	return nil
}

// Test helpers

func newTestShuttleSystem() (*ShuttleSystem, *mockPanelIO, *mockMessagingClient) {
	l := logger.New(nil, 0, logger.LogLevelError)
	mockIO := newMockPanelIO()
	mockRedis := newMockMessagingClient()
	system := NewShuttleSystem(mockIO, mockRedis, l)
	return system, mockIO, mockRedis
}

func initTestFSM(t *testing.T, system *ShuttleSystem) {
	t.Helper()
	if err := system.initFSM(context.Background()); err != nil {
		t.Fatalf("Failed to initialize FSM: %v", err)
	}
}

// step sends a driver action and lets the transition settle
func step(t *testing.T, system *ShuttleSystem, action string) {
	t.Helper()
	if err := system.handleActionRequest(action); err != nil {
		t.Fatalf("Action %s failed: %v", action, err)
	}
	time.Sleep(20 * time.Millisecond)
}

func expectState(t *testing.T, system *ShuttleSystem, want types.RaceState) {
	t.Helper()
	if got := system.CurrentState(); got != want {
		t.Fatalf("Expected state %s, got %s", want, got)
	}
}

// ===== Construction =====

func TestNewShuttleSystem(t *testing.T) {
	system, mockIO, mockRedis := newTestShuttleSystem()

	if system == nil {
		t.Fatal("NewShuttleSystem returned nil")
	}
	if system.io != mockIO {
		t.Error("io not set correctly")
	}
	if system.redis != mockRedis {
		t.Error("redis not set correctly")
	}
	if system.queue == nil {
		t.Error("boarding controller not created")
	}
}

func TestStartRestoresSavedState(t *testing.T) {
	system, mockIO, mockRedis := newTestShuttleSystem()
	mockRedis.raceState = types.RaceInTransit
	mockRedis.stopName = "Central Station"

	if err := system.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer system.Shutdown()

	time.Sleep(20 * time.Millisecond)
	expectState(t, system, types.RaceInTransit)

	cfg := system.CurrentButton()
	if cfg.StopName != "Central Station" {
		t.Errorf("Expected stop name on arrive button, got %q", cfg.StopName)
	}

	for _, name := range []string{"session_led", "fault_buzzer"} {
		if v, ok := mockIO.initialValues[name]; !ok || v {
			t.Errorf("Expected %s initialized off", name)
		}
	}
}

// ===== Lifecycle walk =====

func TestLifecycleWalk(t *testing.T) {
	system, _, mockRedis := newTestShuttleSystem()
	initTestFSM(t, system)

	expectState(t, system, types.RaceOffline)

	step(t, system, "start-shift")
	expectState(t, system, types.RaceWaitingStart)

	step(t, system, "start-trip")
	expectState(t, system, types.RaceBoarding)

	step(t, system, "depart-stop")
	expectState(t, system, types.RaceInTransit)

	step(t, system, "arrive-stop")
	expectState(t, system, types.RaceArrivedStop)

	// Boarding loop for a subsequent stop
	step(t, system, "start-boarding")
	expectState(t, system, types.RaceBoarding)

	step(t, system, "route-complete")
	expectState(t, system, types.RaceFinished)

	step(t, system, "finish-trip")
	expectState(t, system, types.RaceOffline)

	mockRedis.mu.Lock()
	published := len(mockRedis.publishedStates)
	mockRedis.mu.Unlock()
	if published == 0 {
		t.Error("Expected race state publications on transitions")
	}
}

func TestInvalidActionRejected(t *testing.T) {
	system, _, _ := newTestShuttleSystem()
	initTestFSM(t, system)

	if err := system.handleActionRequest("warp-speed"); err == nil {
		t.Error("Expected error for invalid action")
	}
}

// ===== Depart guard =====

func toBoardingWithScanned(t *testing.T, system *ShuttleSystem) {
	t.Helper()
	step(t, system, "start-shift")
	step(t, system, "start-trip")
	expectState(t, system, types.RaceBoarding)

	if err := system.handleQueueAdd(types.Passenger{
		ID: 1, Name: "Rider", QueuePosition: 1, Count: 1,
		TicketCount: 1, ScanStatus: types.ScanPending,
	}); err != nil {
		t.Fatalf("Queue add failed: %v", err)
	}
	if err := system.handleScanStart(); err != nil {
		t.Fatalf("Scan start failed: %v", err)
	}
	if err := system.handleScanConfirm(640, "Driver X"); err != nil {
		t.Fatalf("Scan confirm failed: %v", err)
	}
}

func TestDepartBlockedWhileDecisionOutstanding(t *testing.T) {
	system, _, mockRedis := newTestShuttleSystem()
	initTestFSM(t, system)
	toBoardingWithScanned(t, system)

	step(t, system, "depart-stop")
	expectState(t, system, types.RaceBoarding)

	if mockRedis.lastEvent() != "ui:blocked" {
		t.Errorf("Expected ui:blocked event, got %s", mockRedis.lastEvent())
	}

	// After the decision the vehicle may depart
	if err := system.handleDecisionRequest("accept", 1); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	step(t, system, "depart-stop")
	expectState(t, system, types.RaceInTransit)
}

func TestDepartRefusalReachesLogAuditTrail(t *testing.T) {
	var buf bytes.Buffer
	l := logger.New(&buf, 0, logger.LogLevelInfo)
	mockIO := newMockPanelIO()
	mockRedis := newMockMessagingClient()
	system := NewShuttleSystem(mockIO, mockRedis, l)
	initTestFSM(t, system)
	toBoardingWithScanned(t, system)

	step(t, system, "depart-stop")
	expectState(t, system, types.RaceBoarding)

	if mockRedis.lastEvent() != "ui:blocked" {
		t.Errorf("Expected ui:blocked event in Redis sink, got %s", mockRedis.lastEvent())
	}
	if !strings.Contains(buf.String(), "ui:blocked") {
		t.Error("Expected ui:blocked refusal in the log sink")
	}
}

func TestDepartBlockedWhileScanInFlight(t *testing.T) {
	system, _, _ := newTestShuttleSystem()
	initTestFSM(t, system)

	step(t, system, "start-shift")
	step(t, system, "start-trip")

	if err := system.handleQueueAdd(types.Passenger{
		ID: 1, QueuePosition: 1, ScanStatus: types.ScanPending,
	}); err != nil {
		t.Fatalf("Queue add failed: %v", err)
	}
	if err := system.handleScanStart(); err != nil {
		t.Fatalf("Scan start failed: %v", err)
	}

	step(t, system, "depart-stop")
	expectState(t, system, types.RaceBoarding)

	if err := system.handleScanCancel(); err != nil {
		t.Fatalf("Scan cancel failed: %v", err)
	}
	step(t, system, "depart-stop")
	expectState(t, system, types.RaceInTransit)
}

// ===== Scan gating by lifecycle =====

func TestScanGateFollowsLifecycle(t *testing.T) {
	system, _, mockRedis := newTestShuttleSystem()
	initTestFSM(t, system)

	if err := system.handleQueueAdd(types.Passenger{
		ID: 1, QueuePosition: 1, ScanStatus: types.ScanPending,
	}); err != nil {
		t.Fatalf("Queue add failed: %v", err)
	}

	// Offline: preparation not started
	if err := system.handleScanStart(); err != nil {
		t.Fatalf("Blocked scan start should be swallowed: %v", err)
	}
	if mockRedis.lastEvent() != "ui:blocked" {
		t.Errorf("Expected ui:blocked event, got %s", mockRedis.lastEvent())
	}
	if system.queue.Locked() {
		t.Error("No session expected while preparation not started")
	}

	// Boarding: scan allowed
	step(t, system, "start-shift")
	step(t, system, "start-trip")
	if err := system.handleScanStart(); err != nil {
		t.Fatalf("Scan start failed: %v", err)
	}
	if !system.queue.Locked() {
		t.Error("Expected scan session in boarding state")
	}
}

// ===== Panel outputs =====

func TestSessionLedFollowsScanLock(t *testing.T) {
	system, mockIO, _ := newTestShuttleSystem()
	initTestFSM(t, system)

	step(t, system, "start-shift")
	step(t, system, "start-trip")

	if err := system.handleQueueAdd(types.Passenger{
		ID: 1, QueuePosition: 1, ScanStatus: types.ScanPending,
	}); err != nil {
		t.Fatalf("Queue add failed: %v", err)
	}

	if err := system.handleScanStart(); err != nil {
		t.Fatalf("Scan start failed: %v", err)
	}
	if !mockIO.digitalOutputs["session_led"] {
		t.Error("Expected session LED on while scan in flight")
	}

	if err := system.handleScanCancel(); err != nil {
		t.Fatalf("Scan cancel failed: %v", err)
	}
	if mockIO.digitalOutputs["session_led"] {
		t.Error("Expected session LED off after cancel")
	}
}

func TestScanTimeoutClearsSessionLed(t *testing.T) {
	system, mockIO, _ := newTestShuttleSystem()
	system.SetScanTimeout(20 * time.Millisecond)
	initTestFSM(t, system)

	step(t, system, "start-shift")
	step(t, system, "start-trip")

	if err := system.handleQueueAdd(types.Passenger{
		ID: 1, QueuePosition: 1, ScanStatus: types.ScanPending,
	}); err != nil {
		t.Fatalf("Queue add failed: %v", err)
	}
	if err := system.handleScanStart(); err != nil {
		t.Fatalf("Scan start failed: %v", err)
	}
	if !mockIO.digitalOutputs["session_led"] {
		t.Fatal("Expected session LED on while scan in flight")
	}

	time.Sleep(80 * time.Millisecond)

	if system.queue.Locked() {
		t.Error("Expected abandoned session released by timeout")
	}
	mockIO.mu.Lock()
	led := mockIO.digitalOutputs["session_led"]
	mockIO.mu.Unlock()
	if led {
		t.Error("Expected session LED off after timeout auto-cancel")
	}
}

func TestInvalidScanPulsesBuzzer(t *testing.T) {
	system, mockIO, _ := newTestShuttleSystem()
	initTestFSM(t, system)

	step(t, system, "start-shift")
	step(t, system, "start-trip")

	if err := system.handleQueueAdd(types.Passenger{
		ID: 1, QueuePosition: 1, ScanStatus: types.ScanPending,
	}); err != nil {
		t.Fatalf("Queue add failed: %v", err)
	}
	if err := system.handleScanStart(); err != nil {
		t.Fatalf("Scan start failed: %v", err)
	}
	if err := system.handleScanInvalid(); err != nil {
		t.Fatalf("Scan invalid failed: %v", err)
	}

	mockIO.mu.Lock()
	var sawOn, sawOff bool
	for _, w := range mockIO.outputHistory {
		if w.channel != "fault_buzzer" {
			continue
		}
		if w.value {
			sawOn = true
		} else if sawOn {
			sawOff = true
		}
	}
	mockIO.mu.Unlock()

	if !sawOn || !sawOff {
		t.Error("Expected buzzer pulse (on then off) after invalid scan")
	}
}

// ===== Panel buttons =====

func TestDecisionButtonAcceptsFirstScanned(t *testing.T) {
	system, mockIO, mockRedis := newTestShuttleSystem()
	initTestFSM(t, system)
	// Mirror the button wiring Start() performs so SimulateInput dispatches
	mockIO.RegisterInputCallback("accept_button", system.handleDecisionButton)
	mockIO.RegisterInputCallback("reject_button", system.handleDecisionButton)
	toBoardingWithScanned(t, system)

	if err := mockIO.SimulateInput("accept_button", true); err != nil {
		t.Fatalf("Accept button failed: %v", err)
	}

	if len(system.queue.Passengers()) != 0 {
		t.Error("Expected passenger removed after accept button")
	}
	mockRedis.mu.Lock()
	decisions := append([]string(nil), mockRedis.publishedDecisions...)
	mockRedis.mu.Unlock()
	if len(decisions) != 1 || decisions[0] != "accept" {
		t.Errorf("Expected accept decision published, got %v", decisions)
	}
}

func TestDecisionButtonIgnoredWithoutScanned(t *testing.T) {
	system, mockIO, _ := newTestShuttleSystem()
	initTestFSM(t, system)

	if err := mockIO.SimulateInput("reject_button", true); err != nil {
		t.Fatalf("Reject button errored: %v", err)
	}
	if err := mockIO.SimulateInput("reject_button", false); err != nil {
		t.Fatalf("Button release errored: %v", err)
	}
}

// ===== Legacy status adapter =====

func TestLegacyStatusMirroredIntoLifecycle(t *testing.T) {
	system, _, _ := newTestShuttleSystem()
	initTestFSM(t, system)

	if err := system.handleLegacyStatus("InRoute"); err != nil {
		t.Fatalf("Legacy status failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	expectState(t, system, types.RaceInTransit)
}

func TestLegacyStatusUnknownFallsBackToOffline(t *testing.T) {
	system, _, _ := newTestShuttleSystem()
	initTestFSM(t, system)

	if err := system.handleLegacyStatus("InRoute"); err != nil {
		t.Fatalf("Legacy status failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if err := system.handleLegacyStatus("Bogus"); err != nil {
		t.Fatalf("Unknown status should not error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	expectState(t, system, types.RaceOffline)
}

// ===== Derived button / panels =====

func TestCurrentButtonAnnotatesStopName(t *testing.T) {
	system, _, _ := newTestShuttleSystem()
	initTestFSM(t, system)

	if err := system.handleStopName("Harbor Gate"); err != nil {
		t.Fatalf("Stop name failed: %v", err)
	}

	step(t, system, "start-shift")
	step(t, system, "start-trip")

	// Boarding: depart button, no stop annotation
	cfg := system.CurrentButton()
	if cfg.Action != types.ActionDepartStop {
		t.Errorf("Expected depart action, got %s", cfg.Action)
	}
	if cfg.StopName != "" {
		t.Errorf("Expected no stop name on depart button, got %q", cfg.StopName)
	}

	step(t, system, "depart-stop")

	// In transit: arrive button carries the stop name
	cfg = system.CurrentButton()
	if cfg.Action != types.ActionArriveStop {
		t.Errorf("Expected arrive action, got %s", cfg.Action)
	}
	if cfg.StopName != "Harbor Gate" {
		t.Errorf("Expected stop name Harbor Gate, got %q", cfg.StopName)
	}

	panels := system.CurrentPanels()
	if panels.Queue {
		t.Error("Queue panel must be hidden in transit")
	}
}

// ===== Queue publication =====

func TestQueueMutationsArePublished(t *testing.T) {
	system, _, mockRedis := newTestShuttleSystem()
	initTestFSM(t, system)
	toBoardingWithScanned(t, system)

	mockRedis.mu.Lock()
	queues := len(mockRedis.publishedQueues)
	mockRedis.mu.Unlock()
	if queues == 0 {
		t.Fatal("Expected queue snapshots published")
	}

	mockRedis.mu.Lock()
	last := mockRedis.publishedQueues[queues-1]
	mockRedis.mu.Unlock()
	if len(last) != 1 || last[0].ScanStatus != types.ScanScanned {
		t.Errorf("Expected scanned passenger in last snapshot, got %+v", last)
	}
}
