package core

import (
	"shuttle-service/internal/hardware"
	"shuttle-service/internal/messaging"
	"shuttle-service/internal/types"
)

// MessagingClient defines the interface for Redis messaging operations needed by ShuttleSystem
type MessagingClient interface {
	SetCallbacks(callbacks messaging.Callbacks)
	Connect() error
	StartListening() error
	Close() error

	// State management
	GetRaceState() (types.RaceState, error)
	PublishRaceState(state types.RaceState) error

	// Route
	GetStopName() (string, error)

	// Boarding queue
	PublishQueue(passengers []types.Passenger) error
	PublishDecision(op string, id types.PassengerID) error

	// Audit events (events.Sink)
	Emit(name string, details map[string]any)
}

// PanelIO defines the interface for driver panel I/O needed by ShuttleSystem
type PanelIO interface {
	Initialize() error
	Cleanup()

	WriteDigitalOutput(channel string, value bool) error
	SetInitialValue(name string, value bool)
	RegisterInputCallback(channel string, callback hardware.InputCallback)
}
