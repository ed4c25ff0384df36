package types

import "time"

// PassengerID uniquely identifies a queued passenger for the session.
type PassengerID int64

// ScanStatus is the tri-state QR scan status of a queued passenger.
// The three values are mutually exclusive.
type ScanStatus string

const (
	ScanPending ScanStatus = "pending"
	ScanScanned ScanStatus = "scanned"
	ScanError   ScanStatus = "error"
)

// QRData is the payment confirmation payload attached to a passenger once
// their QR code has been validated.
type QRData struct {
	Sum       float64   `json:"sum"`
	Recipient string    `json:"recipient"`
	CreatedAt time.Time `json:"created_at"`
}

// Passenger is one rider waiting to pay and board at the current stop.
// QRData is non-nil iff ScanStatus is ScanScanned.
type Passenger struct {
	ID            PassengerID `json:"id"`
	Name          string      `json:"name"`
	QueuePosition int         `json:"queue_position"`
	IsFirst       bool        `json:"is_first"`
	Count         int         `json:"count"`
	TicketCount   int         `json:"ticket_count"`
	OrderNumber   string      `json:"order_number"`
	ScanStatus    ScanStatus  `json:"scan_status"`
	QRData        *QRData     `json:"qr_data,omitempty"`
}
