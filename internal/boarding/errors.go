package boarding

import (
	"errors"
	"fmt"
)

// BlockReason is the machine-readable code attached to a refused scan start.
type BlockReason string

const (
	ReasonPreparationNotStarted BlockReason = "preparation-not-started"
	ReasonNoPassengersAvailable BlockReason = "no-passengers-available"
	ReasonScanInProgress        BlockReason = "scan-in-progress"
	ReasonDecisionOutstanding   BlockReason = "decision-outstanding"
)

// BlockedError is returned when a scan start is refused. It is a local,
// recoverable condition; the caller simply does not proceed.
type BlockedError struct {
	Reason BlockReason
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("scan blocked: %s", e.Reason)
}

// Blocked reports whether err is a BlockedError, and its reason.
func Blocked(err error) (BlockReason, bool) {
	var be *BlockedError
	if errors.As(err, &be) {
		return be.Reason, true
	}
	return "", false
}

var (
	// ErrInvalidState is returned when accept/reject/return targets a
	// passenger not in the required scan status.
	ErrInvalidState = errors.New("passenger not in required scan status")

	// ErrNoActiveSession is returned when a scan resolution arrives with
	// no scan in flight.
	ErrNoActiveSession = errors.New("no active scan session")
)
