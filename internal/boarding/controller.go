package boarding

import (
	"sort"
	"sync"
	"time"

	"shuttle-service/internal/events"
	"shuttle-service/internal/logger"
	"shuttle-service/internal/types"
)

// Callbacks are fired by the controller after it has validated and applied
// a mutation. OnUpdate always carries the full updated list. OnExpire fires
// after an abandoned scan session is auto-cancelled by the timeout.
type Callbacks struct {
	OnUpdate func(passengers []types.Passenger)
	OnAccept func(id types.PassengerID)
	OnReject func(id types.PassengerID)
	OnReturn func(id types.PassengerID)
	OnExpire func(id types.PassengerID)
}

// Controller owns the ordered list of passengers awaiting boarding and
// payment, applies scan results through the single ScanSession, and
// mediates accept/reject/return decisions. All mutation of the list and
// the session goes through its methods.
type Controller struct {
	mu          sync.RWMutex
	passengers  []*types.Passenger
	session     ScanSession
	disabled    bool
	scanTimeout time.Duration
	scanTimer   *time.Timer
	callbacks   Callbacks
	sink        events.Sink
	logger      *logger.Logger
}

// DefaultScanTimeout is the defensive auto-cancel for an abandoned scan
// session. Without it a scan dialog that is never resolved would block the
// queue permanently.
const DefaultScanTimeout = 60 * time.Second

func NewController(log *logger.Logger, sink events.Sink, callbacks Callbacks) *Controller {
	if sink == nil {
		sink = events.Discard{}
	}
	return &Controller{
		scanTimeout: DefaultScanTimeout,
		callbacks:   callbacks,
		sink:        sink,
		logger:      log.WithTag("Boarding"),
	}
}

// SetScanTimeout overrides the abandoned-scan auto-cancel. Zero disables it.
func (c *Controller) SetScanTimeout(d time.Duration) {
	c.mu.Lock()
	c.scanTimeout = d
	c.mu.Unlock()
}

// SetDisabled gates scan start. The flag is derived externally from the
// lifecycle state (preparation not started).
func (c *Controller) SetDisabled(disabled bool) {
	c.mu.Lock()
	c.disabled = disabled
	c.mu.Unlock()
}

// SetQueue replaces the passenger list. Queue creation is owned by an
// external collaborator; the controller only normalizes ordering.
func (c *Controller) SetQueue(passengers []types.Passenger) {
	c.mu.Lock()
	c.passengers = c.passengers[:0]
	for i := range passengers {
		p := passengers[i]
		c.passengers = append(c.passengers, &p)
	}
	c.normalizeLocked()
	list := c.snapshotLocked()
	c.mu.Unlock()

	c.fireUpdate(list)
}

// Add appends one passenger to the queue.
func (c *Controller) Add(p types.Passenger) {
	c.mu.Lock()
	c.passengers = append(c.passengers, &p)
	c.normalizeLocked()
	list := c.snapshotLocked()
	c.mu.Unlock()

	c.fireUpdate(list)
}

// Passengers returns a snapshot of the queue in position order.
func (c *Controller) Passengers() []types.Passenger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

// Locked reports whether a scan is currently in flight.
func (c *Controller) Locked() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.Locked()
}

// ActivePassenger returns the target of the in-flight scan, if any.
func (c *Controller) ActivePassenger() (types.PassengerID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.Active()
}

// DecisionOutstanding reports whether any passenger is scanned and awaiting
// an accept/reject decision.
func (c *Controller) DecisionOutstanding() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.passengers {
		if p.ScanStatus == types.ScanScanned {
			return true
		}
	}
	return false
}

// FirstScanned returns the scanned passenger with the minimal queue
// position, if any. Used by the physical accept/reject buttons, which carry
// no passenger id.
func (c *Controller) FirstScanned() (types.PassengerID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var found *types.Passenger
	for _, p := range c.passengers {
		if p.ScanStatus != types.ScanScanned {
			continue
		}
		if found == nil || p.QueuePosition < found.QueuePosition {
			found = p
		}
	}
	if found == nil {
		return 0, false
	}
	return found.ID, true
}

// CanScan reports whether the scan affordance should be offered: scanning
// enabled, no scan in flight, no scanned passenger awaiting a decision, and
// at least one pending passenger in the queue.
func (c *Controller) CanScan() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scanGateLocked() == ""
}

// scanGateLocked returns the reason scanning is refused, or "" if allowed.
func (c *Controller) scanGateLocked() BlockReason {
	if c.disabled {
		return ReasonPreparationNotStarted
	}
	if c.session.Locked() {
		return ReasonScanInProgress
	}
	for _, p := range c.passengers {
		if p.ScanStatus == types.ScanScanned {
			return ReasonDecisionOutstanding
		}
	}
	if c.nextPendingLocked() == nil {
		return ReasonNoPassengersAvailable
	}
	return ""
}

// nextPendingLocked returns the pending passenger with the minimal queue
// position, or nil.
func (c *Controller) nextPendingLocked() *types.Passenger {
	var next *types.Passenger
	for _, p := range c.passengers {
		if p.ScanStatus != types.ScanPending {
			continue
		}
		if next == nil || p.QueuePosition < next.QueuePosition {
			next = p
		}
	}
	return next
}

// StartScan selects the first pending passenger in queue order and locks
// the scan session onto them. Exactly one scan may be in flight; the lock
// is held until ConfirmScan, FailScan or CancelScan.
func (c *Controller) StartScan() (types.PassengerID, error) {
	c.mu.Lock()
	if reason := c.scanGateLocked(); reason != "" {
		c.mu.Unlock()
		c.sink.Emit(events.EventBlocked, map[string]any{
			"op":     "scan:start",
			"reason": string(reason),
		})
		return 0, &BlockedError{Reason: reason}
	}

	target := c.nextPendingLocked()
	gen := c.session.begin(target.ID)

	if c.scanTimer != nil {
		c.scanTimer.Stop()
	}
	if c.scanTimeout > 0 {
		c.scanTimer = time.AfterFunc(c.scanTimeout, func() { c.expireScan(gen) })
	}
	id := target.ID
	c.mu.Unlock()

	c.sink.Emit(events.EventScanStart, map[string]any{
		"passenger": int64(id),
	})
	return id, nil
}

// expireScan auto-cancels an abandoned scan session. The generation check
// makes it a no-op if the session was already resolved or replaced.
func (c *Controller) expireScan(gen uint64) {
	c.mu.Lock()
	if !c.session.locked || c.session.gen != gen {
		c.mu.Unlock()
		return
	}
	id := c.session.activeID
	c.session.release()
	c.scanTimer = nil
	c.mu.Unlock()

	c.logger.Warnf("Scan session for passenger %d expired without resolution, auto-cancelled", id)
	if c.callbacks.OnExpire != nil {
		c.callbacks.OnExpire(id)
	}
}

// ConfirmScan resolves the in-flight scan as a successful payment: the
// target passenger becomes scanned with the confirmation payload attached,
// and the session unlocks.
func (c *Controller) ConfirmScan(sum float64, recipient string) error {
	c.mu.Lock()
	id, ok := c.session.Active()
	if !ok {
		c.mu.Unlock()
		return ErrNoActiveSession
	}
	if p := c.findLocked(id); p != nil {
		p.ScanStatus = types.ScanScanned
		p.QRData = &types.QRData{
			Sum:       sum,
			Recipient: recipient,
			CreatedAt: time.Now(),
		}
	}
	c.releaseLocked()
	c.normalizeLocked()
	list := c.snapshotLocked()
	c.mu.Unlock()

	c.sink.Emit(events.EventScanResult, map[string]any{
		"passenger": int64(id),
		"result":    "success",
		"sum":       sum,
		"recipient": recipient,
	})
	c.fireUpdate(list)
	return nil
}

// FailScan resolves the in-flight scan as invalid: the target passenger is
// marked errored, any prior payload is cleared, and the session unlocks.
func (c *Controller) FailScan() error {
	c.mu.Lock()
	id, ok := c.session.Active()
	if !ok {
		c.mu.Unlock()
		return ErrNoActiveSession
	}
	if p := c.findLocked(id); p != nil {
		p.ScanStatus = types.ScanError
		p.QRData = nil
	}
	c.releaseLocked()
	c.normalizeLocked()
	list := c.snapshotLocked()
	c.mu.Unlock()

	c.sink.Emit(events.EventScanResult, map[string]any{
		"passenger": int64(id),
		"result":    "failure",
	})
	c.fireUpdate(list)
	return nil
}

// CancelScan releases the session without touching the target passenger
// (the driver dismissed the scan dialog). Idempotent when nothing is in
// flight.
func (c *Controller) CancelScan() {
	c.mu.Lock()
	if !c.session.Locked() {
		c.mu.Unlock()
		return
	}
	id := c.session.activeID
	c.releaseLocked()
	c.mu.Unlock()

	c.logger.Debugf("Scan for passenger %d cancelled", id)
}

// releaseLocked unlocks the session and disarms the abandonment timer.
func (c *Controller) releaseLocked() {
	c.session.release()
	if c.scanTimer != nil {
		c.scanTimer.Stop()
		c.scanTimer = nil
	}
}

// Accept confirms the payment decision for a scanned passenger. The party
// boards and the passenger leaves the active queue.
func (c *Controller) Accept(id types.PassengerID) error {
	return c.decide(id, "accept", events.EventAcceptClicked, c.callbacks.OnAccept)
}

// Reject declines the payment decision for a scanned passenger. Queue
// mechanics are identical to Accept; only the signalled outcome differs.
func (c *Controller) Reject(id types.PassengerID) error {
	return c.decide(id, "reject", events.EventRejectClicked, c.callbacks.OnReject)
}

func (c *Controller) decide(id types.PassengerID, op, event string, cb func(types.PassengerID)) error {
	c.mu.Lock()
	p := c.findLocked(id)
	if p == nil || p.ScanStatus != types.ScanScanned || p.QRData == nil {
		c.mu.Unlock()
		c.sink.Emit(events.EventBlocked, map[string]any{
			"op":        op,
			"reason":    "invalid-state",
			"passenger": int64(id),
		})
		return ErrInvalidState
	}
	sum := p.QRData.Sum
	c.removeLocked(id)
	c.normalizeLocked()
	list := c.snapshotLocked()
	c.mu.Unlock()

	c.sink.Emit(event, map[string]any{
		"passenger": int64(id),
		"sum":       sum,
	})
	if cb != nil {
		cb(id)
	}
	c.fireUpdate(list)
	return nil
}

// Return undoes a scan outcome: the passenger goes back to pending in
// their original queue position and any payload is dropped.
func (c *Controller) Return(id types.PassengerID) error {
	c.mu.Lock()
	p := c.findLocked(id)
	if p == nil || p.ScanStatus == types.ScanPending {
		c.mu.Unlock()
		c.sink.Emit(events.EventBlocked, map[string]any{
			"op":        "return",
			"reason":    "invalid-state",
			"passenger": int64(id),
		})
		return ErrInvalidState
	}
	p.ScanStatus = types.ScanPending
	p.QRData = nil
	c.normalizeLocked()
	list := c.snapshotLocked()
	c.mu.Unlock()

	c.sink.Emit(events.EventReturnClicked, map[string]any{
		"passenger": int64(id),
	})
	if c.callbacks.OnReturn != nil {
		c.callbacks.OnReturn(id)
	}
	c.fireUpdate(list)
	return nil
}

func (c *Controller) findLocked(id types.PassengerID) *types.Passenger {
	for _, p := range c.passengers {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (c *Controller) removeLocked(id types.PassengerID) {
	for i, p := range c.passengers {
		if p.ID == id {
			c.passengers = append(c.passengers[:i], c.passengers[i+1:]...)
			return
		}
	}
}

// normalizeLocked keeps the list in position order and recomputes IsFirst:
// true only for the pending passenger with the minimal queue position.
func (c *Controller) normalizeLocked() {
	sort.SliceStable(c.passengers, func(i, j int) bool {
		return c.passengers[i].QueuePosition < c.passengers[j].QueuePosition
	})
	next := c.nextPendingLocked()
	for _, p := range c.passengers {
		p.IsFirst = next != nil && p.ID == next.ID
	}
}

func (c *Controller) snapshotLocked() []types.Passenger {
	list := make([]types.Passenger, 0, len(c.passengers))
	for _, p := range c.passengers {
		cp := *p
		if p.QRData != nil {
			data := *p.QRData
			cp.QRData = &data
		}
		list = append(list, cp)
	}
	return list
}

func (c *Controller) fireUpdate(list []types.Passenger) {
	if c.callbacks.OnUpdate != nil {
		c.callbacks.OnUpdate(list)
	}
}
