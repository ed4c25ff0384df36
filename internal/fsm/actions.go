package fsm

import "github.com/librescoot/librefsm"

// Actions defines the callbacks the race lifecycle machine needs from the
// system. ShuttleSystem implements this interface.
type Actions interface {
	// State entry actions
	EnterOffline(c *librefsm.Context) error
	EnterWaitingStart(c *librefsm.Context) error
	EnterBoarding(c *librefsm.Context) error
	EnterInTransit(c *librefsm.Context) error
	EnterArrivedStop(c *librefsm.Context) error
	EnterFinished(c *librefsm.Context) error

	// State exit actions
	ExitBoarding(c *librefsm.Context) error

	// Guards
	CanDepartStop(c *librefsm.Context) bool // False while a boarding decision is outstanding
}
