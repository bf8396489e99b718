package feed

import (
	"context"

	"github.com/qmuntal/stateless"
)

type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateLive       State = "live"
	StateBackoff    State = "backoff"
	StateClosed     State = "closed"
)

type trigger string

const (
	triggerDial      trigger = "dial"
	triggerConnected trigger = "connected"
	triggerFailed    trigger = "failed"
	triggerAbort     trigger = "abort"
	triggerDropped   trigger = "dropped"
	triggerRetry     trigger = "retry"
	triggerClose     trigger = "close"
)

// newStateMachine models the connection lifecycle:
//
//	idle -> connecting -> live -> backoff -> connecting ... -> closed
func newStateMachine(c *Client) *stateless.StateMachine {
	sm := stateless.NewStateMachine(StateIdle)

	sm.Configure(StateIdle).
		Permit(triggerDial, StateConnecting).
		Permit(triggerClose, StateClosed)

	sm.Configure(StateConnecting).
		Permit(triggerConnected, StateLive).
		Permit(triggerFailed, StateBackoff).
		Permit(triggerAbort, StateIdle).
		Permit(triggerClose, StateClosed)

	sm.Configure(StateLive).
		Permit(triggerDropped, StateBackoff).
		Permit(triggerClose, StateClosed)

	sm.Configure(StateBackoff).
		Permit(triggerRetry, StateConnecting).
		Permit(triggerClose, StateClosed)

	sm.Configure(StateClosed).
		Permit(triggerDial, StateConnecting).
		Ignore(triggerClose)

	sm.OnTransitioned(func(_ context.Context, t stateless.Transition) {
		c.logger.Debug("feed state", "from", t.Source, "to", t.Destination, "trigger", t.Trigger)
		if c.onState != nil {
			c.onState(t.Destination.(State))
		}
	})
	return sm
}
