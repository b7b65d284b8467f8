package chatsync

import (
	"context"

	"github.com/qmuntal/stateless"

	"github.com/comigor/chatsync-go/internal/transport"
)

// FSM Triggers
type statusTrigger string

const (
	triggerOpened statusTrigger = "TransportOpened"
	triggerClosed statusTrigger = "TransportClosed"
)

// newStatusMachine builds the connection status machine:
//
//	connecting -> online | offline
//	online <-> offline
//
// There is no terminal state. enter runs on every transition into online or offline.
func newStatusMachine(enter func(ctx context.Context, status transport.Status)) *stateless.StateMachine {
	fsm := stateless.NewStateMachine(transport.StatusConnecting)

	onEntry := func(status transport.Status) func(context.Context, ...any) error {
		return func(ctx context.Context, _ ...any) error {
			enter(ctx, status)
			return nil
		}
	}

	fsm.Configure(transport.StatusConnecting).
		Permit(triggerOpened, transport.StatusOnline).
		Permit(triggerClosed, transport.StatusOffline)

	fsm.Configure(transport.StatusOnline).
		OnEntry(onEntry(transport.StatusOnline)).
		Permit(triggerClosed, transport.StatusOffline).
		Ignore(triggerOpened)

	fsm.Configure(transport.StatusOffline).
		OnEntry(onEntry(transport.StatusOffline)).
		Permit(triggerOpened, transport.StatusOnline).
		Ignore(triggerClosed)

	return fsm
}

// triggerFor maps an adapter status event to a machine trigger.
func triggerFor(status transport.Status) (statusTrigger, bool) {
	switch status {
	case transport.StatusOnline:
		return triggerOpened, true
	case transport.StatusOffline:
		return triggerClosed, true
	}
	return "", false
}
