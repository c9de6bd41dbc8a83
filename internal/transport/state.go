package transport

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseReconnecting
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// ConnState is the connection state of one adapter. Attempt counts the
// reconnects scheduled since the last successful open.
type ConnState struct {
	Phase   Phase
	Attempt int
}

func (s ConnState) String() string {
	if s.Phase == PhaseReconnecting {
		return fmt.Sprintf("reconnecting(%d)", s.Attempt)
	}
	return s.Phase.String()
}

type EventKind int

const (
	EventConnect EventKind = iota
	EventOpened
	EventClosed
	EventErrorOccurred
	EventManualDisconnect
)

// Event drives the state machine. Code is the close code for EventClosed.
type Event struct {
	Kind EventKind
	Code int
}

func Opened() Event { return Event{Kind: EventOpened} }
func Closed(code int) Event { return Event{Kind: EventClosed, Code: code} }
func ErrorOccurred() Event { return Event{Kind: EventErrorOccurred} }
func ManualDisconnect() Event { return Event{Kind: EventManualDisconnect} }
func ConnectRequested() Event { return Event{Kind: EventConnect} }

type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionDial
	ActionScheduleReconnect
	ActionGiveUp
)

// Action is what the adapter must do after a transition.
type Action struct {
	Kind    ActionKind
	Delay   time.Duration
	Attempt int
}

// CloseNormal is the WebSocket normal closure code.
const CloseNormal = 1000

// Machine is the reconnect state machine shared by the push adapters. It is
// not safe for concurrent use; adapters hold their own lock around Fire.
type Machine struct {
	state    ConnState
	schedule backoff.BackOff
}

// NewMachine returns a machine in the Disconnected state. schedule yields
// successive reconnect delays and backoff.Stop once the budget is spent.
func NewMachine(schedule backoff.BackOff) *Machine {
	schedule.Reset()
	return &Machine{schedule: schedule}
}

func (m *Machine) State() ConnState {
	return m.state
}

// Fire applies ev and returns the resulting action.
func (m *Machine) Fire(ev Event) Action {
	switch ev.Kind {
	case EventConnect:
		if m.state.Phase == PhaseConnecting || m.state.Phase == PhaseConnected {
			return Action{Kind: ActionNone}
		}
		// A manual connect starts a fresh reconnect budget.
		if m.state.Phase == PhaseDisconnected {
			m.schedule.Reset()
			m.state.Attempt = 0
		}
		m.state.Phase = PhaseConnecting
		return Action{Kind: ActionDial}

	case EventOpened:
		m.schedule.Reset()
		m.state = ConnState{Phase: PhaseConnected}
		return Action{Kind: ActionNone}

	case EventClosed:
		if m.state.Phase == PhaseDisconnected {
			return Action{Kind: ActionNone}
		}
		if ev.Code == CloseNormal {
			m.state = ConnState{Phase: PhaseDisconnected}
			return Action{Kind: ActionNone}
		}
		return m.retry()

	case EventErrorOccurred:
		if m.state.Phase == PhaseDisconnected {
			return Action{Kind: ActionNone}
		}
		return m.retry()

	case EventManualDisconnect:
		m.schedule.Reset()
		m.state = ConnState{Phase: PhaseDisconnected}
		return Action{Kind: ActionNone}
	}
	return Action{Kind: ActionNone}
}

func (m *Machine) retry() Action {
	delay := m.schedule.NextBackOff()
	if delay == backoff.Stop {
		m.state.Phase = PhaseDisconnected
		return Action{Kind: ActionGiveUp, Attempt: m.state.Attempt}
	}
	m.state.Attempt++
	m.state.Phase = PhaseReconnecting
	return Action{Kind: ActionScheduleReconnect, Delay: delay, Attempt: m.state.Attempt}
}
