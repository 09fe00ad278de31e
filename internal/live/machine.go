package live

import (
	"errors"
	"fmt"
	"time"

	"github.com/nhle/hrnotify/internal/hrms"
	"github.com/nhle/hrnotify/internal/model"
)

// State is the lifecycle state of the push channel.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateBackoff
	// StateTerminal is Idle after retries ran out. Only an explicit
	// Activate leaves it.
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	case StateTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Active reports whether the channel holds a transport or a pending retry.
func (s State) Active() bool {
	return s == StateConnecting || s == StateConnected || s == StateBackoff
}

// Input drives the machine.
type Input interface {
	input()
}

type (
	// Activate starts the channel from Idle or Terminal.
	Activate struct{}
	// Deactivate stops the channel from any state.
	Deactivate struct{}
	// Received is a decoded event from the current transport.
	Received struct{ Event Event }
	// Failed is a transport error or end of stream.
	Failed struct{ Err error }
	// RetryDue fires when the reconnect delay elapses.
	RetryDue struct{}
)

func (Activate) input()   {}
func (Deactivate) input() {}
func (Received) input()   {}
func (Failed) input()     {}
func (RetryDue) input()   {}

// Effect is an action the driver must perform after a transition.
type Effect interface {
	effect()
}

type (
	OpenTransport  struct{}
	CloseTransport struct{}
	ScheduleRetry  struct {
		Delay   time.Duration
		Attempt int
	}
	CancelRetry         struct{}
	LogConnected        struct{}
	DeliverNotification struct{ Notification model.Notification }
	DeliverUnreadCount  struct{ Count int }
	DropEvent           struct{ Event Malformed }
	ReportFailure       struct{ Err error }
)

func (OpenTransport) effect()       {}
func (CloseTransport) effect()      {}
func (ScheduleRetry) effect()       {}
func (CancelRetry) effect()         {}
func (LogConnected) effect()        {}
func (DeliverNotification) effect() {}
func (DeliverUnreadCount) effect()  {}
func (DropEvent) effect()           {}
func (ReportFailure) effect()       {}

// Policy is the fixed-delay reconnection policy.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultPolicy retries five times, three seconds apart.
var DefaultPolicy = Policy{MaxAttempts: 5, Delay: 3 * time.Second}

// GiveUpError is reported once when reconnection attempts are exhausted.
type GiveUpError struct {
	Attempts int
	Err      error
}

func (e *GiveUpError) Error() string {
	return fmt.Sprintf("live channel gave up after %d reconnect attempts: %v", e.Attempts, e.Err)
}

func (e *GiveUpError) Unwrap() error { return e.Err }

// Machine is the pure transition function of the push channel. It owns no
// goroutines, timers or connections; the driver executes its effects.
type Machine struct {
	policy   Policy
	state    State
	attempts int
}

// NewMachine returns a machine in StateIdle.
func NewMachine(p Policy) *Machine {
	return &Machine{policy: p}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Attempts returns the reconnect-attempt counter.
func (m *Machine) Attempts() int { return m.attempts }

// Step applies one input and returns the effects to run, in order. Inputs
// that do not apply to the current state produce no effects.
func (m *Machine) Step(in Input) []Effect {
	switch in := in.(type) {
	case Activate:
		if m.state.Active() {
			return nil
		}
		m.attempts = 0
		m.state = StateConnecting
		return []Effect{OpenTransport{}}

	case Deactivate:
		prev := m.state
		m.state = StateIdle
		m.attempts = 0
		switch prev {
		case StateConnecting, StateConnected:
			return []Effect{CloseTransport{}}
		case StateBackoff:
			return []Effect{CancelRetry{}}
		}
		return nil

	case Received:
		if m.state != StateConnecting && m.state != StateConnected {
			return nil
		}
		return m.receive(in.Event)

	case Failed:
		if m.state != StateConnecting && m.state != StateConnected {
			return nil
		}
		return m.fail(in.Err)

	case RetryDue:
		if m.state != StateBackoff {
			return nil
		}
		m.state = StateConnecting
		return []Effect{OpenTransport{}}
	}
	return nil
}

func (m *Machine) receive(ev Event) []Effect {
	switch ev := ev.(type) {
	case Connected:
		m.state = StateConnected
		m.attempts = 0
		return []Effect{LogConnected{}}
	case NewNotification:
		return []Effect{DeliverNotification{Notification: ev.Notification}}
	case UnreadCountUpdate:
		return []Effect{DeliverUnreadCount{Count: ev.Count}}
	case Malformed:
		return []Effect{DropEvent{Event: ev}}
	}
	return nil
}

func (m *Machine) fail(err error) []Effect {
	if err == nil {
		err = ErrStreamClosed
	}

	if hrms.IsAuthError(err) || errors.Is(err, ErrNotAuthenticated) {
		m.state = StateTerminal
		return []Effect{CloseTransport{}, ReportFailure{Err: err}}
	}

	if m.attempts < m.policy.MaxAttempts {
		m.attempts++
		m.state = StateBackoff
		return []Effect{
			CloseTransport{},
			ScheduleRetry{Delay: m.policy.Delay, Attempt: m.attempts},
		}
	}

	m.state = StateTerminal
	return []Effect{
		CloseTransport{},
		ReportFailure{Err: &GiveUpError{Attempts: m.attempts, Err: err}},
	}
}
