package session

import (
	"fmt"
	"time"
)

// Event is a lifecycle notification raised by the continuous authentication
// engine.
type Event uint8

const (
	// EventTick is raised after every successful round.
	EventTick Event = iota
	// EventPaused is raised when the session moves to Paused.
	EventPaused
	// EventContinued is raised when the session moves (back) to Active.
	EventContinued
	// EventStopped is raised when the session is closed.
	EventStopped
	// EventError is raised when the session fails.
	EventError
)

// String returns a human-readable name.
func (e Event) String() string {
	switch e {
	case EventTick:
		return "Tick"
	case EventPaused:
		return "Paused"
	case EventContinued:
		return "Continued"
	case EventStopped:
		return "Stopped"
	case EventError:
		return "Error"
	default:
		return fmt.Sprintf("Event(%d)", uint8(e))
	}
}

// Apply maps an engine event onto the session record.
//
//	Tick       last auth date = now
//	Continued  Active, last auth date = now
//	Paused     Paused
//	Stopped    Closed, key and auth token released
//	Error      Error(cause), key and auth token released
//
// cause is only read for EventError; ErrorNone is recorded as ErrorIOException
// so an errored session always carries a cause. Events on a terminal session
// are ignored.
func (s *Session) Apply(ev Event, cause Error, now time.Time) error {
	if s.Status.IsTerminal() {
		return nil
	}
	switch ev {
	case EventTick:
		return s.SetLastAuthDate(now, now)
	case EventContinued:
		s.Status = StatusActive
		return s.SetLastAuthDate(now, now)
	case EventPaused:
		s.Status = StatusPaused
	case EventStopped:
		s.Status = StatusClosed
		s.ReleaseKey()
	case EventError:
		if !cause.IsValid() {
			return fmt.Errorf("%w: %s", ErrInvalidError, cause)
		}
		if cause == ErrorNone {
			cause = ErrorIOException
		}
		s.Status = StatusError
		s.Error = cause
		s.ReleaseKey()
	default:
		return fmt.Errorf("%w: %s", ErrInvalidEvent, ev)
	}
	return nil
}
