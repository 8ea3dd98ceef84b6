package reauth

import "github.com/backkem/pico/pkg/session"

// Listener is notified of session state changes. Callbacks run on the
// session's goroutine after the change has been applied and must not call
// back into the engine synchronously.
type Listener interface {
	SessionPaused(s *session.Session)
	SessionContinued(s *session.Session)
	SessionStopped(s *session.Session)
	SessionError(s *session.Session)
	Tick(s *session.Session)
}

// NopListener ignores every notification.
type NopListener struct{}

// SessionPaused does nothing.
func (NopListener) SessionPaused(*session.Session) {}

// SessionContinued does nothing.
func (NopListener) SessionContinued(*session.Session) {}

// SessionStopped does nothing.
func (NopListener) SessionStopped(*session.Session) {}

// SessionError does nothing.
func (NopListener) SessionError(*session.Session) {}

// Tick does nothing.
func (NopListener) Tick(*session.Session) {}

// ListenerFuncs adapts optional functions to Listener.
type ListenerFuncs struct {
	OnPaused    func(*session.Session)
	OnContinued func(*session.Session)
	OnStopped   func(*session.Session)
	OnError     func(*session.Session)
	OnTick      func(*session.Session)
}

// SessionPaused calls OnPaused if set.
func (l ListenerFuncs) SessionPaused(s *session.Session) {
	if l.OnPaused != nil {
		l.OnPaused(s)
	}
}

// SessionContinued calls OnContinued if set.
func (l ListenerFuncs) SessionContinued(s *session.Session) {
	if l.OnContinued != nil {
		l.OnContinued(s)
	}
}

// SessionStopped calls OnStopped if set.
func (l ListenerFuncs) SessionStopped(s *session.Session) {
	if l.OnStopped != nil {
		l.OnStopped(s)
	}
}

// SessionError calls OnError if set.
func (l ListenerFuncs) SessionError(s *session.Session) {
	if l.OnError != nil {
		l.OnError(s)
	}
}

// Tick calls OnTick if set.
func (l ListenerFuncs) Tick(s *session.Session) {
	if l.OnTick != nil {
		l.OnTick(s)
	}
}

// notify delivers ev to l.
func notify(l Listener, ev session.Event, s *session.Session) {
	switch ev {
	case session.EventTick:
		l.Tick(s)
	case session.EventPaused:
		l.SessionPaused(s)
	case session.EventContinued:
		l.SessionContinued(s)
	case session.EventStopped:
		l.SessionStopped(s)
	case session.EventError:
		l.SessionError(s)
	}
}

var (
	_ Listener = NopListener{}
	_ Listener = ListenerFuncs{}
)
