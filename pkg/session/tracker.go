package session

import (
	"time"

	"github.com/pion/logging"
)

// Recorder receives lifecycle events from an engine. The engine owns the
// Session pointer and calls Record from a single goroutine.
type Recorder interface {
	Record(s *Session, ev Event, cause Error) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(s *Session, ev Event, cause Error) error

// Record calls f.
func (f RecorderFunc) Record(s *Session, ev Event, cause Error) error {
	return f(s, ev, cause)
}

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	// Store persists every applied event. Nil applies events in memory only.
	Store Store

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time

	// LoggerFactory for creating loggers. Nil disables logging.
	LoggerFactory logging.LoggerFactory
}

// Tracker is the Recorder that applies events to the Session record and
// persists the result.
type Tracker struct {
	store Store
	clock func() time.Time
	log   logging.LeveledLogger
}

// NewTracker creates a Tracker.
func NewTracker(config TrackerConfig) *Tracker {
	t := &Tracker{
		store: config.Store,
		clock: config.Clock,
	}
	if t.clock == nil {
		t.clock = time.Now
	}
	if config.LoggerFactory != nil {
		t.log = config.LoggerFactory.NewLogger("session")
	}
	return t
}

// Record applies ev to s and saves it.
func (t *Tracker) Record(s *Session, ev Event, cause Error) error {
	if err := s.Apply(ev, cause, t.clock()); err != nil {
		return err
	}
	if t.log != nil {
		if ev == EventError {
			t.log.Warnf("%s: %s (%s)", s, ev, s.Error)
		} else {
			t.log.Debugf("%s: %s", s, ev)
		}
	}
	if t.store == nil {
		return nil
	}
	return t.store.SaveSession(s)
}

var _ Recorder = (*Tracker)(nil)
