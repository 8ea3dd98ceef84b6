package reauth

import (
	"testing"
	"time"

	"github.com/backkem/pico/pkg/session"
)

func TestListenerFuncs(t *testing.T) {
	events := []session.Event{
		session.EventTick,
		session.EventPaused,
		session.EventContinued,
		session.EventStopped,
		session.EventError,
	}
	sess := session.New(1, nil, 1, session.StatusActive, time.Now())

	var got []session.Event
	record := func(ev session.Event) func(*session.Session) {
		return func(s *session.Session) {
			if s != sess {
				t.Errorf("%s: wrong session", ev)
			}
			got = append(got, ev)
		}
	}
	all := ListenerFuncs{
		OnTick:      record(session.EventTick),
		OnPaused:    record(session.EventPaused),
		OnContinued: record(session.EventContinued),
		OnStopped:   record(session.EventStopped),
		OnError:     record(session.EventError),
	}
	for _, ev := range events {
		notify(all, ev, sess)
	}
	if len(got) != len(events) {
		t.Fatalf("delivered %v, want %v", got, events)
	}
	for i := range events {
		if got[i] != events[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], events[i])
		}
	}

	got = nil
	partial := ListenerFuncs{OnStopped: record(session.EventStopped)}
	for _, ev := range events {
		notify(partial, ev, sess)
		notify(NopListener{}, ev, sess)
	}
	if len(got) != 1 || got[0] != session.EventStopped {
		t.Errorf("partial listener delivered %v, want [stopped]", got)
	}
}
