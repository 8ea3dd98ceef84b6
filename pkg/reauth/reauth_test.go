package reauth

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/backkem/pico/pkg/message"
	"github.com/backkem/pico/pkg/session"
)

const (
	testTimeout = 10 * time.Second
	testGrace   = 5 * time.Second
	testWait    = 2 * time.Second
)

// eventListener records events on a channel.
type eventListener struct {
	events chan session.Event
}

func newEventListener() *eventListener {
	return &eventListener{events: make(chan session.Event, 64)}
}

func (l *eventListener) SessionPaused(*session.Session)    { l.events <- session.EventPaused }
func (l *eventListener) SessionContinued(*session.Session) { l.events <- session.EventContinued }
func (l *eventListener) SessionStopped(*session.Session)   { l.events <- session.EventStopped }
func (l *eventListener) SessionError(*session.Session)     { l.events <- session.EventError }
func (l *eventListener) Tick(*session.Session)             { l.events <- session.EventTick }

func (l *eventListener) expect(t *testing.T, want session.Event) {
	t.Helper()
	select {
	case got := <-l.events:
		if got != want {
			t.Fatalf("event = %s, want %s", got, want)
		}
	case <-time.After(testWait):
		t.Fatalf("timed out waiting for %s", want)
	}
}

func (l *eventListener) expectNone(t *testing.T) {
	t.Helper()
	select {
	case got := <-l.events:
		t.Fatalf("unexpected event %s", got)
	case <-time.After(50 * time.Millisecond):
	}
}

type fixture struct {
	sched    *VirtualScheduler
	service  *Service
	verifier *Verifier
	prover   *Prover
	pEvents  *eventListener
	vEvents  *eventListener
}

// newFixture builds a prover and a service sharing one session key. wrap may
// interpose on the channel between them.
func newFixture(t *testing.T, status session.Status, wrap func(Channel) Channel) *fixture {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	now := time.Unix(1_000_000, 0)

	f := &fixture{
		sched:   NewVirtualScheduler(now),
		pEvents: newEventListener(),
		vEvents: newEventListener(),
	}
	f.service = NewService(ServiceConfig{
		Scheduler: f.sched,
		Timeout:   testTimeout,
		Grace:     testGrace,
		Listener:  f.vEvents,
		Clock:     f.sched.Now,
	})
	v, err := f.service.Add(session.New(0x1234, key, 1, status, now))
	if err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	f.verifier = v

	var ch Channel = f.service
	if wrap != nil {
		ch = wrap(ch)
	}
	p, err := NewProver(ProverConfig{
		Session:   session.New(0x1234, key, 1, status, now),
		Channel:   ch,
		Scheduler: f.sched,
		Listener:  f.pEvents,
		Recorder:  session.NewTracker(session.TrackerConfig{Clock: f.sched.Now}),
	})
	if err != nil {
		t.Fatalf("NewProver() failed: %v", err)
	}
	f.prover = p
	t.Cleanup(func() {
		p.Close()
		f.service.Close()
	})
	return f
}

// round advances virtual time to the prover's next tick and waits for both
// sides to finish it.
func (f *fixture) round(t *testing.T) {
	t.Helper()
	at, ok := f.sched.Deadline(f.prover)
	if !ok {
		t.Fatal("prover timer not armed")
	}
	f.sched.Advance(at.Sub(f.sched.Now()))
	f.vEvents.expect(t, session.EventTick)
	f.pEvents.expect(t, session.EventTick)
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.prover.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	f.vEvents.expect(t, session.EventTick)
	f.pEvents.expect(t, session.EventTick)
}

func TestContinuous_Rounds(t *testing.T) {
	f := newFixture(t, session.StatusActive, nil)
	f.start(t)

	at, ok := f.sched.Deadline(f.prover)
	if !ok || at.Sub(f.sched.Now()) != testTimeout {
		t.Fatalf("prover timer = %v, %v; want now+%s", at, ok, testTimeout)
	}
	if at, ok := f.sched.Deadline(f.verifier); !ok || at.Sub(f.sched.Now()) != testTimeout+testGrace {
		t.Fatalf("verifier timer = %v, %v; want now+%s", at, ok, testTimeout+testGrace)
	}

	for i := 0; i < 5; i++ {
		f.round(t)
	}

	if f.prover.State() != session.StatusActive || f.verifier.State() != session.StatusActive {
		t.Errorf("states = %s/%s, want Active", f.prover.State(), f.verifier.State())
	}
	if got := f.verifier.Session().LastAuthDate; !got.Equal(f.sched.Now()) {
		t.Errorf("verifier LastAuthDate = %v, want %v", got, f.sched.Now())
	}
	if got := f.prover.Session().LastAuthDate; !got.Equal(f.sched.Now()) {
		t.Errorf("prover LastAuthDate = %v, want %v", got, f.sched.Now())
	}
}

func TestContinuous_PauseResume(t *testing.T) {
	f := newFixture(t, session.StatusActive, nil)
	f.start(t)

	if err := f.prover.Pause(); err != nil {
		t.Fatalf("Pause() failed: %v", err)
	}
	f.pEvents.expect(t, session.EventPaused)
	f.vEvents.expect(t, session.EventPaused)
	if f.prover.State() != session.StatusPaused || f.verifier.State() != session.StatusPaused {
		t.Fatalf("states = %s/%s, want Paused", f.prover.State(), f.verifier.State())
	}
	if _, ok := f.sched.Deadline(f.prover); ok {
		t.Error("paused prover still has a timer")
	}
	if _, ok := f.sched.Deadline(f.verifier); ok {
		t.Error("paused verifier still has a liveness timer")
	}

	// Nothing happens while paused, however long.
	f.sched.Advance(24 * time.Hour)
	f.pEvents.expectNone(t)
	f.vEvents.expectNone(t)

	if err := f.prover.Pause(); err != nil {
		t.Errorf("second Pause() failed: %v", err)
	}

	if err := f.prover.Resume(); err != nil {
		t.Fatalf("Resume() failed: %v", err)
	}
	f.vEvents.expect(t, session.EventContinued)
	f.pEvents.expect(t, session.EventContinued)
	f.round(t)
}

func TestContinuous_StartPaused(t *testing.T) {
	f := newFixture(t, session.StatusPaused, nil)
	if err := f.prover.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	f.pEvents.expectNone(t)
	if _, ok := f.sched.Deadline(f.verifier); ok {
		t.Error("paused session armed a liveness timer")
	}

	if err := f.prover.Resume(); err != nil {
		t.Fatalf("Resume() failed: %v", err)
	}
	f.vEvents.expect(t, session.EventContinued)
	f.pEvents.expect(t, session.EventContinued)
}

func TestContinuous_Stop(t *testing.T) {
	f := newFixture(t, session.StatusActive, nil)
	f.start(t)
	f.round(t)

	clears := f.sched.ClearCount(f.prover)
	if err := f.prover.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if got := f.sched.ClearCount(f.prover) - clears; got != 1 {
		t.Errorf("Stop() cleared the timer %d times, want 1", got)
	}
	f.vEvents.expect(t, session.EventStopped)
	f.pEvents.expect(t, session.EventStopped)

	ps, vs := f.prover.Session(), f.verifier.Session()
	if ps.Status != session.StatusClosed || vs.Status != session.StatusClosed {
		t.Errorf("states = %s/%s, want Closed", ps.Status, vs.Status)
	}
	if ps.SecretKey != nil || vs.SecretKey != nil {
		t.Error("session key not released")
	}
	if f.service.Len() != 0 {
		t.Errorf("service still holds %d sessions", f.service.Len())
	}

	// Stale ticks and repeated stops are ignored.
	f.prover.Tick()
	f.sched.Advance(time.Hour)
	f.pEvents.expectNone(t)
	if err := f.prover.Stop(); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("second Stop() = %v, want ErrSessionClosed", err)
	}
	if got := f.sched.ClearCount(f.prover) - clears; got != 1 {
		t.Errorf("timer cleared %d times in total, want 1", got)
	}
}

func TestContinuous_StopWithoutVerifier(t *testing.T) {
	f := newFixture(t, session.StatusActive, nil)
	f.start(t)
	f.service.Close()

	clears := f.sched.ClearCount(f.prover)
	if err := f.prover.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	f.pEvents.expect(t, session.EventStopped)
	if f.prover.State() != session.StatusClosed {
		t.Errorf("State() = %s, want Closed", f.prover.State())
	}
	if got := f.sched.ClearCount(f.prover) - clears; got != 1 {
		t.Errorf("timer cleared %d times, want 1", got)
	}
}

func TestContinuous_VerifierPauseAndStop(t *testing.T) {
	f := newFixture(t, session.StatusActive, nil)
	f.start(t)

	if err := f.verifier.Pause(); err != nil {
		t.Fatalf("verifier Pause() failed: %v", err)
	}
	f.sched.Advance(testTimeout)
	f.vEvents.expect(t, session.EventPaused)
	f.pEvents.expect(t, session.EventPaused)

	if err := f.prover.Resume(); err != nil {
		t.Fatalf("Resume() failed: %v", err)
	}
	f.vEvents.expect(t, session.EventContinued)
	f.pEvents.expect(t, session.EventContinued)

	if err := f.verifier.Stop(); err != nil {
		t.Fatalf("verifier Stop() failed: %v", err)
	}
	at, ok := f.sched.Deadline(f.prover)
	if !ok {
		t.Fatal("prover timer not armed")
	}
	f.sched.Advance(at.Sub(f.sched.Now()))
	f.vEvents.expect(t, session.EventStopped)
	f.pEvents.expect(t, session.EventStopped)
	if f.prover.State() != session.StatusClosed {
		t.Errorf("State() = %s, want Closed", f.prover.State())
	}
}

func TestContinuous_VerifierStopWhilePaused(t *testing.T) {
	f := newFixture(t, session.StatusActive, nil)
	f.start(t)

	if err := f.prover.Pause(); err != nil {
		t.Fatalf("Pause() failed: %v", err)
	}
	f.pEvents.expect(t, session.EventPaused)
	f.vEvents.expect(t, session.EventPaused)

	// Pausing a paused session changes nothing.
	if err := f.verifier.Pause(); err != nil {
		t.Fatalf("verifier Pause() failed: %v", err)
	}
	f.vEvents.expectNone(t)

	if err := f.verifier.Stop(); err != nil {
		t.Fatalf("verifier Stop() failed: %v", err)
	}
	f.vEvents.expect(t, session.EventStopped)
	vs := f.verifier.Session()
	if vs.Status != session.StatusClosed || vs.SecretKey != nil {
		t.Errorf("verifier session = %s, key released = %v", vs.Status, vs.SecretKey == nil)
	}
	if f.service.Len() != 0 {
		t.Errorf("service still holds %d sessions", f.service.Len())
	}
	if err := f.verifier.Stop(); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("second verifier Stop() = %v, want ErrSessionClosed", err)
	}

	// The prover learns of it when it resumes.
	if err := f.prover.Resume(); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Resume() = %v, want ErrSessionClosed", err)
	}
	f.pEvents.expect(t, session.EventError)
	if ps := f.prover.Session(); ps.Error != session.ErrorIOException {
		t.Errorf("prover error = %s, want IOException", ps.Error)
	}
}

func TestContinuous_IOError(t *testing.T) {
	fail := make(chan struct{})
	f := newFixture(t, session.StatusActive, func(next Channel) Channel {
		return ChannelFunc(func(ctx context.Context, m *message.EncPicoReauthMessage) (*message.EncServiceReauthMessage, error) {
			select {
			case <-fail:
				return nil, errors.New("connection reset")
			default:
				return next.Reauth(ctx, m)
			}
		})
	})
	f.start(t)
	close(fail)

	f.sched.Advance(testTimeout)
	f.pEvents.expect(t, session.EventError)
	s := f.prover.Session()
	if s.Status != session.StatusError || s.Error != session.ErrorIOException {
		t.Errorf("prover = %s/%s, want Error/IOException", s.Status, s.Error)
	}
	if s.SecretKey != nil {
		t.Error("errored session kept its key")
	}

	// The verifier notices the silence.
	f.sched.Advance(testGrace)
	f.vEvents.expect(t, session.EventError)
	vs := f.verifier.Session()
	if vs.Status != session.StatusError || vs.Error != session.ErrorIOException {
		t.Errorf("verifier = %s/%s, want Error/IOException", vs.Status, vs.Error)
	}
	if f.service.Len() != 0 {
		t.Error("expired session still in table")
	}
}

// replayChannel forwards rounds and can swap in a previously seen message or reply.
type replayChannel struct {
	next Channel

	mu            sync.Mutex
	firstRequest  *message.EncPicoReauthMessage
	firstReply    *message.EncServiceReauthMessage
	replayRequest bool
	replayReply   bool
	corruptReply  bool
}

func (r *replayChannel) Reauth(ctx context.Context, m *message.EncPicoReauthMessage) (*message.EncServiceReauthMessage, error) {
	r.mu.Lock()
	if r.firstRequest == nil {
		r.firstRequest = m
	}
	if r.replayRequest {
		m = r.firstRequest
	}
	r.mu.Unlock()

	reply, err := r.next.Reauth(ctx, m)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.firstReply == nil {
		r.firstReply = reply
	}
	if r.replayReply {
		return r.firstReply, nil
	}
	if r.corruptReply {
		c := *reply
		c.Ciphertext = bytes.Clone(c.Ciphertext)
		c.Ciphertext[0] ^= 0x01
		return &c, nil
	}
	return reply, nil
}

func TestContinuous_ReplayedRequest(t *testing.T) {
	var rc *replayChannel
	f := newFixture(t, session.StatusActive, func(next Channel) Channel {
		rc = &replayChannel{next: next}
		return rc
	})
	f.start(t)
	f.round(t)

	rc.mu.Lock()
	rc.replayRequest = true
	rc.mu.Unlock()
	f.sched.Advance(testTimeout)

	f.vEvents.expect(t, session.EventError)
	f.pEvents.expect(t, session.EventError)
	if vs := f.verifier.Session(); vs.Error != session.ErrorServiceAuthenticationFailure {
		t.Errorf("verifier error = %s, want ServiceAuthenticationFailure", vs.Error)
	}
	if ps := f.prover.Session(); ps.Error != session.ErrorServiceReportedError {
		t.Errorf("prover error = %s, want ServiceReportedError", ps.Error)
	}
}

func TestContinuous_ReplayedReply(t *testing.T) {
	var rc *replayChannel
	f := newFixture(t, session.StatusActive, func(next Channel) Channel {
		rc = &replayChannel{next: next}
		return rc
	})
	f.start(t)

	rc.mu.Lock()
	rc.replayReply = true
	rc.mu.Unlock()
	f.sched.Advance(testTimeout)

	f.vEvents.expect(t, session.EventTick)
	f.pEvents.expect(t, session.EventError)
	if ps := f.prover.Session(); ps.Error != session.ErrorServiceAuthenticationFailure {
		t.Errorf("prover error = %s, want ServiceAuthenticationFailure", ps.Error)
	}
}

func TestContinuous_CorruptedReply(t *testing.T) {
	var rc *replayChannel
	f := newFixture(t, session.StatusActive, func(next Channel) Channel {
		rc = &replayChannel{next: next}
		return rc
	})
	f.start(t)

	rc.mu.Lock()
	rc.corruptReply = true
	rc.mu.Unlock()
	f.sched.Advance(testTimeout)

	f.vEvents.expect(t, session.EventTick)
	f.pEvents.expect(t, session.EventError)
	if ps := f.prover.Session(); ps.Error != session.ErrorServiceAuthenticationFailure {
		t.Errorf("prover error = %s, want ServiceAuthenticationFailure", ps.Error)
	}
}

// TestContinuous_ConcurrentTicks fires many ticks at once; every accepted
// round must keep both sides' sequence numbers in step.
func TestContinuous_ConcurrentTicks(t *testing.T) {
	f := newFixture(t, session.StatusActive, nil)
	f.start(t)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.prover.Tick()
		}()
	}
	wg.Wait()

	// Pause is queued behind the ticks and only succeeds if the sequence
	// state is still consistent.
	if err := f.prover.Pause(); err != nil {
		t.Fatalf("Pause() failed: %v", err)
	}
	if f.prover.State() != session.StatusPaused || f.verifier.State() != session.StatusPaused {
		t.Errorf("states = %s/%s, want Paused", f.prover.State(), f.verifier.State())
	}
}

func TestVerifier_LivenessTimeout(t *testing.T) {
	f := newFixture(t, session.StatusActive, nil)

	f.sched.Advance(testTimeout + testGrace - time.Second)
	f.vEvents.expectNone(t)

	f.sched.Advance(time.Second)
	f.vEvents.expect(t, session.EventError)
	if vs := f.verifier.Session(); vs.Error != session.ErrorIOException {
		t.Errorf("error = %s, want IOException", vs.Error)
	}
	if err := f.prover.Start(); err != nil {
		t.Fatal(err)
	}
	f.pEvents.expect(t, session.EventError)
	if ps := f.prover.Session(); ps.Error != session.ErrorIOException {
		t.Errorf("prover error = %s, want IOException (unknown session)", ps.Error)
	}
}

func TestService_Table(t *testing.T) {
	sched := NewVirtualScheduler(time.Unix(0, 0))
	svc := NewService(ServiceConfig{Scheduler: sched, Clock: sched.Now})
	defer svc.Close()

	key := make([]byte, 32)
	if _, err := svc.Add(session.New(1, key, 0, session.StatusActive, sched.Now())); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Add(session.New(1, key, 0, session.StatusActive, sched.Now())); !errors.Is(err, ErrDuplicateSession) {
		t.Errorf("duplicate: error = %v, want ErrDuplicateSession", err)
	}
	if _, err := svc.Add(session.New(2, key[:16], 0, session.StatusActive, sched.Now())); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("short key: error = %v, want ErrInvalidConfig", err)
	}
	if svc.Len() != 1 {
		t.Errorf("Len() = %d, want 1", svc.Len())
	}

	unknown := &message.EncPicoReauthMessage{Envelope: message.Envelope{SessionID: 99}}
	if _, err := svc.Handle(context.Background(), unknown); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("unknown: error = %v, want ErrUnknownSession", err)
	}
}

func TestProver_Config(t *testing.T) {
	sched := NewVirtualScheduler(time.Unix(0, 0))
	key := make([]byte, 32)
	ch := ChannelFunc(func(context.Context, *message.EncPicoReauthMessage) (*message.EncServiceReauthMessage, error) {
		return nil, errors.New("unused")
	})
	tests := []struct {
		name   string
		config ProverConfig
	}{
		{"no session", ProverConfig{Channel: ch, Scheduler: sched}},
		{"no channel", ProverConfig{Session: session.New(1, key, 0, session.StatusActive, time.Time{}), Scheduler: sched}},
		{"no scheduler", ProverConfig{Session: session.New(1, key, 0, session.StatusActive, time.Time{}), Channel: ch}},
		{"short key", ProverConfig{Session: session.New(1, key[:8], 0, session.StatusActive, time.Time{}), Channel: ch, Scheduler: sched}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewProver(tc.config); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error = %v, want ErrInvalidConfig", err)
			}
		})
	}

	p, err := NewProver(ProverConfig{Session: session.New(1, key, 0, session.StatusActive, time.Time{}), Channel: ch, Scheduler: sched})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Pause(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Pause() before Start = %v, want ErrNotStarted", err)
	}
	p.Close()
}
