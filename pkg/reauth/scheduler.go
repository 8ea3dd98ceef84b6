package reauth

import (
	"sort"
	"sync"
	"time"
)

// Timed is the target of a timer. Engines implement it; Fire posts a tick
// to the engine and must not block.
type Timed interface {
	Fire()
}

// Scheduler arms and cancels one timer per target. Setting a timer for a
// target that already has one replaces it.
type Scheduler interface {
	SetTimer(d time.Duration, t Timed)
	ClearTimer(t Timed)
}

// TimerScheduler is a Scheduler backed by time.AfterFunc.
type TimerScheduler struct {
	mu     sync.Mutex
	timers map[Timed]*time.Timer
}

// NewTimerScheduler creates a TimerScheduler.
func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{timers: make(map[Timed]*time.Timer)}
}

// SetTimer implements Scheduler.
func (s *TimerScheduler) SetTimer(d time.Duration, t Timed) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old := s.timers[t]; old != nil {
		old.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		current := s.timers[t] == timer
		if current {
			delete(s.timers, t)
		}
		s.mu.Unlock()
		// A timer replaced after it started firing must not tick.
		if current {
			t.Fire()
		}
	})
	s.timers[t] = timer
}

// ClearTimer implements Scheduler.
func (s *TimerScheduler) ClearTimer(t Timed) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer := s.timers[t]; timer != nil {
		timer.Stop()
		delete(s.timers, t)
	}
}

// Len returns the number of armed timers.
func (s *TimerScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// VirtualScheduler is a manually advanced Scheduler for tests. Time only
// moves on Advance, which fires due timers in deadline order.
type VirtualScheduler struct {
	mu     sync.Mutex
	now    time.Time
	timers map[Timed]time.Time
	sets   map[Timed]int
	clears map[Timed]int
}

// NewVirtualScheduler creates a VirtualScheduler whose clock starts at start.
func NewVirtualScheduler(start time.Time) *VirtualScheduler {
	return &VirtualScheduler{
		now:    start,
		timers: make(map[Timed]time.Time),
		sets:   make(map[Timed]int),
		clears: make(map[Timed]int),
	}
}

// SetTimer implements Scheduler.
func (v *VirtualScheduler) SetTimer(d time.Duration, t Timed) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.timers[t] = v.now.Add(d)
	v.sets[t]++
}

// ClearTimer implements Scheduler.
func (v *VirtualScheduler) ClearTimer(t Timed) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.timers, t)
	v.clears[t]++
}

// Now returns the virtual time.
func (v *VirtualScheduler) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// Advance moves the clock forward by d and fires every timer that came due.
func (v *VirtualScheduler) Advance(d time.Duration) {
	v.mu.Lock()
	v.now = v.now.Add(d)
	type due struct {
		t  Timed
		at time.Time
	}
	var fire []due
	for t, at := range v.timers {
		if !at.After(v.now) {
			fire = append(fire, due{t, at})
			delete(v.timers, t)
		}
	}
	v.mu.Unlock()

	sort.Slice(fire, func(i, j int) bool { return fire[i].at.Before(fire[j].at) })
	for _, f := range fire {
		f.t.Fire()
	}
}

// Deadline returns when t's timer fires, if armed.
func (v *VirtualScheduler) Deadline(t Timed) (time.Time, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	at, ok := v.timers[t]
	return at, ok
}

// SetCount returns how often SetTimer was called for t.
func (v *VirtualScheduler) SetCount(t Timed) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sets[t]
}

// ClearCount returns how often ClearTimer was called for t.
func (v *VirtualScheduler) ClearCount(t Timed) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.clears[t]
}

var (
	_ Scheduler = (*TimerScheduler)(nil)
	_ Scheduler = (*VirtualScheduler)(nil)
)
