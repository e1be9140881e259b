package delivery

import (
	"log"
	"sync"
	"time"
)

var (
	supervisorInterval    = 5 * time.Second
	supervisorMaxAttempts = 5
)

type restartable interface {
	Start() error
	Stop()
}

// Supervisor owns a channel's recovery: on entry it ticks at a fixed interval,
// tearing down and recreating the channel's session each tick until either
// connectivity is observed restored or the attempt cap is hit. Past the cap
// the channel stays down until an external restart resets the counter. At most
// one supervision timer runs per channel.
type Supervisor struct {
	name      string
	ch        restartable
	connected func() bool
	onAttempt func(attempt int)
	onGiveUp  func()
	recovered func()

	mu       sync.Mutex
	attempts int
	running  bool
	quit     chan struct{}
}

// NewSupervisor wires a supervisor for ch. connected may observe recovery from
// any detection path, not just this supervisor's own restarts.
func NewSupervisor(name string, ch restartable, connected func() bool, onAttempt func(int), onGiveUp func(), recovered func()) *Supervisor {
	return &Supervisor{
		name:      name,
		ch:        ch,
		connected: connected,
		onAttempt: onAttempt,
		onGiveUp:  onGiveUp,
		recovered: recovered,
	}
}

// Begin enters supervision. A request while a timer is already running, or
// after the cap was exhausted, is a no-op.
func (s *Supervisor) Begin() {
	s.mu.Lock()
	if s.running || s.attempts >= supervisorMaxAttempts {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.quit = make(chan struct{})
	quit := s.quit
	s.mu.Unlock()
	go s.loop(quit)
}

func (s *Supervisor) loop(quit chan struct{}) {
	ticker := time.NewTicker(supervisorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
		}
		if s.connected() {
			s.NoteRecovered()
			return
		}
		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			return
		}
		s.attempts++
		attempt := s.attempts
		done := attempt >= supervisorMaxAttempts
		if done {
			s.running = false
		}
		s.mu.Unlock()

		if s.onAttempt != nil {
			s.onAttempt(attempt)
		}
		s.ch.Stop()
		if err := s.ch.Start(); err != nil {
			log.Printf("%s restart attempt %d: %v", s.name, attempt, err)
		}
		if done {
			log.Printf("%s reconnection exhausted after %d attempts", s.name, attempt)
			if s.onGiveUp != nil {
				s.onGiveUp()
			}
			return
		}
	}
}

// NoteRecovered cancels the timer and zeroes the counter. Safe to call from
// any recovery-detection path, supervised restart or otherwise.
func (s *Supervisor) NoteRecovered() {
	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.attempts = 0
	if wasRunning && s.quit != nil {
		close(s.quit)
		s.quit = nil
	}
	s.mu.Unlock()
	if wasRunning && s.recovered != nil {
		s.recovered()
	}
}

// Reset zeroes the attempt counter for an explicit external restart.
func (s *Supervisor) Reset() {
	s.mu.Lock()
	s.attempts = 0
	s.mu.Unlock()
}

// Cancel stops the timer without touching the counter.
func (s *Supervisor) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running && s.quit != nil {
		close(s.quit)
		s.quit = nil
	}
	s.running = false
}

// Attempts reports the current counter, for state display.
func (s *Supervisor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}
