package loop

import "time"

// MinInterval is the shortest reporting interval a Scheduler will arm.
// Shared buses (one-wire, PJLink over a slow link) do not tolerate faster polling.
const MinInterval = 5 * time.Second

// Scheduler owns at most one repeating timer.
type Scheduler struct {
	loop     *Loop
	timer    *Timer
	interval time.Duration
}

// NewScheduler creates an idle scheduler on l.
func NewScheduler(l *Loop) *Scheduler {
	return &Scheduler{loop: l}
}

// Install cancels any armed timer and arms a new one that calls fn every
// interval, clamped to MinInterval. It returns the interval actually used.
func (s *Scheduler) Install(interval time.Duration, fn func()) time.Duration {
	s.Cancel()
	s.interval = max(interval, MinInterval)
	s.timer = s.loop.Every(s.interval, fn)
	return s.interval
}

// Cancel stops the armed timer, if any.
func (s *Scheduler) Cancel() {
	if s.timer == nil {
		return
	}
	s.timer.Stop()
	s.timer = nil
}

// Active reports whether a timer is armed.
func (s *Scheduler) Active() bool {
	return s.timer != nil
}

// Interval returns the effective interval of the last Install.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}
