// Package loop runs every piece of controller state on one goroutine.
//
// Device records, the registry and the controller record are only touched
// from tasks executed by a Loop. Other goroutines (MQTT callbacks, GPIO edge
// handlers, subprocesses, network calls) hand their results back with Post.
// Timers are kept by the loop itself so that firing order is deterministic:
// earliest deadline first, ties broken by registration order.
package loop

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"
)

// Loop is a single-goroutine task executor with its own timer queue.
type Loop struct {
	clock  Clock
	logger *slog.Logger

	mu     sync.Mutex
	posted []func()
	timers timerHeap
	seq    uint64

	wake chan struct{}
}

// New creates a loop driven by clock.
func New(clock Clock, logger *slog.Logger) *Loop {
	return &Loop{
		clock:  clock,
		logger: logger.With("component", "loop"),
		wake:   make(chan struct{}, 1),
	}
}

// Clock returns the loop's clock.
func (l *Loop) Clock() Clock {
	return l.clock
}

// Post queues fn to run on the loop goroutine. Safe for concurrent use.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.posted = append(l.posted, fn)
	l.mu.Unlock()
	l.signal()
}

// After runs fn once, d from now.
func (l *Loop) After(d time.Duration, fn func()) *Timer {
	return l.schedule(d, 0, fn)
}

// Every runs fn repeatedly with period d. The first run is d from now.
func (l *Loop) Every(d time.Duration, fn func()) *Timer {
	if d <= 0 {
		d = time.Millisecond
	}
	return l.schedule(d, d, fn)
}

func (l *Loop) schedule(d, period time.Duration, fn func()) *Timer {
	l.mu.Lock()
	l.seq++
	t := &Timer{
		loop:   l,
		when:   l.clock.Now().Add(d),
		period: period,
		fn:     fn,
		seq:    l.seq,
		index:  -1,
	}
	heap.Push(&l.timers, t)
	l.mu.Unlock()
	l.signal()
	return t
}

// Live returns the number of armed timers.
func (l *Loop) Live() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timers)
}

// Drain runs posted tasks and due timers until nothing is runnable and
// returns how many tasks ran. Posted tasks run before timers.
func (l *Loop) Drain() int {
	n := 0
	for {
		fn := l.next()
		if fn == nil {
			return n
		}
		l.run(fn)
		n++
	}
}

// Run executes tasks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.Drain()

		var timerC <-chan time.Time
		var timer *time.Timer
		if wait, ok := l.untilNext(); ok {
			timer = time.NewTimer(wait)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case <-l.wake:
		case <-timerC:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (l *Loop) next() func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.posted) > 0 {
		fn := l.posted[0]
		l.posted[0] = nil
		l.posted = l.posted[1:]
		return fn
	}
	if len(l.timers) == 0 {
		return nil
	}
	now := l.clock.Now()
	t := l.timers[0]
	if t.when.After(now) {
		return nil
	}
	if t.period > 0 {
		// Skip missed periods instead of bursting to catch up.
		t.when = t.when.Add(t.period)
		if !t.when.After(now) {
			t.when = now.Add(t.period)
		}
		heap.Fix(&l.timers, t.index)
	} else {
		heap.Pop(&l.timers)
		t.stopped = true
	}
	return t.fn
}

func (l *Loop) untilNext() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.posted) > 0 {
		return 0, true
	}
	if len(l.timers) == 0 {
		return 0, false
	}
	wait := l.timers[0].when.Sub(l.clock.Now())
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("task panic", "panic", r)
		}
	}()
	fn()
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Timer is a cancellation handle for a scheduled task.
type Timer struct {
	loop    *Loop
	when    time.Time
	period  time.Duration
	fn      func()
	seq     uint64
	index   int
	stopped bool
}

// Stop cancels the timer. Calling Stop more than once is a no-op.
func (t *Timer) Stop() {
	if t == nil {
		return
	}
	l := t.loop
	l.mu.Lock()
	defer l.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	if t.index >= 0 {
		heap.Remove(&l.timers, t.index)
	}
}

type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
