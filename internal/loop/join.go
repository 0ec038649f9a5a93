package loop

// Join is a counting barrier: done runs once, after n calls to Done.
// A Join is not safe for concurrent use; call Done from loop tasks.
type Join struct {
	remaining int
	fired     bool
	done      func()
}

// NewJoin creates a barrier waiting for n completions. With n <= 0, done
// runs before NewJoin returns.
func NewJoin(n int, done func()) *Join {
	j := &Join{remaining: n, done: done}
	if n <= 0 {
		j.fire()
	}
	return j
}

// Done records one completion.
func (j *Join) Done() {
	if j.fired {
		return
	}
	j.remaining--
	if j.remaining <= 0 {
		j.fire()
	}
}

// Remaining returns how many completions are still expected.
func (j *Join) Remaining() int {
	return max(j.remaining, 0)
}

func (j *Join) fire() {
	j.fired = true
	if j.done != nil {
		j.done()
	}
}
