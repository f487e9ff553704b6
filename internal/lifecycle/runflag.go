package lifecycle

import "sync"

// RunFlag is the process-wide "keep serving" switch. It starts set and can
// only be cleared, once, from any goroutine.
type RunFlag struct {
	once sync.Once
	done chan struct{}
}

// NewRunFlag returns a set flag.
func NewRunFlag() *RunFlag {
	return &RunFlag{done: make(chan struct{})}
}

// Running reports whether the flag is still set.
func (f *RunFlag) Running() bool {
	select {
	case <-f.done:
		return false
	default:
		return true
	}
}

// Stop clears the flag. Safe to call repeatedly.
func (f *RunFlag) Stop() {
	f.once.Do(func() { close(f.done) })
}

// Done is closed when the flag is cleared.
func (f *RunFlag) Done() <-chan struct{} {
	return f.done
}
