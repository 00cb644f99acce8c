package batch

import "sync"

// CancelToken is a one-shot cancellation signal shared between a run's loop and whoever
// wants to stop it. The loop only looks at it between jobs.
type CancelToken struct {
	once sync.Once
	done chan struct{}
}

// NewCancelToken returns an uncancelled token.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel marks the token cancelled. Calling it more than once is harmless.
func (t *CancelToken) Cancel() {
	t.once.Do(func() { close(t.done) })
}

// Cancelled reports whether Cancel has been called.
func (t *CancelToken) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed on cancellation.
func (t *CancelToken) Done() <-chan struct{} {
	return t.done
}
