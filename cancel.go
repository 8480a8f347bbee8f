package mcp

import (
	"sync"
	"sync/atomic"
)

// CancelToken provides cooperative cancellation for a single in-flight
// request. It is created when the request is admitted and removed from the
// registry once the response is sent. Cancellation only takes effect at points
// where the handler checks the token; nothing is preempted. A nil token is
// valid and never reports cancellation, so handlers can be invoked directly
// without one.
type CancelToken struct {
	requestID MustString

	cancelled atomic.Bool
	once      sync.Once
	done      chan struct{}
}

func newCancelToken(requestID MustString) *CancelToken {
	return &CancelToken{
		requestID: requestID,
		done:      make(chan struct{}),
	}
}

// Cancel signals the token. It is idempotent: subsequent calls are no-ops.
func (t *CancelToken) Cancel() {
	t.once.Do(func() {
		t.cancelled.Store(true)
		close(t.done)
	})
}

// Cancelled reports whether the token has been signalled.
func (t *CancelToken) Cancelled() bool {
	return t != nil && t.cancelled.Load()
}

// Done returns a channel that is closed when the token is signalled, for
// handlers that select on long-running work. A nil token's channel never
// closes.
func (t *CancelToken) Done() <-chan struct{} {
	if t == nil {
		return nil
	}
	return t.done
}

// Err returns a CancelledError once the token has been signalled, and nil
// before. Handlers are expected to call it at convenient checkpoints and
// return the error unchanged.
func (t *CancelToken) Err() error {
	if t == nil {
		return nil
	}
	if t.cancelled.Load() {
		return CancelledError{RequestID: t.requestID}
	}
	return nil
}

// cancelRegistry maps in-flight request IDs to their cancellation tokens.
// Each key has a single writer: the dispatch goroutine that registered it.
type cancelRegistry struct {
	mu     sync.Mutex
	tokens map[MustString]*CancelToken
}

func newCancelRegistry() *cancelRegistry {
	return &cancelRegistry{
		tokens: make(map[MustString]*CancelToken),
	}
}

func (r *cancelRegistry) register(requestID MustString, token *CancelToken) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[requestID] = token
}

// cancel signals the token registered for requestID and removes it. Unknown
// IDs are a no-op, which covers a cancel racing with request completion.
func (r *cancelRegistry) cancel(requestID MustString) {
	r.mu.Lock()
	token, ok := r.tokens[requestID]
	delete(r.tokens, requestID)
	r.mu.Unlock()

	if ok {
		token.Cancel()
	}
}

func (r *cancelRegistry) remove(requestID MustString) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, requestID)
}

func (r *cancelRegistry) get(requestID MustString) (*CancelToken, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[requestID]
	return token, ok
}
