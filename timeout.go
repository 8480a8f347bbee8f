package mcp

import (
	"context"
	"encoding/json"
	"time"
)

type timedResult struct {
	result json.RawMessage
	err    error
}

// withTimeout races body against the given deadline. If the deadline fires
// first, it returns a TimeoutError and cancels the context passed to body; the
// racing computation is abandoned, since a non-cooperative handler cannot be
// preempted. A timeout of zero or less disables the race entirely.
func withTimeout(
	ctx context.Context,
	operation string,
	timeout time.Duration,
	body func(ctx context.Context) (json.RawMessage, error),
) (json.RawMessage, error) {
	if timeout <= 0 {
		return body(ctx)
	}

	bodyCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered so the abandoned body can still complete and exit.
	results := make(chan timedResult, 1)
	go func() {
		result, err := body(bodyCtx)
		results <- timedResult{result: result, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil, TimeoutError{Timeout: timeout, Operation: operation}
	case r := <-results:
		return r.result, r.err
	}
}
