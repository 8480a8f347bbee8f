package mcp

import (
	"sync"
)

// ConcurrencyLimiter enforces global and per-tool admission control over
// concurrently executing calls. A limit of zero means unbounded.
//
// Invariant: the global count always equals the sum of the per-tool counts,
// and a held slot never exceeds the per-tool limit or the global limit.
type ConcurrencyLimiter struct {
	mu sync.Mutex

	maxGlobal     int
	perToolLimits map[string]int

	currentGlobal  int
	currentPerTool map[string]int
}

// NewConcurrencyLimiter creates a limiter with the given global cap and
// per-tool caps. The perToolLimits map is copied.
func NewConcurrencyLimiter(maxGlobal int, perToolLimits map[string]int) *ConcurrencyLimiter {
	limits := make(map[string]int, len(perToolLimits))
	for name, limit := range perToolLimits {
		limits[name] = limit
	}
	return &ConcurrencyLimiter{
		maxGlobal:      maxGlobal,
		perToolLimits:  limits,
		currentPerTool: make(map[string]int),
	}
}

// setToolLimit overrides the configured limit for a single tool. Used when a
// tool definition carries its own maxConcurrency; registration happens before
// the server starts, so no call can hold a slot yet.
func (l *ConcurrencyLimiter) setToolLimit(name string, limit int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.perToolLimits[name] = limit
}

// CanStart reports whether a call for the named tool would currently be
// admitted. The answer is advisory: admission is only authoritative inside
// Execute, which checks and acquires under one lock.
func (l *ConcurrencyLimiter) CanStart(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.admissible(name) == nil
}

// Execute runs body within an acquired slot for the named tool. If admission
// fails it returns a ConcurrencyLimitError without side effects; otherwise the
// slot is released on every exit path, including a panicking body.
func (l *ConcurrencyLimiter) Execute(name string, body func() error) error {
	if err := l.start(name); err != nil {
		return err
	}
	defer l.complete(name)
	return body()
}

// admissible must be called with the lock held.
func (l *ConcurrencyLimiter) admissible(name string) error {
	if l.maxGlobal > 0 && l.currentGlobal >= l.maxGlobal {
		return ConcurrencyLimitError{
			Tool:    name,
			Current: l.currentGlobal,
			Limit:   l.maxGlobal,
		}
	}
	if limit, ok := l.perToolLimits[name]; ok && limit > 0 && l.currentPerTool[name] >= limit {
		return ConcurrencyLimitError{
			Tool:    name,
			Current: l.currentPerTool[name],
			Limit:   limit,
		}
	}
	return nil
}

func (l *ConcurrencyLimiter) start(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.admissible(name); err != nil {
		return err
	}
	l.currentGlobal++
	l.currentPerTool[name]++
	return nil
}

func (l *ConcurrencyLimiter) complete(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.currentGlobal--
	l.currentPerTool[name]--
	if l.currentPerTool[name] <= 0 {
		delete(l.currentPerTool, name)
	}
}

// inFlight returns the current global count, for tests and diagnostics.
func (l *ConcurrencyLimiter) inFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentGlobal
}
