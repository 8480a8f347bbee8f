package mcp

import (
	"time"
)

// Defaults applied by ServerConfig.withDefaults for fields left at their zero
// value.
const (
	DefaultCallTimeout        = 30 * time.Second
	DefaultMaxConcurrentCalls = 8
	DefaultProgressInterval   = 500 * time.Millisecond
	defaultSendTimeout        = 5 * time.Second
)

// ServerConfig carries the runtime tunables of a server. The zero value is
// usable: every field falls back to a sensible default.
type ServerConfig struct {
	// DefaultTimeout bounds every tool call and resource read that does not
	// carry its own override. Negative disables the deadline entirely.
	DefaultTimeout time.Duration

	// MaxConcurrentCalls caps the number of requests executing at once across
	// all tools. Negative means unbounded.
	MaxConcurrentCalls int

	// ToolConcurrency caps concurrent calls per tool name. A ToolDefinition's
	// own MaxConcurrency takes precedence over an entry here.
	ToolConcurrency map[string]int

	// ToolTimeouts overrides DefaultTimeout per tool name. A ToolDefinition's
	// own Timeout takes precedence over an entry here.
	ToolTimeouts map[string]time.Duration

	// MaxMessageBytes caps the declared Content-Length of inbound frames.
	MaxMessageBytes int

	// ProgressInterval is the suggested pacing between progress notifications
	// for long-running handlers. The server does not throttle; handlers use it
	// as guidance.
	ProgressInterval time.Duration

	// Instructions is free-form guidance returned to the peer on initialize.
	Instructions string
}

// withDefaults returns a copy of c with zero-valued fields replaced by
// defaults and negative sentinels normalized.
func (c ServerConfig) withDefaults() ServerConfig {
	out := c
	switch {
	case out.DefaultTimeout < 0:
		out.DefaultTimeout = 0
	case out.DefaultTimeout == 0:
		out.DefaultTimeout = DefaultCallTimeout
	}
	switch {
	case out.MaxConcurrentCalls < 0:
		out.MaxConcurrentCalls = 0
	case out.MaxConcurrentCalls == 0:
		out.MaxConcurrentCalls = DefaultMaxConcurrentCalls
	}
	if out.MaxMessageBytes <= 0 {
		out.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if out.ProgressInterval <= 0 {
		out.ProgressInterval = DefaultProgressInterval
	}
	return out
}

// timeoutFor resolves the effective deadline for a tool call: the definition's
// own override wins, then the configured per-tool override, then the default.
func (c ServerConfig) timeoutFor(def *ToolDefinition) time.Duration {
	if def != nil && def.Timeout > 0 {
		return def.Timeout
	}
	if def != nil {
		if t, ok := c.ToolTimeouts[def.Name]; ok {
			return t
		}
	}
	return c.DefaultTimeout
}
