package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// ProgressNotifier emits out-of-band progress notifications for a single
// in-flight call, correlated by the peer-supplied progress token. A nil
// notifier is valid and silently drops every update: when the peer did not
// opt in, progress is suppressed entirely, never buffered.
type ProgressNotifier struct {
	token       MustString
	sendTimeout time.Duration
	send        func(ctx context.Context, msg JSONRPCMessage) error
	logger      *slog.Logger
}

// Notify sends a progress notification with an optional completion
// percentage. Percent is interpreted on a 0-100 scale; pass a negative value
// when the degree of completion is unknown.
func (p *ProgressNotifier) Notify(message string, percent float64) {
	if p == nil {
		return
	}

	params := ProgressParams{
		ProgressToken: p.token,
		Message:       message,
	}
	if percent >= 0 {
		params.Progress = percent
		params.Total = 100
	}

	paramsBs, err := json.Marshal(params)
	if err != nil {
		p.logger.Error("failed to marshal progress params", slog.String("err", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.sendTimeout)
	defer cancel()

	if err := p.send(ctx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  methodNotificationsProgress,
		Params:  paramsBs,
	}); err != nil {
		p.logger.Error("failed to send progress notification", slog.String("err", err.Error()))
	}
}
