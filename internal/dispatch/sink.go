package dispatch

import (
	"context"
	"time"
)

// SinkStatus classifies the outcome of one send through the delivery sink.
type SinkStatus int

const (
	SinkOK SinkStatus = iota
	// SinkPermissionDenied: the sink may not post into the channel. Terminal.
	SinkPermissionDenied
	// SinkChannelUnavailable: the channel no longer exists. Terminal.
	SinkChannelUnavailable
	// SinkRateLimited: the platform asked to back off. Retried exactly once
	// after the sink-supplied interval.
	SinkRateLimited
	// SinkTransportError: anything else. Terminal, to bound fan-out duration.
	SinkTransportError
)

// String returns the status name used in delivery records and logs.
func (s SinkStatus) String() string {
	switch s {
	case SinkOK:
		return "ok"
	case SinkPermissionDenied:
		return "permission denied"
	case SinkChannelUnavailable:
		return "channel unavailable"
	case SinkRateLimited:
		return "rate limited"
	default:
		return "transport error"
	}
}

// SinkResult reports one send attempt. RetryAfter is only meaningful for
// SinkRateLimited.
type SinkResult struct {
	Status     SinkStatus
	RetryAfter time.Duration
	Err        error
}

// Sink is the chat platform's message-send capability. Implementations must
// be safe for concurrent use; the dispatcher invokes Send from multiple
// in-flight deliveries at once.
type Sink interface {
	Send(ctx context.Context, channelID int64, text string) SinkResult
}
