package nvmetcp

import (
	"context"
	"time"

	"github.com/go-nvmetcp/nvmetcp/pkg/engine"
)

// AsyncEvent is the decoded form of an Asynchronous Event Notification
// completion, re-exported from pkg/engine so callers don't need to
// import it directly.
type AsyncEvent = engine.AsyncEvent

// RequestAsyncEvents pre-posts n Asynchronous Event Request commands
// (Admin opcode 0x0C). Their eventual completions are translated into
// AsyncEvent records and delivered through PollAsyncEvents, not through
// this call. The engine never auto-reposts; callers must call this
// again to keep the channel primed.
func (c *Client) RequestAsyncEvents(ctx context.Context, n int) error {
	if n <= 0 {
		return invalidArgument("request_async_events: n must be > 0")
	}
	for i := 0; i < n; i++ {
		if err := c.engine.SubmitAEN(ctx); err != nil {
			return err
		}
	}
	return nil
}

// PollAsyncEvents drains the AEN queue, waiting up to timeout for at
// least one event if the queue is currently empty.
func (c *Client) PollAsyncEvents(timeout time.Duration) []AsyncEvent {
	return c.engine.PollAsyncEvents(timeout)
}

// AENDropped returns the count of async-event records discarded by AEN
// queue overflow (oldest-dropped semantics, §5).
func (c *Client) AENDropped() uint64 { return c.engine.AENDropped() }
