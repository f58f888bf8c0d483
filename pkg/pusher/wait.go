package pusher

import (
	"context"
	"time"
)

const waitPollInterval = 100 * time.Millisecond

// WaitForConnection polls the client's state every 100ms until it
// reaches Connected or timeout elapses (spec.md §5). It returns nil as
// soon as Connected is observed, a Connection *Error if the connection
// becomes Failed while waiting, or a Timeout error if neither happens
// before timeout or ctx is cancelled.
func (c *Client) WaitForConnection(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		switch c.State() {
		case Connected:
			return nil
		case Failed:
			return newError(ErrConnection, "connection failed while waiting", nil)
		}
		if time.Now().After(deadline) {
			return newError(ErrTimeout, "timed out waiting for connection", nil)
		}
		select {
		case <-ctx.Done():
			return newError(ErrTimeout, "context cancelled while waiting for connection", ctx.Err())
		case <-ticker.C:
		}
	}
}
