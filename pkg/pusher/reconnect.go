package pusher

import (
	"context"
	"time"

	"github.com/radu-cendars/sockudo-client/pkg/pusher/protocol"
)

// handleUnexpectedClose runs whenever the transport reports a close we
// did not initiate via Disconnect: it tears down channel/delta state,
// clears the socket id (spec.md §4's "present only while Connected or
// transitioning to it"), classifies the close code (spec.md §4.1), and
// either settles into a terminal state or schedules a reconnect attempt.
func (c *Client) handleUnexpectedClose(code int, reason string) {
	c.stopHeartbeat()
	c.registry.Disconnect()
	c.delta.Reset()
	c.cell.reset()

	action := protocol.ClassifyCloseCode(code)
	c.log.Warn().Int("code", code).Str("reason", reason).Str("action", action.String()).Msg("connection closed")

	switch action {
	case protocol.ActionNone:
		c.setState(Disconnected)
		return
	case protocol.ActionRefused:
		c.setState(Failed)
		return
	default:
		c.setState(Unavailable)
		go c.reconnectLoop(action)
	}
}

func (c *Client) reconnectLoop(action protocol.Action) {
	attempt := int(c.reconnectAttempt.Add(1))

	backoff := c.opts.ReconnectInitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= c.opts.ReconnectMaxBackoff {
			backoff = c.opts.ReconnectMaxBackoff
			break
		}
	}

	c.log.Info().Int("attempt", attempt).Dur("backoff", backoff).Msg("scheduling reconnect")
	c.metrics.ObserveReconnectAttempt(backoff)
	time.Sleep(backoff)

	// The token bucket is a floor beneath the exponential backoff above:
	// it bounds how often Connect can actually be dialed even if multiple
	// close events race into reconnectLoop concurrently.
	if err := c.reconnectLimiter.Wait(context.Background()); err != nil {
		return
	}

	if action == protocol.ActionRetryTLS {
		c.optsMu.Lock()
		c.opts.TLS = true
		c.optsMu.Unlock()
	}

	if err := c.Connect(context.Background()); err != nil {
		c.log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")
		c.setState(Unavailable)
		go c.reconnectLoop(action)
	}
}
