package pusher

import (
	"context"
	"time"

	"github.com/radu-cendars/sockudo-client/pkg/pusher/protocol"
)

// heartbeat owns the timer that posts pusher:ping frames and watches
// for a pong (or any other activity) within the configured pong
// timeout. It is the "heartbeat timer" task of spec.md §5.
type heartbeat struct {
	cancel context.CancelFunc
}

// startHeartbeat launches the heartbeat loop against activityInterval
// (the server-advised or default activity timeout): every interval of
// silence, send a ping and expect either a pong or any other frame
// within pongTimeout, else treat the connection as unavailable.
func (c *Client) startHeartbeat(activityInterval time.Duration) {
	c.stopHeartbeat()

	ctx, cancel := context.WithCancel(context.Background())
	c.hbMu.Lock()
	c.hb = &heartbeat{cancel: cancel}
	c.hbMu.Unlock()

	go c.heartbeatLoop(ctx, activityInterval)
}

func (c *Client) stopHeartbeat() {
	c.hbMu.Lock()
	hb := c.hb
	c.hb = nil
	c.hbMu.Unlock()
	if hb != nil {
		hb.cancel()
	}
}

func (c *Client) heartbeatLoop(ctx context.Context, activityInterval time.Duration) {
	if activityInterval <= 0 {
		activityInterval = c.opts.ActivityTimeout
	}
	ticker := time.NewTicker(activityInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.activityMu.RLock()
			idle := time.Since(c.lastActivity) >= activityInterval
			c.activityMu.RUnlock()
			if !idle {
				continue
			}
			c.sendPing()
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.opts.PongTimeout):
				if !c.noteActivitySince(ticker) {
					c.log.Warn().Msg("pong timeout: no activity since ping, reconnecting")
					c.handleUnexpectedClose(-1, "pong timeout")
					return
				}
			}
		}
	}
}

// noteActivitySince reports whether any frame arrived after the last
// ping was sent, by comparing the client's lastActivity timestamp
// (updated on every inbound frame) against the ping send time.
func (c *Client) noteActivitySince(_ *time.Ticker) bool {
	c.activityMu.RLock()
	defer c.activityMu.RUnlock()
	return time.Since(c.lastActivity) < c.opts.PongTimeout
}

func (c *Client) sendPing() {
	c.transport.SendText(mustEncodeFrame(protocol.Message{Event: protocol.EventPing}))
}

func (c *Client) touchActivity() {
	c.activityMu.Lock()
	c.lastActivity = time.Now()
	c.activityMu.Unlock()
}

func mustEncodeFrame(msg protocol.Message) string {
	b, err := protocol.Encode(msg)
	if err != nil {
		return ""
	}
	return string(b)
}
