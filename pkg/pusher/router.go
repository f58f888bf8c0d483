package pusher

import (
	"context"
	"time"

	"github.com/radu-cendars/sockudo-client/pkg/pusher/events"
	"github.com/radu-cendars/sockudo-client/pkg/pusher/protocol"
)

// handleFrame is the reader task's routing pipeline (spec.md §5):
// protocol parse, connection state machine, delta dispatch, then
// channel/dispatcher delivery. It runs synchronously on the transport's
// reader goroutine; only the suspension points spec.md §5 names
// (transport I/O, auth HTTP, timers) are allowed to block elsewhere.
func (c *Client) handleFrame(raw string) {
	c.touchActivity()

	msg, err := protocol.Decode([]byte(raw))
	if err != nil {
		c.metrics.ObserveFrameDecodeError()
		c.log.Warn().Err(err).Str("frame", raw).Msg("malformed frame")
		return
	}
	c.metrics.ObserveFrameReceived(msg.Event)

	switch msg.Event {
	case protocol.EventConnectionEstablished:
		c.handleConnectionEstablished(msg)
		return
	case protocol.EventError:
		c.handleProtocolError(msg)
		return
	case protocol.EventPing:
		c.sendRaw(protocol.Message{Event: protocol.EventPong})
		return
	case protocol.EventPong:
		return
	case protocol.EventDeltaCompressionOn:
		if err := c.delta.HandleEnabled(msg); err != nil {
			c.log.Warn().Err(err).Msg("malformed delta_compression_enabled frame")
		}
		return
	case protocol.EventDeltaCacheSync:
		if err := c.delta.HandleCacheSync(msg.Channel, msg); err != nil {
			c.log.Warn().Err(err).Str("channel", msg.Channel).Msg("malformed delta_cache_sync frame")
		}
		return
	case protocol.EventDelta:
		reconstructed, err := c.delta.HandleDelta(msg.Channel, msg)
		if err != nil {
			// Already logged, counted, and resynced inside HandleDelta.
			return
		}
		// HandleDelta has already cached and counted the reconstructed
		// content; it is routed without being observed as a full message.
		c.registry.Route(context.Background(), reconstructed)
		return
	}

	if c.delta.HasState(msg.Channel) {
		c.delta.ObserveFullMessage(msg.Channel, msg)
		c.metrics.ObserveDeltaFullMessage(msg.Channel)
	}
	c.registry.Route(context.Background(), msg)
}

func (c *Client) handleConnectionEstablished(msg protocol.Message) {
	var data protocol.ConnectionEstablishedData
	if err := protocol.DecodeData(msg, &data); err != nil {
		c.log.Error().Err(err).Msg("malformed connection_established frame")
		c.setState(Failed)
		return
	}

	c.optsMu.RLock()
	timeout := c.opts.ActivityTimeout
	deltaEnabled := c.opts.DeltaCompression
	c.optsMu.RUnlock()

	if data.ActivityTimeoutSeconds != nil {
		timeout = time.Duration(*data.ActivityTimeoutSeconds) * time.Second
	}

	c.cell.setHandshake(data.SocketID, int(timeout.Seconds()))
	c.reconnectAttempt.Store(0)
	c.setState(Connected)
	c.startHeartbeat(timeout)

	if deltaEnabled {
		if err := c.delta.RequestEnable(); err != nil {
			c.log.Warn().Err(err).Msg("failed to request delta compression")
		}
	}

	go c.registry.ResubscribeAll(context.Background())
}

// handleProtocolError processes a pusher:error frame. It always
// re-emits the error as a dispatcher event; additionally, if it arrives
// during the handshake (state still Connecting) and carries a code, the
// code is classified exactly like a close code (spec.md §4.1) to drive
// the handshake's "Connecting -> Failed" / "Connecting -> Unavailable"
// transitions (spec.md §4.4) — a handshake that errors out is otherwise
// indistinguishable from one that hangs forever.
func (c *Client) handleProtocolError(msg protocol.Message) {
	var data protocol.ErrorData
	if err := protocol.DecodeData(msg, &data); err != nil {
		c.log.Error().Err(err).Msg("malformed pusher:error frame")
		return
	}
	c.log.Warn().Str("message", data.Message).Msg("server reported protocol error")
	c.dispatcher.Emit(events.Event{Name: "error", Data: msg.Data})

	if c.State() != Connecting || data.Code == nil {
		return
	}
	// handleUnexpectedClose classifies the code and drives the resulting
	// state transition / reconnect attempt; reused here rather than
	// duplicated since a handshake-level protocol error and a transport
	// close carry the same close-code vocabulary (spec.md §4.1).
	c.handleUnexpectedClose(*data.Code, data.Message)
}
