package channels

import (
	"encoding/json"

	"github.com/radu-cendars/sockudo-client/pkg/pusher/events"
	"github.com/radu-cendars/sockudo-client/pkg/pusher/protocol"
)

type presencePayload struct {
	Presence struct {
		Count int             `json:"count"`
		IDs   []string        `json:"ids"`
		Hash  json.RawMessage `json:"hash"`
	} `json:"presence"`
}

// handleSubscriptionSucceeded completes the subscribe protocol (spec.md
// §4.3): transitions Subscribing -> Subscribed and re-emits the event
// under its public name. For presence channels, data.presence
// initializes the members table, and the re-emitted payload carries
// {members, count, myID}.
func (c *Channel) handleSubscriptionSucceeded(msg protocol.Message) {
	c.setState(Subscribed)

	var reemit interface{}
	if c.kind == Presence {
		var payload presencePayload
		if err := protocol.DecodeData(msg, &payload); err != nil {
			c.log.Error().Err(err).Msg("malformed presence subscription_succeeded payload")
		} else {
			var hash map[string]json.RawMessage
			_ = json.Unmarshal(payload.Presence.Hash, &hash)
			c.members.Reset()
			membersOut := make(map[string]json.RawMessage, len(payload.Presence.IDs))
			for _, id := range payload.Presence.IDs {
				info := hash[id]
				c.members.Add(Member{UserID: id, Info: info})
				membersOut[id] = info
			}
			reemit = map[string]interface{}{
				"members": membersOut,
				"count":   payload.Presence.Count,
				"myID":    c.members.MyID(),
			}
		}
	}

	var data interface{} = msg.Data
	if reemit != nil {
		data = reemit
	}
	encoded, err := protocol.EncodeData(data)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to encode subscription_succeeded re-emit")
		return
	}
	c.dispatcher.Emit(events.Event{Name: protocol.EventSubscriptionSucceeded, Channel: c.name, Data: encoded})
}

// handleSubscriptionCount updates the channel's last-known subscriber
// count and re-emits under the public event name.
func (c *Channel) handleSubscriptionCount(msg protocol.Message) {
	var payload struct {
		SubscriptionCount int `json:"subscription_count"`
	}
	if err := protocol.DecodeData(msg, &payload); err != nil {
		c.log.Error().Err(err).Msg("malformed subscription_count payload")
		return
	}
	c.mu.Lock()
	sc := payload.SubscriptionCount
	c.subscriptionCount = &sc
	c.mu.Unlock()
	c.dispatcher.Emit(events.Event{Name: protocol.EventSubscriptionCount, Channel: c.name, Data: msg.Data})
}

// handleMemberAdded adds a presence member (a no-op if already present)
// and re-emits under the public event name.
func (c *Channel) handleMemberAdded(msg protocol.Message) {
	var payload struct {
		UserID   string          `json:"user_id"`
		UserInfo json.RawMessage `json:"user_info,omitempty"`
	}
	if err := protocol.DecodeData(msg, &payload); err != nil {
		c.log.Error().Err(err).Msg("malformed member_added payload")
		return
	}
	c.members.AddIfAbsent(Member{UserID: payload.UserID, Info: payload.UserInfo})
	c.dispatcher.Emit(events.Event{Name: protocol.EventMemberAdded, Channel: c.name, Data: msg.Data})
}

// handleMemberRemoved removes a presence member and re-emits under the
// public event name.
func (c *Channel) handleMemberRemoved(msg protocol.Message) {
	var payload struct {
		UserID string `json:"user_id"`
	}
	if err := protocol.DecodeData(msg, &payload); err != nil {
		c.log.Error().Err(err).Msg("malformed member_removed payload")
		return
	}
	c.members.Remove(payload.UserID)
	c.dispatcher.Emit(events.Event{Name: protocol.EventMemberRemoved, Channel: c.name, Data: msg.Data})
}

func extractUserID(channelData string) (string, error) {
	if channelData == "" {
		return "", &ChannelError{Reason: "empty channel_data"}
	}
	var payload struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal([]byte(channelData), &payload); err != nil {
		return "", err
	}
	if payload.UserID == "" {
		return "", &ChannelError{Reason: "channel_data missing user_id"}
	}
	return payload.UserID, nil
}
