package channels

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/radu-cendars/sockudo-client/pkg/pusher/events"
	"github.com/radu-cendars/sockudo-client/pkg/pusher/protocol"
	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24
const keySize = 32

// handleEncryptedUserEvent implements spec.md §4.5: decode and decrypt a
// private-encrypted channel's user event, retrying once against a
// freshly authorized key on AEAD failure, then re-emit the plaintext
// under the original event name.
func (c *Channel) handleEncryptedUserEvent(ctx context.Context, msg protocol.Message) {
	c.encMu.RLock()
	key := c.key
	c.encMu.RUnlock()
	if key == nil {
		c.log.Error().Str("event", msg.Event).Msg("encrypted event received with no key set, dropping")
		return
	}

	var payload struct {
		Ciphertext string `json:"ciphertext"`
		Nonce      string `json:"nonce"`
	}
	if err := protocol.DecodeData(msg, &payload); err != nil {
		c.log.Error().Err(err).Msg("malformed encrypted event payload, dropping")
		return
	}

	ciphertext, err := base64.StdEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		c.log.Error().Err(err).Msg("encrypted event: bad ciphertext base64, dropping")
		return
	}
	nonceBytes, err := base64.StdEncoding.DecodeString(payload.Nonce)
	if err != nil {
		c.log.Error().Err(err).Msg("encrypted event: bad nonce base64, dropping")
		return
	}
	if len(nonceBytes) != nonceSize {
		c.log.Error().Int("length", len(nonceBytes)).Msg("encrypted event: nonce must be 24 bytes, dropping")
		return
	}
	var nonce [nonceSize]byte
	copy(nonce[:], nonceBytes)

	plaintext, ok := openSecretbox(key, ciphertext, &nonce)
	if !ok {
		plaintext, ok = c.retryWithRefreshedKey(ctx, ciphertext, &nonce)
		if !ok {
			c.log.Error().Str("event", msg.Event).Msg("encrypted event: decrypt failed after key refresh retry, dropping")
			return
		}
	}

	var data interface{}
	if err := json.Unmarshal(plaintext, &data); err != nil {
		data = string(plaintext)
	}
	encoded, err := protocol.EncodeData(data)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to re-encode decrypted event")
		return
	}
	c.dispatcher.Emit(events.Event{Name: msg.Event, Channel: c.name, Data: encoded})
}

// retryWithRefreshedKey re-runs authorization for this channel (the
// socket id captured at subscribe time) and attempts the decrypt once
// more with the new key, per spec.md §4.5 step 5: "at most one retry".
func (c *Channel) retryWithRefreshedKey(ctx context.Context, ciphertext []byte, nonce *[nonceSize]byte) ([]byte, bool) {
	c.mu.RLock()
	sid := c.socketIDAtSubscribe
	c.mu.RUnlock()
	if sid == "" {
		return nil, false
	}
	resp, err := c.authorizer.Authorize(ctx, c.name, sid)
	if err != nil {
		c.log.Warn().Err(err).Msg("encrypted event: key refresh authorization failed")
		return nil, false
	}
	newKey, err := decodeSharedSecret(resp.SharedSecret)
	if err != nil {
		c.log.Warn().Err(err).Msg("encrypted event: refreshed shared_secret invalid")
		return nil, false
	}
	c.encMu.Lock()
	c.key = newKey
	c.encMu.Unlock()
	return openSecretbox(newKey, ciphertext, nonce)
}

func openSecretbox(key []byte, ciphertext []byte, nonce *[nonceSize]byte) ([]byte, bool) {
	if len(key) != keySize {
		return nil, false
	}
	var k [keySize]byte
	copy(k[:], key)
	return secretbox.Open(nil, ciphertext, nonce, &k)
}
