// Package channels implements the channel registry and the four
// per-channel protocol variants (spec.md §4.3).
package channels

import "strings"

// Kind is the channel variant, determined purely by a prefix rule on the
// channel name (spec.md §3).
type Kind int

const (
	Public Kind = iota
	Private
	Presence
	Encrypted
)

func (k Kind) String() string {
	switch k {
	case Public:
		return "public"
	case Private:
		return "private"
	case Presence:
		return "presence"
	case Encrypted:
		return "private-encrypted"
	default:
		return "unknown"
	}
}

// RequiresAuth reports whether k needs the authorization endpoint before
// subscribing.
func (k Kind) RequiresAuth() bool {
	return k == Private || k == Presence || k == Encrypted
}

// SupportsClientEvents reports whether k allows user-triggered
// "client-*" events.
func (k Kind) SupportsClientEvents() bool {
	return k == Private || k == Presence
}

const (
	privateEncryptedPrefix = "private-encrypted-"
	privatePrefix          = "private-"
	presencePrefix         = "presence-"
)

// KindOf classifies a channel name by prefix, per spec.md §3. It does not
// validate the name; call ValidateName separately.
func KindOf(name string) Kind {
	switch {
	case strings.HasPrefix(name, privateEncryptedPrefix):
		return Encrypted
	case strings.HasPrefix(name, privatePrefix):
		return Private
	case strings.HasPrefix(name, presencePrefix):
		return Presence
	default:
		return Public
	}
}

// ValidateName enforces spec.md §3's name invariants: must not start
// with "#", and the encrypted/presence variants must carry their
// required prefix (trivially true given KindOf's own prefix matching,
// this guards direct variant constructors called with the wrong name).
func ValidateName(name string, want Kind) error {
	if strings.HasPrefix(name, "#") {
		return errInvalidChannelName(name, `must not start with "#"`)
	}
	switch want {
	case Encrypted:
		if !strings.HasPrefix(name, privateEncryptedPrefix) {
			return errInvalidChannelName(name, `encrypted channel must start with "private-encrypted-"`)
		}
	case Presence:
		if !strings.HasPrefix(name, presencePrefix) {
			return errInvalidChannelName(name, `presence channel must start with "presence-"`)
		}
	case Private:
		if !strings.HasPrefix(name, privatePrefix) || strings.HasPrefix(name, privateEncryptedPrefix) {
			return errInvalidChannelName(name, `private channel must start with "private-"`)
		}
	}
	return nil
}
