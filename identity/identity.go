// Package identity defines the opaque transport-layer identity assigned to
// every peer of a routed socket, and the conversation-id generator used
// throughout the control plane.
package identity

import (
	"encoding/hex"

	"github.com/google/uuid"

	"leco/frame"
)

// Identity is an opaque byte string assigned by a Coordinator to a specific
// accepted connection. A Component-side session generates its own identity
// as a local label; it is not the one the Coordinator routes by. It is never leaked across Components — only the semantic
// full-name addressing travels on the wire.
type Identity []byte

// New generates a fresh random identity, used whenever a routed socket
// accepts a new connection or reconnects.
func New() Identity {
	id := uuid.New()
	return Identity(id[:])
}

// String renders the identity as hex for logs.
func (id Identity) String() string {
	return hex.EncodeToString(id)
}

// Equal reports whether two identities are the same bytes.
func (id Identity) Equal(other Identity) bool {
	if len(id) != len(other) {
		return false
	}
	for i := range id {
		if id[i] != other[i] {
			return false
		}
	}
	return true
}

// Key returns a comparable string usable as a map key.
func (id Identity) Key() string {
	return string(id)
}

// NewConversationID generates a fresh time-ordered (UUIDv7) conversation
// id, per §3.
func NewConversationID() frame.ConversationID {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the system clock/random source is broken
		// beyond repair; fall back to a random v4 id rather than panic,
		// since a conversation id only needs to be unique, not ordered,
		// to satisfy correlation correctness.
		id = uuid.New()
	}
	var cid frame.ConversationID
	copy(cid[:], id[:])
	return cid
}
