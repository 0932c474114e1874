package util

import "github.com/google/uuid"

// NewID returns a random identifier, used for request ids, message
// idempotency keys and attachment key prefixes.
func NewID() string {
	return uuid.NewString()
}
