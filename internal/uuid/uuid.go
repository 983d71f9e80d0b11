// Package uuid is a thin wrapper over github.com/google/uuid that returns
// plain strings, which is all the gateway ever needs.
package uuid

import "github.com/google/uuid"

// New returns a random (version 4) UUID string.
func New() string {
	return uuid.NewString()
}
