// Package id generates unique identifiers for events and correlation chains.
package id

import "github.com/google/uuid"

// New returns a new random identifier.
func New() string {
	return uuid.NewString()
}
