package utils

import "github.com/google/uuid"

// NewID returns a unique identifier for auth accounts and presence keys.
func NewID() string {
	return uuid.NewString()
}
