package core

import "github.com/google/uuid"

// NewID returns a random identifier used for notifications and synthesized
// tool call ids.
func NewID() string { return uuid.NewString() }
