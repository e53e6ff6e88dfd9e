package core

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a short random task identifier: the first eight hex digits
// of a version 4 UUID.
func NewID() string {
	return strings.SplitN(uuid.NewString(), "-", 2)[0]
}
