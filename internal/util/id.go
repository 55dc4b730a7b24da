package util

import (
	"strings"

	"github.com/google/uuid"
)

func NewID(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// ShortID is used for request ids and log correlation.
func ShortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
