package utils

import (
	"strings"

	"github.com/google/uuid"
)

// tempPrefix marks client-generated ids for optimistically inserted
// messages. The server-issued id replaces them on ack.
const tempPrefix = "temp-"

// GenTempID returns a fresh client-side message id.
func GenTempID() string {
	return tempPrefix + uuid.NewString()
}

// IsTempID reports whether id was generated locally by GenTempID.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempPrefix)
}
