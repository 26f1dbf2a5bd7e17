package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateID generates a prefixed unique ID
func GenerateID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString())
}

// GenerateConnectionID generates a unique connection ID
func GenerateConnectionID() string {
	return GenerateID("conn")
}

// GenerateSessionID generates a unique session ID
func GenerateSessionID() string {
	return GenerateID("session")
}

// GenerateRequestID generates a unique request ID
func GenerateRequestID() string {
	return GenerateID("req")
}
