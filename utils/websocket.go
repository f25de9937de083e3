package utils

import (
	"time"

	"github.com/google/uuid"
)

// GenerateConnID returns a unique id for a websocket connection.
func GenerateConnID() string {
	return uuid.NewString()
}

// Now returns the current time formatted for client messages.
func Now() string {
	return time.Now().Format("2006-01-02 15:04:05")
}
