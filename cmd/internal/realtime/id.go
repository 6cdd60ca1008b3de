package realtime

import (
	"time"

	"lostfound/cmd/identity/ids"
)

// NewSessionID returns the id of one websocket connection.
func NewSessionID() string {
	return ids.NewSessionID()
}

// NewEnvelopeID returns a ULID used as envelope id.
// ULID is preferable to random hex for tracing and ordering in logs.
func NewEnvelopeID(now time.Time) string {
	id, err := ids.NewULID(now)
	if err != nil {
		return ""
	}
	return id
}
