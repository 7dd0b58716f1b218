package store

import (
	"crypto/rand"
	"encoding/hex"
)

const (
	moveIDPrefix  = "mv-"
	guestIDPrefix = "gu-"
)

// generateMoveID generates a unique move-enqueue ID. The ID is per enqueue
// event, not per logical move, so a re-queued move gets a fresh retry
// lineage.
func generateMoveID() (string, error) {
	bytes := make([]byte, 6) // 12 hex characters
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return moveIDPrefix + hex.EncodeToString(bytes), nil
}

// generateGuestID generates a unique guest session ID.
func generateGuestID() (string, error) {
	bytes := make([]byte, 4) // 8 hex characters
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return guestIDPrefix + hex.EncodeToString(bytes), nil
}
