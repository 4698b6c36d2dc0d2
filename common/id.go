package common

import "github.com/segmentio/ksuid"

// NewMessageID returns a unique, time ordered identifier for an outgoing message.
func NewMessageID() string {
	return ksuid.New().String()
}
