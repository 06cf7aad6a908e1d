package util

import (
	"math/rand/v2"
	"strings"
)

// OutboxIDPrefix prefixes the IDs of queued outbound messages.
const OutboxIDPrefix = "outbox_"

// GenerateRandomID returns prefix followed by hexLength random hex digits.
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex returns length random lowercase hex digits. Not suitable
// for secrets.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)
	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.IntN(16)])
	}
	return builder.String()
}

// GenerateOutboxID generates an outbox message ID.
func GenerateOutboxID() string {
	return GenerateRandomID(OutboxIDPrefix, 32)
}
