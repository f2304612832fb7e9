package relay

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read (hard limit). Envelopes are tiny.
	maxFrameBytes = 16 << 10 // 16 KiB

	// Max bytes of a normalized session name.
	maxSessionNameBytes = 128

	// Ping failures tolerated before the connection is dropped.
	maxPingFailures = 3

	closeGrace = 1 * time.Second
)
