package relay

import (
	"sync"

	v1 "colocation/shared/contracts/session/v1"
)

// Client is one connected device.
//
// Send is never closed by the server so concurrent broadcasters cannot panic;
// done signals the connection goroutines to stop.
type Client struct {
	ParticipantID string
	Send          chan v1.Envelope

	mu     sync.Mutex
	device string

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(participantID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = minSendQueueSize
	}
	return &Client{
		ParticipantID: participantID,
		Send:          make(chan v1.Envelope, sendQueueSize),
		done:          make(chan struct{}),
	}
}

// Device returns the device label announced in hello.
func (c *Client) Device() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device
}

func (c *Client) setDevice(d string) {
	c.mu.Lock()
	c.device = d
	c.mu.Unlock()
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() { close(c.done) })
}

// offer enqueues env without blocking. It reports false if the queue is full
// or the client is shutting down.
func (c *Client) offer(env v1.Envelope) bool {
	select {
	case <-c.Done():
		return false
	default:
	}
	select {
	case c.Send <- env:
		return true
	default:
		return false
	}
}
