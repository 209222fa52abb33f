package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/c360/tensorscope/natsclient"
)

type responder struct {
	queue   string
	handler natsclient.RequestHandler
}

// MockNATSClient is an in-memory stand-in for natsclient.Client covering
// request/reply. Queue groups deliver each request to one member,
// round-robin. Safe for concurrent use.
type MockNATSClient struct {
	mu         sync.RWMutex
	responders map[string][]responder
	next       map[string]int
	requests   map[string]int
	closed     bool
}

// NewMockNATSClient creates a new mock NATS client.
func NewMockNATSClient() *MockNATSClient {
	return &MockNATSClient{
		responders: make(map[string][]responder),
		next:       make(map[string]int),
		requests:   make(map[string]int),
	}
}

// QueueRespond registers handler as a member of queue on subject.
func (c *MockNATSClient) QueueRespond(_ context.Context, subject, queue string, handler natsclient.RequestHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return natsclient.ErrNotConnected
	}
	c.responders[subject] = append(c.responders[subject], responder{queue: queue, handler: handler})
	return nil
}

// Request delivers data to one responder on subject and returns its reply.
// No responders yields an error like the real client's.
func (c *MockNATSClient) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, natsclient.ErrNotConnected
	}
	members := c.responders[subject]
	if len(members) == 0 {
		c.mu.Unlock()
		return nil, fmt.Errorf("no responders on %s", subject)
	}
	r := members[c.next[subject]%len(members)]
	c.next[subject]++
	c.requests[subject]++
	c.mu.Unlock()

	reply := r.handler(ctx, subject, data)
	if reply == nil {
		return nil, context.DeadlineExceeded
	}
	return reply, nil
}

// Subjects returns the subjects that have at least one responder.
func (c *MockNATSClient) Subjects() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	subjects := make([]string, 0, len(c.responders))
	for s := range c.responders {
		subjects = append(subjects, s)
	}
	return subjects
}

// QueueGroup returns the queue of the first responder on subject.
func (c *MockNATSClient) QueueGroup(subject string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if members := c.responders[subject]; len(members) > 0 {
		return members[0].queue
	}
	return ""
}

// RequestCount returns how many requests were delivered on subject.
func (c *MockNATSClient) RequestCount(subject string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.requests[subject]
}

// Close rejects further calls.
func (c *MockNATSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
