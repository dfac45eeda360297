package images

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Pull status constants
const (
	StatusPending    = "pending"
	StatusPulling    = "pulling"
	StatusExtracting = "extracting"
	StatusReady      = "ready"
	StatusFailed     = "failed"
)

// ProgressUpdate is one step of a pull as reported by the engine.
type ProgressUpdate struct {
	Ref      string  `json:"ref"`
	Status   string  `json:"status"`
	Layer    string  `json:"layer,omitempty"`
	Message  string  `json:"message,omitempty"`
	Current  int64   `json:"current,omitempty"`
	Total    int64   `json:"total,omitempty"`
	Progress int     `json:"progress"`
	Error    *string `json:"error,omitempty"`
}

// ProgressTracker keeps the latest pull state and broadcasts updates to SSE subscribers
type ProgressTracker struct {
	ref         string
	last        ProgressUpdate
	subscribers []chan ProgressUpdate
	mu          sync.RWMutex
	closed      bool
}

// NewProgressTracker creates a tracker for a pull of ref
func NewProgressTracker(ref string) *ProgressTracker {
	return &ProgressTracker{
		ref:         ref,
		last:        ProgressUpdate{Ref: ref, Status: StatusPending},
		subscribers: make([]chan ProgressUpdate, 0),
	}
}

// Last returns the most recent update.
func (p *ProgressTracker) Last() ProgressUpdate {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

// Update records u and broadcasts it to all subscribers
func (p *ProgressTracker) Update(u ProgressUpdate) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	u.Ref = p.ref
	p.last = u

	for _, ch := range p.subscribers {
		select {
		case ch <- u:
		default:
			// Non-blocking send (skip slow consumers)
		}
	}
}

// Fail marks the pull as failed with error message
func (p *ProgressTracker) Fail(err error) {
	msg := err.Error()
	p.Update(ProgressUpdate{Status: StatusFailed, Error: &msg})
}

// Complete marks the pull as complete
func (p *ProgressTracker) Complete() {
	p.Update(ProgressUpdate{Status: StatusReady, Progress: 100})
}

// Subscribe adds a new SSE subscriber and returns their channel
func (p *ProgressTracker) Subscribe(ctx context.Context) (chan ProgressUpdate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("tracker closed")
	}

	ch := make(chan ProgressUpdate, 10) // Buffered for slow consumers
	p.subscribers = append(p.subscribers, ch)

	// Send current state immediately
	ch <- p.last

	go func() {
		<-ctx.Done()
		p.Unsubscribe(ch)
	}()

	return ch, nil
}

// Unsubscribe removes a subscriber
func (p *ProgressTracker) Unsubscribe(ch chan ProgressUpdate) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, sub := range p.subscribers {
		if sub == ch {
			p.subscribers = append(p.subscribers[:i], p.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

// Close closes all subscriber channels
func (p *ProgressTracker) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	for _, ch := range p.subscribers {
		close(ch)
	}
	p.subscribers = nil
}

// ToSSEReader converts a progress channel to an io.ReadCloser for SSE streaming
func ToSSEReader(ch chan ProgressUpdate) io.ReadCloser {
	return &sseStream{ch: ch}
}

// sseStream implements io.ReadCloser for SSE streaming
type sseStream struct {
	ch     chan ProgressUpdate
	buffer []byte
}

func (s *sseStream) Read(p []byte) (n int, err error) {
	if len(s.buffer) > 0 {
		n = copy(p, s.buffer)
		s.buffer = s.buffer[n:]
		return n, nil
	}

	update, ok := <-s.ch
	if !ok {
		return 0, io.EOF
	}

	data, _ := json.Marshal(update)
	s.buffer = []byte(fmt.Sprintf("data: %s\n\n", data))

	n = copy(p, s.buffer)
	s.buffer = s.buffer[n:]
	return n, nil
}

func (s *sseStream) Close() error {
	return nil
}
