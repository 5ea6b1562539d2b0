// Package bustest provides an in-memory bus.Publisher for tests.
package bustest

import (
	"context"
	"encoding/json"
	"sync"

	"doc-reconciler/core/bus"
)

var _ bus.Transport = (*Recorder)(nil)

// Recorder records every confirmed message. Failures can be injected per message id.
type Recorder struct {
	mu       sync.Mutex
	messages []bus.Message
	failures map[string]error
	failAll  error
	attempts map[string]int
	closed   bool
}

// New returns an empty Recorder.
func New() *Recorder {
	return &Recorder{failures: map[string]error{}, attempts: map[string]int{}}
}

// FailOn makes every publish of messageID fail with err. An empty id fails all
// publishes. A nil err clears the failure.
func (r *Recorder) FailOn(messageID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if messageID == "" {
		r.failAll = err
		return
	}
	if err == nil {
		delete(r.failures, messageID)
		return
	}
	r.failures[messageID] = err
}

func (r *Recorder) Publish(ctx context.Context, msg bus.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return bus.ErrClosed
	}
	r.attempts[msg.MessageID]++
	if r.failAll != nil {
		return r.failAll
	}
	if err, ok := r.failures[msg.MessageID]; ok {
		return err
	}
	body := make([]byte, len(msg.Body))
	copy(body, msg.Body)
	msg.Body = body
	r.messages = append(r.messages, msg)
	return nil
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Messages returns the confirmed messages in publish order.
func (r *Recorder) Messages() []bus.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bus.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// RoutedTo returns the confirmed messages sent with routingKey.
func (r *Recorder) RoutedTo(routingKey string) []bus.Message {
	var out []bus.Message
	for _, m := range r.Messages() {
		if m.RoutingKey == routingKey {
			out = append(out, m)
		}
	}
	return out
}

// Attempts returns how many times messageID was published, including failures.
func (r *Recorder) Attempts(messageID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts[messageID]
}

// Decode unmarshals the body of msg into v.
func Decode(msg bus.Message, v any) error {
	return json.Unmarshal(msg.Body, v)
}
