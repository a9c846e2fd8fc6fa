// Package notify delivers short run summaries to operators. Every
// implementation returns immediately, delivery happens in the background.
package notify

import (
	"context"
	"sync"
)

type Notifier interface {
	// Notify queues a message for delivery, it never blocks on the network.
	Notify(ctx context.Context, message string)
}

// Noop drops every message.
type Noop struct{}

func (Noop) Notify(context.Context, string) {}

// Multi fans a message out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, message string) {
	for _, n := range m {
		n.Notify(ctx, message)
	}
}

// Recorder keeps every message, it is used in tests.
type Recorder struct {
	mu       sync.Mutex
	messages []string
}

func (r *Recorder) Notify(_ context.Context, message string) {
	r.mu.Lock()
	r.messages = append(r.messages, message)
	r.mu.Unlock()
}

func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.messages))
	copy(out, r.messages)
	return out
}
