// Copyright (c) 2025 TaskMesh Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package events

import (
	"log/slog"
	"sync"

	"taskmesh/pkg/types"
)

// defaultBufferSize is the per-subscriber channel depth. Slow subscribers
// lose events past this depth rather than stalling the engine.
const defaultBufferSize = 256

// Bus fans events out to subscribers without ever blocking the publisher.
// It serves both as the supervisor's lifecycle event publisher and as the
// executor's trace sink.
type Bus struct {
	mu          sync.Mutex
	subscribers []chan types.MeshEvent
	traceSubs   []chan types.TraceEvent
	dropped     int
	closed      bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Publish delivers a lifecycle event to all subscribers. Full subscriber
// buffers drop the event for that subscriber.
func (b *Bus) Publish(event types.MeshEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.dropped++
			slog.Warn("Dropping event for slow subscriber",
				"eventId", event.ID, "kind", event.Kind)
		}
	}
}

// Emit implements the executor's trace sink with the same non-blocking
// delivery as Publish.
func (b *Bus) Emit(event types.TraceEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.traceSubs {
		select {
		case ch <- event:
		default:
			b.dropped++
		}
	}
}

// Subscribe registers a lifecycle event consumer and returns its channel.
func (b *Bus) Subscribe() <-chan types.MeshEvent {
	ch := make(chan types.MeshEvent, defaultBufferSize)
	b.mu.Lock()
	b.subscribers = append(b.subscribers, ch)
	b.mu.Unlock()
	return ch
}

// SubscribeTrace registers a trace record consumer and returns its channel.
func (b *Bus) SubscribeTrace() <-chan types.TraceEvent {
	ch := make(chan types.TraceEvent, defaultBufferSize)
	b.mu.Lock()
	b.traceSubs = append(b.traceSubs, ch)
	b.mu.Unlock()
	return ch
}

// Dropped reports how many deliveries have been dropped so far.
func (b *Bus) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close stops delivery and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subscribers {
		close(ch)
	}
	for _, ch := range b.traceSubs {
		close(ch)
	}
}
