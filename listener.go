// Copyright 2012 Apcera Inc. All rights reserved.

package nats

// asyncCallbacksHandler runs every user-facing callback (status events,
// async errors, slow-consumer notifications, discovered-peers, lame-duck)
// on one dedicated goroutine, per spec.md §4.7/§9: "user code cannot block
// the engine" and "never on reader/writer/timer threads." Grounded on the
// teacher's direct (synchronous, on-loop) callback invocations
// (nats.go:456-458, 519-521, 1121-1138), generalized into a queued
// executor.
type asyncCallbacksHandler struct {
	queue chan func()
	done  chan struct{}
}

func newAsyncCallbacksHandler() *asyncCallbacksHandler {
	return &asyncCallbacksHandler{
		queue: make(chan func(), 4096),
		done:  make(chan struct{}),
	}
}

// push enqueues cb for execution on the callback goroutine. If the
// executor has already been shut down (during Close), the event is
// silently dropped, per spec.md §9.
func (h *asyncCallbacksHandler) push(cb func()) {
	select {
	case h.queue <- cb:
	case <-h.done:
	}
}

func (h *asyncCallbacksHandler) run() {
	for {
		select {
		case cb := <-h.queue:
			safeCall(cb)
		case <-h.done:
			// Drain whatever was already enqueued before shutdown was
			// requested, so a ClosedCB pushed right before close() is
			// never lost to the race between the two select cases.
			for {
				select {
				case cb := <-h.queue:
					safeCall(cb)
				default:
					return
				}
			}
		}
	}
}

// safeCall swallows panics from user callbacks so they can never reach the
// reader/writer/timer loops, per spec.md §4.7.
func safeCall(cb func()) {
	defer func() { recover() }()
	cb()
}

func (h *asyncCallbacksHandler) close() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}
