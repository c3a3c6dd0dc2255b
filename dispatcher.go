// Copyright 2012 Apcera Inc. All rights reserved.

package nats

import "sync"

// dispatcher owns one delivery loop and a bounded queue shared by every
// subscription multiplexed onto it, per spec.md §2/§4.4. Grounded on the
// teacher's single global deliverMsgs loop (nats.go:566-584), generalized
// into a pool of independently-sized loops instead of one shared channel.
type dispatcher struct {
	id uint64
	nc *Conn

	mu       sync.Mutex
	subs     map[uint64]*Subscription
	draining bool

	// implicit marks a dispatcher created behind the scenes for a single
	// Subscribe/QueueSubscribe call, as opposed to one returned to the
	// caller via NewDispatcher. Implicit dispatchers are owned by core and
	// torn down automatically once their last subscription is removed;
	// user-created ones are only stopped explicitly.
	implicit bool

	queue chan *Msg
	done  chan struct{}
}

// Dispatcher is the public handle returned to callers that want to
// multiplex several subscriptions onto one delivery loop explicitly (as
// opposed to Subscribe's implicit one-dispatcher-per-subscription).
type Dispatcher struct {
	d *dispatcher
}

func (nc *Conn) newDispatcher(queueLen int, implicit bool) *dispatcher {
	nc.mu.Lock()
	id := nc.nextDispID
	nc.nextDispID++
	d := &dispatcher{
		id:       id,
		nc:       nc,
		implicit: implicit,
		subs:     make(map[uint64]*Subscription),
		queue:    make(chan *Msg, queueLen),
		done:     make(chan struct{}),
	}
	nc.dispatchers[id] = d
	nc.mu.Unlock()
	return d
}

// NewDispatcher creates a standalone dispatcher with its own bounded queue
// and starts its delivery loop. Use SubscribeDispatched to attach
// subscriptions to it. Unlike the implicit per-subscription dispatcher
// Subscribe/QueueSubscribe create, a Dispatcher returned here is never
// torn down automatically and must be stopped explicitly.
func (nc *Conn) NewDispatcher(queueLen int) *Dispatcher {
	if queueLen <= 0 {
		queueLen = DefaultMaxChanLen
	}
	d := nc.newDispatcher(queueLen, false)
	go d.run()
	return &Dispatcher{d: d}
}

func (d *dispatcher) addSub(s *Subscription) {
	d.mu.Lock()
	d.subs[s.sid] = s
	d.mu.Unlock()
}

// removeSub detaches s and reports how many subscriptions the dispatcher
// still owns, so the caller can retire an implicit, now-empty dispatcher.
func (d *dispatcher) removeSub(s *Subscription) int {
	d.mu.Lock()
	delete(d.subs, s.sid)
	remaining := len(d.subs)
	d.mu.Unlock()
	return remaining
}

func (d *dispatcher) ownedSubs() []*Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Subscription, 0, len(d.subs))
	for _, s := range d.subs {
		out = append(out, s)
	}
	return out
}

// enqueue places m on the dispatcher's queue. The caller (deliverToSub) has
// already applied the pending-limit/slow-consumer check, so this never
// blocks indefinitely in practice; it still selects on done to unblock
// promptly at shutdown.
func (d *dispatcher) enqueue(m *Msg) bool {
	select {
	case d.queue <- m:
		return true
	case <-d.done:
		return false
	}
}

func (d *dispatcher) len() int { return len(d.queue) }

// run is the dispatcher's delivery loop: it drains the shared queue and
// invokes each message's subscription handler in queue order, interleaving
// across the subscriptions that share this dispatcher (spec.md §5
// ordering guarantee).
func (d *dispatcher) run() {
	for {
		select {
		case m, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(m)
		case <-d.done:
			return
		}
	}
}

func (d *dispatcher) deliver(m *Msg) {
	s := m.Sub
	s.mu.Lock()
	if s.invalid || s.mcb == nil {
		s.pendingMsgs--
		s.pendingBytes -= m.wsz
		s.mu.Unlock()
		return
	}
	s.delivered++
	delivered := s.delivered
	max := s.max
	cb := s.mcb
	s.pendingMsgs--
	s.pendingBytes -= m.wsz
	s.mu.Unlock()

	if max > 0 && delivered > max {
		return
	}
	cb(m)
}

// stop halts the delivery loop. Queued-but-undelivered messages are
// discarded; Drain should be used instead when in-flight deliveries must
// complete first.
func (d *dispatcher) stop() {
	d.mu.Lock()
	select {
	case <-d.done:
	default:
		close(d.done)
	}
	d.mu.Unlock()
}

// retireIfEmpty stops and deregisters d once it is both implicit (owned by
// core for a single Subscribe/QueueSubscribe call, not a user-visible
// Dispatcher) and has no subscriptions left, so a Subscribe+Unsubscribe
// cycle doesn't leak a goroutine and a nc.dispatchers entry for the life
// of the connection.
func (d *dispatcher) retireIfEmpty(remaining int) {
	if !d.implicit || remaining > 0 {
		return
	}
	d.nc.mu.Lock()
	delete(d.nc.dispatchers, d.id)
	d.nc.mu.Unlock()
	d.stop()
}
