// Copyright 2012 Apcera Inc. All rights reserved.

package nats

import (
	"strconv"
	"sync"
	"time"
)

// Subscription represents interest in a subject, optionally scoped to a
// queue group. A Subscription with a nil dispatcher is synchronous and
// polled via NextMsg; one with a dispatcher delivers asynchronously on
// that dispatcher's delivery loop. Grounded on the teacher's Subscription
// (nats.go:107-128), split into sync/async via an explicit dispatcher
// pointer instead of a bare callback field, per spec.md §3/§4.4.
type Subscription struct {
	mu sync.Mutex

	sid uint64

	Subject string
	Queue   string

	conn *Conn
	disp *dispatcher
	mcb  MsgHandler
	autoAck bool

	mch chan *Msg // sync delivery queue; nil for dispatched subscriptions

	delivered uint64
	dropped   uint64
	max       uint64 // unsubscribe-after count; 0 = unbounded

	pendingMsgs   int
	pendingBytes  int
	pendingMsgLimit  int
	pendingByteLimit int

	draining    bool
	invalid     bool
	slowConsumer bool

	// preQueueFilter lets higher layers built on this core intercept a
	// message before it is queued (flow-control/heartbeat interception,
	// spec.md §4.4 step 2). Core leaves it unset.
	preQueueFilter func(*Msg) bool
}

// ID returns the subscription's client-assigned identifier, rendered as a
// decimal string per spec.md §3 ("subscription id (string of an ascending
// integer...)").
func (s *Subscription) ID() string {
	return strconv.FormatUint(s.sid, 10)
}

// IsValid reports whether the subscription is still active.
func (s *Subscription) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.invalid && s.conn != nil
}

// Pending returns the number of messages and bytes currently queued for
// delivery to this subscription.
func (s *Subscription) Pending() (msgs, bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingMsgs, s.pendingBytes
}

// Delivered returns the number of messages delivered so far.
func (s *Subscription) Delivered() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delivered
}

// Dropped returns the number of messages dropped due to slow-consumer
// backpressure.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// SetPendingLimits overrides the default pending message/byte limits
// (512K messages / 64MiB, spec.md §4.4). A limit <= 0 disables that check.
func (s *Subscription) SetPendingLimits(msgLimit, byteLimit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingMsgLimit = msgLimit
	s.pendingByteLimit = byteLimit
}

// subscribe is the shared internal entry point for Subscribe,
// SubscribeSync, QueueSubscribe and SubscribeDispatched. Grounded on the
// teacher's subscribe (nats.go:814-849), generalized to route through a
// dispatcher instead of spinning a bespoke goroutine per callback sub.
func (nc *Conn) subscribe(subject, queue string, cb MsgHandler, disp *dispatcher, autoAck bool) (*Subscription, error) {
	if err := validateSubject(subject, true); err != nil {
		return nil, err
	}
	if queue != "" {
		if err := validateQueueName(queue); err != nil {
			return nil, err
		}
	}

	nc.mu.Lock()
	if nc.isClosed() {
		nc.mu.Unlock()
		return nil, ErrConnectionClosed
	}

	sub := &Subscription{
		Subject:          subject,
		Queue:            queue,
		conn:             nc,
		mcb:              cb,
		disp:             disp,
		autoAck:          autoAck,
		pendingMsgLimit:  defaultPendingMsgLimit,
		pendingByteLimit: defaultPendingBytesLimit,
	}
	if disp == nil {
		sub.mch = make(chan *Msg, DefaultMaxChanLen)
	} else {
		disp.addSub(sub)
	}

	sub.sid = nc.nextSid()
	nc.subs[sub.sid] = sub

	reconnecting := nc.isReconnecting()
	nc.mu.Unlock()

	// Subscriptions made while Reconnecting are replayed in full by the
	// resubscription step once the new transport is live; sending SUB now
	// would duplicate it.
	if !reconnecting {
		line, frame := buildSubFrame(subject, queue, sub.sid)
		if err := nc.bw.writeInternal(line, frame); err != nil {
			return nil, err
		}
		nc.bw.kick()
	}
	return sub, nil
}

// Subscribe expresses interest in subject and delivers matching messages
// asynchronously to cb on a private single-subscription dispatcher.
func (nc *Conn) Subscribe(subject string, cb MsgHandler) (*Subscription, error) {
	disp := nc.newDispatcher(DefaultMaxChanLen, true)
	go disp.run()
	return nc.subscribe(subject, _EMPTY_, cb, disp, true)
}

// SubscribeSync expresses interest in subject and returns a subscription
// polled via NextMsg.
func (nc *Conn) SubscribeSync(subject string) (*Subscription, error) {
	return nc.subscribe(subject, _EMPTY_, nil, nil, false)
}

// QueueSubscribe is Subscribe scoped to a queue group: exactly one member
// of the group receives each matching message, a choice the server makes.
func (nc *Conn) QueueSubscribe(subject, queue string, cb MsgHandler) (*Subscription, error) {
	disp := nc.newDispatcher(DefaultMaxChanLen, true)
	go disp.run()
	return nc.subscribe(subject, queue, cb, disp, true)
}

// QueueSubscribeSync is QueueSubscribe for a synchronous subscription.
func (nc *Conn) QueueSubscribeSync(subject, queue string) (*Subscription, error) {
	return nc.subscribe(subject, queue, nil, nil, false)
}

// SubscribeDispatched attaches an async handler to an existing dispatcher,
// multiplexing this subscription's deliveries onto that dispatcher's
// single delivery loop alongside any others it already owns (spec.md §2's
// "Dispatcher pool... multiple subscriptions may be multiplexed onto one
// dispatcher"). autoAck is accepted for forward compatibility with higher
// layers built on this core (spec.md explicitly keeps server-side ack
// semantics out of core scope); at this layer every delivery is
// effectively auto-acked once the handler returns.
func (nc *Conn) SubscribeDispatched(subject, queue string, disp *Dispatcher, cb MsgHandler, autoAck bool) (*Subscription, error) {
	if disp == nil {
		return nil, ErrBadSubscription
	}
	return nc.subscribe(subject, queue, cb, disp.d, autoAck)
}

// unsubscribe is the shared implementation behind Unsubscribe and
// AutoUnsubscribe. Grounded on the teacher's unsubscribe (nats.go:881-919).
func (nc *Conn) unsubscribe(sub *Subscription, max int, drain bool) error {
	nc.mu.Lock()
	if nc.isClosed() {
		nc.mu.Unlock()
		return ErrConnectionClosed
	}

	s := nc.subs[sub.sid]
	if s == nil {
		nc.mu.Unlock()
		return nil
	}

	maxStr := 0
	invalidate := false
	if max > 0 {
		s.mu.Lock()
		s.max = uint64(max)
		s.mu.Unlock()
		maxStr = max
	} else if !drain {
		delete(nc.subs, s.sid)
		invalidate = true
	}

	reconnecting := nc.isReconnecting()
	nc.mu.Unlock()

	if invalidate {
		nc.invalidateSub(s)
	}

	if !reconnecting {
		line, frame := buildUnsubFrame(s.sid, maxStr)
		if err := nc.bw.writeInternal(line, frame); err != nil {
			return err
		}
		nc.bw.kick()
	}
	return nil
}

// invalidateSub marks s invalid and releases any resources blocking a
// waiter (NextMsg, a dispatcher's delivery loop). Callers must not hold
// nc.mu: retiring an emptied implicit dispatcher acquires it.
func (nc *Conn) invalidateSub(s *Subscription) {
	s.mu.Lock()
	s.invalid = true
	s.conn = nil
	if s.mch != nil {
		close(s.mch)
		s.mch = nil
	}
	disp := s.disp
	s.mu.Unlock()
	if disp != nil {
		remaining := disp.removeSub(s)
		disp.retireIfEmpty(remaining)
	}
}

// Unsubscribe removes interest immediately. Messages already queued to this
// subscription are discarded: NextMsg returns an error and the handler is
// not invoked for them. Use Drain to let queued messages finish first.
func (s *Subscription) Unsubscribe() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrBadSubscription
	}
	return conn.unsubscribe(s, 0, false)
}

// AutoUnsubscribe arranges for the server to stop delivery once max
// messages have been delivered on this subscription. max counts from the
// subscription's first message, not from this call; messages already
// delivered count toward it. Past that count the client stops handing
// messages to NextMsg/the handler, but the subscription is not invalidated
// or removed from the connection. Useful for request/reply fan-in with an unknown responder
// count (spec.md §4.5's "old-style" request mode uses this with max=1).
func (s *Subscription) AutoUnsubscribe(max int) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrBadSubscription
	}
	return conn.unsubscribe(s, max, false)
}

// NextMsg blocks until a message arrives on a synchronous subscription or
// timeout elapses. It returns ErrTimeout on expiry and ErrConnectionClosed
// if the subscription has been invalidated. Grounded on the teacher's
// NextMsg (nats.go:955-998).
func (s *Subscription) NextMsg(timeout time.Duration) (*Msg, error) {
	s.mu.Lock()
	if s.mcb != nil {
		s.mu.Unlock()
		return nil, ErrTypeSubscription
	}
	if s.conn == nil || s.invalid {
		s.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	if s.mch == nil {
		s.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	if s.slowConsumer {
		s.slowConsumer = false
		s.mu.Unlock()
		return nil, ErrSlowConsumer
	}
	mch := s.mch
	s.mu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case msg, ok := <-mch:
		if !ok {
			return nil, ErrConnectionClosed
		}
		s.mu.Lock()
		s.delivered++
		delivered := s.delivered
		max := s.max
		s.pendingMsgs--
		s.pendingBytes -= msg.wsz
		s.mu.Unlock()
		if max > 0 && delivered > max {
			return nil, ErrBadSubscription
		}
		return msg, nil
	case <-t.C:
		return nil, ErrTimeout
	}
}

func (nc *Conn) nextSid() uint64 {
	nc.ssid++
	return nc.ssid
}
