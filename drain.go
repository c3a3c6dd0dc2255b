// Copyright 2012 Apcera Inc. All rights reserved.

package nats

import "time"

// drainPollInterval is how often Drain polls a subscription's pending
// count while waiting for in-flight deliveries to finish.
const drainPollInterval = 10 * time.Millisecond

// drainBlocksPublish reports whether a drain is in progress. Caller must
// already hold nc.mu; consulted from publish() per spec.md §5's drain
// ordering ("new publishes are rejected once draining begins").
func (nc *Conn) drainBlocksPublish() bool {
	return nc.draining
}

// Drain puts the connection into a graceful shutdown: every subscription
// stops accepting new deliveries (UNSUB is sent immediately) while
// messages already queued are allowed to finish, new publishes are
// rejected, and once every subscription's queue is empty (or timeout
// elapses) the connection flushes and closes. A later call, whether made
// while the first drain is in progress or after it completed, waits on and
// returns the same outcome as the first, per spec.md §8. Grounded on the teacher's Drain
// (nats.go:2380-2440).
func (nc *Conn) Drain(timeout time.Duration) error {
	nc.mu.Lock()
	if nc.draining {
		ch := nc.drainCh
		nc.mu.Unlock()
		<-ch
		nc.mu.Lock()
		err := nc.drainErr
		nc.mu.Unlock()
		return err
	}
	if nc.isClosed() {
		nc.mu.Unlock()
		return ErrConnectionClosed
	}
	if timeout <= 0 {
		timeout = nc.opts.DrainTimeout
	}
	nc.draining = true
	done := make(chan struct{})
	nc.drainCh = done

	subs := make([]*Subscription, 0, len(nc.subs))
	for _, s := range nc.subs {
		subs = append(subs, s)
	}
	nc.mu.Unlock()

	err := nc.runDrain(subs, timeout)

	nc.mu.Lock()
	nc.drainErr = err
	nc.mu.Unlock()
	close(done)
	return err
}

// runDrain implements the ordered steps spec.md §5 requires: stop
// consumers, flush, wait for pending queues bounded by deadline, then
// final flush and close.
func (nc *Conn) runDrain(subs []*Subscription, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for _, s := range subs {
		s.mu.Lock()
		s.draining = true
		s.mu.Unlock()
		nc.unsubscribe(s, 0, true)
	}
	nc.bw.flushBuffer()

	for time.Now().Before(deadline) {
		empty := true
		for _, s := range subs {
			if msgs, _ := s.Pending(); msgs > 0 {
				empty = false
				break
			}
		}
		if empty {
			break
		}
		time.Sleep(drainPollInterval)
	}

	nc.mu.Lock()
	for _, s := range subs {
		delete(nc.subs, s.sid)
	}
	nc.mu.Unlock()
	for _, s := range subs {
		nc.invalidateSub(s)
	}

	nc.bw.flushBuffer()
	return nc.Close()
}

// Drain stops this subscription from accepting new deliveries but lets
// messages already queued finish, then invalidates it. It does not affect
// the rest of the connection.
func (s *Subscription) Drain() error {
	s.mu.Lock()
	conn := s.conn
	if conn == nil || s.invalid {
		s.mu.Unlock()
		return ErrBadSubscription
	}
	s.draining = true
	s.mu.Unlock()

	if err := conn.unsubscribe(s, 0, true); err != nil {
		return err
	}
	conn.bw.flushBuffer()

	deadline := time.Now().Add(conn.opts.DrainTimeout)
	for time.Now().Before(deadline) {
		if msgs, _ := s.Pending(); msgs == 0 {
			break
		}
		time.Sleep(drainPollInterval)
	}

	conn.mu.Lock()
	delete(conn.subs, s.sid)
	conn.mu.Unlock()
	conn.invalidateSub(s)
	return nil
}
