// Copyright 2012 Apcera Inc. All rights reserved.

package nats

// Close tears the connection down permanently: no further reconnect is
// attempted. It is idempotent and safe to call from any goroutine,
// including from within an async callback. Every pending request, pong
// future and synchronous subscription waiter is released with
// ErrConnectionClosed, per spec.md §7. Grounded on the teacher's Close
// (nats.go:2456-2520).
func (nc *Conn) Close() error {
	nc.mu.Lock()
	if nc.isClosed() {
		nc.mu.Unlock()
		return nil
	}
	nc.setStatus(CLOSED)
	close(nc.closeCh)

	if nc.conn != nil {
		nc.conn.Close()
	}
	if nc.pingTimer != nil {
		nc.pingTimer.Stop()
	}

	pongs := nc.pongs
	nc.pongs = nil

	subs := make([]*Subscription, 0, len(nc.subs))
	for _, s := range nc.subs {
		subs = append(subs, s)
	}
	nc.subs = make(map[uint64]*Subscription)

	disps := make([]*dispatcher, 0, len(nc.dispatchers))
	for _, d := range nc.dispatchers {
		disps = append(disps, d)
	}

	rc := nc.reqCorrelator
	cb := nc.opts.ClosedCB
	nc.mu.Unlock()

	for _, ch := range pongs {
		select {
		case ch <- ErrConnectionClosed:
		default:
		}
	}
	for _, s := range subs {
		nc.invalidateSub(s)
	}
	for _, d := range disps {
		d.stop()
	}
	if rc != nil {
		rc.cancelAll(ErrConnectionClosed)
	}

	if cb != nil {
		nc.ach.push(func() { cb(nc) })
	}
	nc.ach.close()

	return nil
}
