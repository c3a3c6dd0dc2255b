// Copyright 2012 Apcera Inc. All rights reserved.

package nats

import "time"

// processPing answers a server PING with an immediate PONG, the mechanism
// the server uses to detect dead clients. Grounded on the teacher's
// processPing (nats.go:691-695).
func (nc *Conn) processPing() {
	nc.bw.writeInternal(pongProto, []byte(pongProto))
	nc.bw.kick()
}

// processPong resolves the oldest outstanding pong future, used both by
// the handshake's initial PING/PONG and by Flush/FlushTimeout. Grounded on
// the teacher's processPong (nats.go:697-707).
func (nc *Conn) processPong() {
	nc.mu.Lock()
	if len(nc.pongs) == 0 {
		nc.mu.Unlock()
		return
	}
	ch := nc.pongs[0]
	nc.pongs = nc.pongs[1:]
	nc.pingOut = 0
	nc.mu.Unlock()
	if ch != nil {
		select {
		case ch <- nil:
		default:
		}
	}
}

// startTimers launches the periodic ping scheduler and the pending-request
// cleanup sweep, per spec.md §4.6/§4.5.
func (nc *Conn) startTimers() {
	nc.mu.Lock()
	interval := nc.opts.PingInterval
	now := time.Now()
	nc.lastInboundAt = now
	nc.lastPingCycleAt = now
	nc.mu.Unlock()
	if interval > 0 {
		nc.mu.Lock()
		nc.pingTimer = time.AfterFunc(interval, nc.pingTimerFired)
		nc.mu.Unlock()
	}
	if nc.reqCorrelator != nil {
		nc.reqCorrelator.startCleanup(nc.opts.RequestCleanupInterval, nc.closeCh)
	}
}

func (nc *Conn) stopTimers() {
	nc.mu.Lock()
	if nc.pingTimer != nil {
		nc.pingTimer.Stop()
	}
	nc.mu.Unlock()
}

// pingTimerFired sends a periodic soft ping: if any traffic arrived since
// the last cycle, the ping is skipped for this cycle, per spec.md §4.6.
// Skipping still reschedules the timer and does not touch pingOut, since
// no pong future was enqueued. Exceeding opts.MaxPingsOut outstanding
// pongs forces a transition to Reconnecting.
func (nc *Conn) pingTimerFired() {
	nc.mu.Lock()
	if nc.isClosed() || !nc.isConnected() {
		nc.mu.Unlock()
		return
	}
	interval := nc.opts.PingInterval
	skip := nc.lastInboundAt.After(nc.lastPingCycleAt)
	nc.lastPingCycleAt = time.Now()
	if skip {
		nc.pingTimer = time.AfterFunc(interval, nc.pingTimerFired)
		nc.mu.Unlock()
		return
	}
	nc.pingOut++
	outstanding := nc.pingOut
	maxOut := nc.opts.MaxPingsOut
	ch := make(chan error, 1)
	nc.pongs = append(nc.pongs, ch)
	nc.mu.Unlock()

	if maxOut > 0 && outstanding > maxOut {
		nc.processReadOpErr(ErrStaleConnection, nc.currentGeneration())
		return
	}

	nc.bw.writeInternal(pingProto, []byte(pingProto))
	nc.bw.kick()

	nc.mu.Lock()
	if !nc.isClosed() {
		nc.pingTimer = time.AfterFunc(interval, nc.pingTimerFired)
	}
	nc.mu.Unlock()
}

func (nc *Conn) currentGeneration() uint64 {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return nc.connGen
}

// Flush does a round trip to the server and returns once the matching PONG
// has been received, or the default timeout elapses.
func (nc *Conn) Flush() error {
	return nc.FlushTimeout(60 * time.Second)
}

// FlushTimeout is Flush with an explicit timeout. Grounded on the
// teacher's FlushTimeout (nats.go:1019-1056).
func (nc *Conn) FlushTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return ErrBadTimeout
	}

	nc.mu.Lock()
	if nc.isClosed() {
		nc.mu.Unlock()
		return ErrConnectionClosed
	}
	ch := make(chan error, 1)
	nc.pongs = append(nc.pongs, ch)
	nc.mu.Unlock()

	if err := nc.bw.writeInternal(pingProto, []byte(pingProto)); err != nil {
		nc.removePong(ch)
		return err
	}
	if err := nc.bw.flushBuffer(); err != nil {
		nc.removePong(ch)
		return err
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case err, ok := <-ch:
		if !ok {
			return ErrConnectionClosed
		}
		return err
	case <-t.C:
		nc.removePong(ch)
		return ErrTimeout
	}
}

func (nc *Conn) removePong(ch chan error) {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	for i, c := range nc.pongs {
		if c == ch {
			nc.pongs = append(nc.pongs[:i], nc.pongs[i+1:]...)
			return
		}
	}
}
