// Copyright 2012 Apcera Inc. All rights reserved.

package nats

import (
	"math/rand"
	"net/url"
	"time"
)

// resendSubscriptions replays a SUB frame for every subscription still live
// (not draining, not already invalidated). Map iteration order is fine
// here: the server keys interest by sid, not by arrival order. Grounded on
// the teacher's resendSubscriptions (nats.go:924-948).
func (nc *Conn) resendSubscriptions() {
	nc.mu.Lock()
	subs := make([]*Subscription, 0, len(nc.subs))
	for _, s := range nc.subs {
		subs = append(subs, s)
	}
	nc.mu.Unlock()

	for _, s := range subs {
		s.mu.Lock()
		if s.invalid || s.draining {
			s.mu.Unlock()
			continue
		}
		subject, queue, sid := s.Subject, s.Queue, s.sid
		s.mu.Unlock()

		line, frame := buildSubFrame(subject, queue, sid)
		nc.bw.writeInternal(line, frame)
	}
}

// beginReconnect is invoked from processReadOpErr when the reader loop (or
// a ping timeout) detects the transport is dead and reconnection is
// allowed. It detaches the writer, fires DisconnectedCB, and launches the
// reconnect loop in the background, per spec.md §4.1's
// Connected -> Reconnecting transition.
func (nc *Conn) beginReconnect() {
	nc.mu.Lock()
	if nc.isClosed() || nc.isReconnecting() {
		nc.mu.Unlock()
		return
	}
	nc.setStatus(RECONNECTING)
	if nc.conn != nil {
		nc.conn.Close()
	}
	cb := nc.opts.DisconnectedCB
	nc.mu.Unlock()

	nc.bw.detach()

	if cb != nil {
		nc.ach.push(func() { cb(nc) })
	}

	go nc.reconnectLoop(false)
}

// currentURL reports the URL of the server this connection last attempted,
// so pickOrder can push it to the tail of the next pass.
func (nc *Conn) currentURL() *url.URL {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	if nc.cur == nil {
		return nil
	}
	return nc.cur.url
}

// reconnectLoop repeatedly tries every candidate in the pool until one
// succeeds, the pool is exhausted, or a double-auth failure aborts the
// attempt entirely, per spec.md §4.1. When isInitial is true this is the
// very first connection attempt made from Options.Connect: a single pass
// across the pool is made and failure is returned to the caller instead of
// looping forever. Grounded on the teacher's doReconnect (nats.go:1150-1260).
func (nc *Conn) reconnectLoop(isInitial bool) error {
	attempts := 0
	var lastAuthServer *srv
	var lastErr error

	for {
		nc.mu.Lock()
		if nc.isClosed() {
			nc.mu.Unlock()
			return ErrConnectionClosed
		}
		nc.mu.Unlock()

		order := nc.pool.pickOrder(nc.currentURL())
		if len(order) == 0 {
			if isInitial {
				return ErrNoServers
			}
			nc.finalizeReconnectFailure(ErrNoServers)
			return ErrNoServers
		}

		for _, s := range order {
			nc.mu.Lock()
			if nc.isClosed() {
				nc.mu.Unlock()
				return ErrConnectionClosed
			}
			nc.mu.Unlock()

			err := nc.tryConnect(s, !isInitial)
			if err == nil {
				nc.pool.registerSuccess(s)

				if !isInitial {
					nc.mu.Lock()
					reconnCB := nc.opts.ReconnectedCB
					nc.mu.Unlock()
					if reconnCB != nil {
						nc.ach.push(func() { reconnCB(nc) })
					}
					nc.Flush()
				}
				return nil
			}

			lastErr = err
			attempts++
			nc.mu.Lock()
			nc.lastErr = err
			nc.mu.Unlock()

			if classifyAuthError(err.Error()) {
				if lastAuthServer == s {
					nc.finalizeReconnectFailure(ErrDoubleAuth)
					return ErrDoubleAuth
				}
				lastAuthServer = s
				nc.pool.registerFailure(s, nc.opts.MaxReconnect, err.Error())
			} else {
				lastAuthServer = nil
				nc.pool.registerFailure(s, nc.opts.MaxReconnect, "")
			}
		}

		if isInitial {
			if lastErr == nil {
				lastErr = ErrNoServers
			}
			return lastErr
		}
		if nc.pool.size() == 0 {
			nc.finalizeReconnectFailure(ErrNoServers)
			return ErrNoServers
		}

		select {
		case <-time.After(nc.reconnectDelay(attempts)):
		case <-nc.closeCh:
			return ErrConnectionClosed
		}
	}
}

// reconnectDelay computes the wait before the next reconnect pass: a
// caller-supplied handler if configured, otherwise the base wait plus
// jitter (a larger jitter window for TLS servers, matching the teacher's
// rationale that TLS handshakes amplify thundering-herd reconnect storms).
// Grounded on the teacher's doReconnect delay computation (nats.go:1220-1241).
func (nc *Conn) reconnectDelay(attempts int) time.Duration {
	nc.mu.Lock()
	o := nc.opts
	nc.mu.Unlock()

	if o.ReconnectDelayHandler != nil {
		return o.ReconnectDelayHandler(attempts)
	}

	wait := o.ReconnectWait
	jitter := o.ReconnectJitter
	if o.Secure {
		jitter = o.ReconnectJitterTLS
	}
	if jitter > 0 {
		wait += time.Duration(rand.Int63n(int64(jitter)))
	}
	return wait
}

// finalizeReconnectFailure transitions the connection to Closed once the
// reconnect loop can make no further progress (pool exhausted or a
// double-auth abort), per spec.md §4.1's "any non-Closed -> Closed" row.
func (nc *Conn) finalizeReconnectFailure(err error) {
	nc.mu.Lock()
	nc.lastErr = err
	nc.mu.Unlock()
	nc.Close()
}
