// Copyright 2012 Apcera Inc. All rights reserved.

package nats

import (
	"strings"
	"sync"
	"time"
)

// pendingRequest is a single in-flight request/reply correlation entry,
// per spec.md §3 "Pending request".
type pendingRequest struct {
	token      string
	ch         chan *Msg
	errCh      chan error
	deadline   time.Time
	cancelOn503 bool
	done       bool
}

// respCorrelator owns the shared wildcard inbox subscription and the
// token→future map for shared-inbox request/reply, per spec.md §4.5.
// Grounded on the teacher's Request/NewInbox (nats.go:786-812), split out
// of a single-shot per-request subscription into one long-lived inbox.
type respCorrelator struct {
	nc     *Conn
	prefix string // "<inboxPrefix>.<nuid>."
	sub    *Subscription

	mu      sync.Mutex
	pending map[string]*pendingRequest
}

func (nc *Conn) requestCorrelator() (*respCorrelator, error) {
	nc.mu.Lock()
	rc := nc.reqCorrelator
	nc.mu.Unlock()
	if rc != nil {
		return rc, nil
	}

	nc.mu.Lock()
	defer nc.mu.Unlock()
	if nc.reqCorrelator != nil {
		return nc.reqCorrelator, nil
	}
	prefix := nc.opts.InboxPrefix + newInboxToken() + "."
	rc = &respCorrelator{nc: nc, prefix: prefix, pending: make(map[string]*pendingRequest)}

	nc.mu.Unlock()
	sub, err := nc.Subscribe(prefix+"*", rc.onReply)
	nc.mu.Lock()
	if err != nil {
		return nil, err
	}
	rc.sub = sub
	nc.reqCorrelator = rc
	return rc, nil
}

func (rc *respCorrelator) onReply(m *Msg) {
	token := strings.TrimPrefix(m.Subject, rc.prefix)

	rc.mu.Lock()
	pr, ok := rc.pending[token]
	if ok {
		delete(rc.pending, token)
	}
	rc.mu.Unlock()
	if !ok || pr.done {
		return
	}

	if code, has := m.Header.statusCode(); has && code == 503 && pr.cancelOn503 {
		pr.done = true
		pr.errCh <- ErrNoResponders
		return
	}
	pr.done = true
	pr.ch <- m
}

func (rc *respCorrelator) startCleanup(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = DefaultRequestCleanupInterval
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				rc.cancelAll(ErrConnectionClosed)
				return
			case <-t.C:
				rc.sweepExpired()
			}
		}
	}()
}

func (rc *respCorrelator) sweepExpired() {
	now := time.Now()
	var expired []*pendingRequest
	rc.mu.Lock()
	for tok, pr := range rc.pending {
		if !pr.deadline.IsZero() && now.After(pr.deadline) {
			expired = append(expired, pr)
			delete(rc.pending, tok)
		}
	}
	rc.mu.Unlock()
	for _, pr := range expired {
		if !pr.done {
			pr.done = true
			pr.errCh <- ErrTimeout
		}
	}
}

func (rc *respCorrelator) cancelAll(err error) {
	rc.mu.Lock()
	pending := rc.pending
	rc.pending = make(map[string]*pendingRequest)
	rc.mu.Unlock()
	for _, pr := range pending {
		if !pr.done {
			pr.done = true
			pr.errCh <- err
		}
	}
}

// RequestMsg performs a blocking request/reply round trip using m's
// Subject, Header and Data. When UseOldRequestStyle is set, a fresh
// per-request subscription with unsubscribe-after-1 is used instead of the
// shared inbox, per spec.md §4.5.
func (nc *Conn) RequestMsg(m *Msg, timeout time.Duration) (*Msg, error) {
	nc.mu.Lock()
	oldStyle := nc.opts.UseOldRequestStyle
	nc.mu.Unlock()
	if oldStyle {
		return nc.requestOldStyle(m.Subject, m.Header, m.Data, timeout)
	}
	return nc.requestSharedInbox(m.Subject, m.Header, m.Data, timeout, true)
}

// Request is RequestMsg for a bare subject/payload, with cancel-on-503
// enabled (the common case: the caller wants a definitive "nobody is
// listening" signal rather than a timeout).
func (nc *Conn) Request(subject string, data []byte, timeout time.Duration) (*Msg, error) {
	return nc.RequestMsg(&Msg{Subject: subject, Data: data}, timeout)
}

func (nc *Conn) requestSharedInbox(subject string, hdr Header, data []byte, timeout time.Duration, cancelOn503 bool) (*Msg, error) {
	rc, err := nc.requestCorrelator()
	if err != nil {
		return nil, err
	}

	token := newInboxToken()
	pr := &pendingRequest{
		token:       token,
		ch:          make(chan *Msg, 1),
		errCh:       make(chan error, 1),
		cancelOn503: cancelOn503,
	}
	if timeout > 0 {
		pr.deadline = time.Now().Add(timeout)
	}

	rc.mu.Lock()
	rc.pending[token] = pr
	rc.mu.Unlock()

	if err := nc.publish(subject, rc.prefix+token, hdr, data); err != nil {
		rc.mu.Lock()
		delete(rc.pending, token)
		rc.mu.Unlock()
		return nil, err
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case m := <-pr.ch:
		return m, nil
	case err := <-pr.errCh:
		return nil, err
	case <-t.C:
		rc.mu.Lock()
		delete(rc.pending, token)
		rc.mu.Unlock()
		return nil, ErrTimeout
	}
}

// requestOldStyle implements spec.md §4.5's "old-style" mode: a fresh
// subscription per request, unsubscribe-after-1, explicitly unsubscribed
// on cancellation to avoid leaking interest when no reply ever arrives.
// Grounded directly on the teacher's Request (nats.go:786-801).
func (nc *Conn) requestOldStyle(subject string, hdr Header, data []byte, timeout time.Duration) (*Msg, error) {
	inbox := NewInbox(nc.opts.InboxPrefix)
	s, err := nc.SubscribeSync(inbox)
	if err != nil {
		return nil, err
	}
	s.AutoUnsubscribe(1)
	defer s.Unsubscribe()

	if err := nc.publish(subject, inbox, hdr, data); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	m, err := s.NextMsg(timeout)
	if err != nil {
		return nil, err
	}
	if code, has := m.Header.statusCode(); has && code == 503 {
		return nil, ErrNoResponders
	}
	return m, nil
}
