// Copyright 2012 Apcera Inc. All rights reserved.

package nats

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"sync"
)

// defaultBufSize mirrors the teacher's bufio sizing
// choices (nats.go:230-234), generalized to the writer's own type.
const (
	defaultBufSize = 32768
)

// natsWriter buffers outgoing frames and flushes them to the transport. It
// keeps the two queues spec.md §4.3 requires: an unbounded internal queue
// for protocol frames the engine itself issues (SUB/UNSUB/CONNECT/PING/
// PONG), and a byte-budgeted user queue for publishes made while
// Reconnecting. Grounded on the teacher's sendProto/kickFlusher/flusher
// (nats.go:333-340, 668-689), split in two.
type natsWriter struct {
	mu  sync.Mutex
	out *bufio.Writer
	fch chan struct{}

	attached bool

	internalBuf bytes.Buffer // unbounded, never dropped
	userBuf     bytes.Buffer // bounded by maxPending bytes while detached

	maxPending     int
	maxControlLine int
}

func newNatsWriter(maxPending, maxControlLine int) *natsWriter {
	return &natsWriter{
		fch:            make(chan struct{}, 1),
		maxPending:     maxPending,
		maxControlLine: maxControlLine,
	}
}

// attach points the writer at a live transport. It does not by itself
// drain any buffered frames: the engine controls that ordering explicitly
// via drainBuffered, so it can interleave a fresh resubscription burst
// ahead of frames that were queued during the outage (spec.md §4.1's
// "resubscription frames are enqueued before user frames are resumed").
func (w *natsWriter) attach(c transport) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.out = bufio.NewWriterSize(c, defaultBufSize)
	w.attached = true
	return nil
}

// drainBuffered pushes whatever accumulated in the internal queue, then
// the user queue, into the now-live transport's write buffer, preserving
// submission order within each queue per spec.md §3's writer invariant.
func (w *natsWriter) drainBuffered() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.out == nil {
		return fmt.Errorf("nats: writer not active: %w", ErrConnectionClosed)
	}
	if w.internalBuf.Len() > 0 {
		if _, err := w.out.Write(w.internalBuf.Bytes()); err != nil {
			return err
		}
		w.internalBuf.Reset()
	}
	if w.userBuf.Len() > 0 {
		if _, err := w.out.Write(w.userBuf.Bytes()); err != nil {
			return err
		}
		w.userBuf.Reset()
	}
	return nil
}

// detach stops writing to the (now-dead) transport; subsequent frames are
// buffered into the internal/user queues until the next attach.
func (w *natsWriter) detach() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.out = nil
	w.attached = false
}

func (w *natsWriter) checkControlLine(line string) error {
	if w.maxControlLine > 0 && len(line) > w.maxControlLine {
		return ErrControlLineTooLong
	}
	return nil
}

// writeInternal appends a protocol frame the engine itself owns (SUB,
// UNSUB, CONNECT, PING, PONG). It is never dropped and is unbounded while
// buffered, per spec.md §4.3.
func (w *natsWriter) writeInternal(controlLine string, frame []byte) error {
	if err := w.checkControlLine(controlLine); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.out != nil {
		_, err := w.out.Write(frame)
		return err
	}
	w.internalBuf.Write(frame)
	return nil
}

// writeUser appends a user PUB/HPUB frame. While attached to a live
// transport it is written straight through; while detached (Reconnecting)
// it is subject to the reconnect byte budget.
func (w *natsWriter) writeUser(controlLine string, frame []byte) error {
	if err := w.checkControlLine(controlLine); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.out != nil {
		_, err := w.out.Write(frame)
		return err
	}
	if !w.canQueueDuringReconnectLocked(len(frame)) {
		return ErrReconnectBufferFull
	}
	w.userBuf.Write(frame)
	return nil
}

// canQueueDuringReconnect reports whether enqueuing n additional bytes onto
// the user queue would stay within the configured reconnect-buffer-size
// ceiling. A ceiling <= 0 disables the check (unbounded).
func (w *natsWriter) canQueueDuringReconnect(n int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.canQueueDuringReconnectLocked(n)
}

func (w *natsWriter) canQueueDuringReconnectLocked(n int) bool {
	if w.maxPending <= 0 {
		return true
	}
	return w.userBuf.Len()+n <= w.maxPending
}

// kick requests an asynchronous flush; see flusherLoop.
func (w *natsWriter) kick() {
	select {
	case w.fch <- struct{}{}:
	default:
	}
}

// flusherLoop coalesces flush requests, matching the teacher's flusher
// goroutine (nats.go:668-689): many kicks collapse into one Flush.
func (w *natsWriter) flusherLoop(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-w.fch:
			w.mu.Lock()
			if w.out != nil {
				w.out.Flush()
			}
			w.mu.Unlock()
		}
	}
}

// flushBuffer synchronously pushes whatever is buffered to the transport.
// It is safe to call from any goroutine and fails with ErrConnectionClosed-
// class error when not attached, per spec.md §4.3.
func (w *natsWriter) flushBuffer() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.out == nil {
		return fmt.Errorf("nats: writer not active: %w", ErrConnectionClosed)
	}
	return w.out.Flush()
}

// --- Frame construction --------------------------------------------------

const (
	conProto   = "CONNECT %s" + _CRLF_
	pingProto  = "PING" + _CRLF_
	pongProto  = "PONG" + _CRLF_
	pubProto   = "PUB %s %s %d" + _CRLF_
	hpubProto  = "HPUB %s %s %d %d" + _CRLF_
	subProto   = "SUB %s %s %d" + _CRLF_
	unsubProto = "UNSUB %d %s" + _CRLF_
)

func buildPubFrame(subj, reply string, hdr Header, data []byte) (controlLine string, frame []byte) {
	if hdr != nil {
		hb := encodeHeadersMsg(hdr)
		total := len(hb) + len(data)
		controlLine = fmt.Sprintf(hpubProto, subj, reply, len(hb), total)
		buf := make([]byte, 0, len(controlLine)+total+2)
		buf = append(buf, controlLine...)
		buf = append(buf, hb...)
		buf = append(buf, data...)
		buf = append(buf, _CRLF_...)
		return controlLine, buf
	}
	controlLine = fmt.Sprintf(pubProto, subj, reply, len(data))
	buf := make([]byte, 0, len(controlLine)+len(data)+2)
	buf = append(buf, controlLine...)
	buf = append(buf, data...)
	buf = append(buf, _CRLF_...)
	return controlLine, buf
}

func buildSubFrame(subject, queue string, sid uint64) (string, []byte) {
	line := fmt.Sprintf(subProto, subject, queue, sid)
	return line, []byte(line)
}

func buildUnsubFrame(sid uint64, max int) (string, []byte) {
	maxStr := _EMPTY_
	if max > 0 {
		maxStr = strconv.Itoa(max)
	}
	line := fmt.Sprintf(unsubProto, sid, maxStr)
	return line, []byte(line)
}
