// Copyright 2012 Apcera Inc. All rights reserved.

package nats

import "sync/atomic"

// publish is the shared internal implementation behind Publish,
// PublishMsg and PublishRequest. Grounded on the teacher's publish
// (nats.go:743-764), extended with header support, payload-size checks
// and reconnect-buffer accounting per spec.md §4.1/§4.3.
func (nc *Conn) publish(subject, reply string, hdr Header, data []byte) error {
	if err := validateSubject(subject, false); err != nil {
		return err
	}

	nc.mu.Lock()
	if nc.isClosed() {
		nc.mu.Unlock()
		return ErrConnectionClosed
	}
	if nc.drainBlocksPublish() {
		nc.mu.Unlock()
		return ErrDrainInProgress
	}
	if len(hdr) > 0 && !nc.info.Headers {
		nc.mu.Unlock()
		return ErrHeadersNotSupported
	}
	maxPayload := nc.info.MaxPayload
	checkPayload := nc.opts.ClientSideLimitChecks
	nc.mu.Unlock()

	if checkPayload && maxPayload > 0 && int64(len(data)) > maxPayload {
		return ErrPayloadTooLarge
	}

	line, frame := buildPubFrame(subject, reply, hdr, data)
	if err := nc.bw.writeUser(line, frame); err != nil {
		return err
	}
	nc.bw.kick()

	atomic.AddUint64(&nc.OutMsgs, 1)
	atomic.AddUint64(&nc.OutBytes, uint64(len(data)))
	return nil
}

// Publish publishes data on subject.
func (nc *Conn) Publish(subject string, data []byte) error {
	return nc.publish(subject, _EMPTY_, nil, data)
}

// PublishMsg publishes m, including its Reply and Header fields.
func (nc *Conn) PublishMsg(m *Msg) error {
	return nc.publish(m.Subject, m.Reply, m.Header, m.Data)
}

// PublishRequest publishes data on subject with reply set, without waiting
// for a response. Use Request for the blocking round trip.
func (nc *Conn) PublishRequest(subject, reply string, data []byte) error {
	return nc.publish(subject, reply, nil, data)
}

// processMsg parses a MSG/HMSG argument list, reads its header/payload
// block, and routes it to the matching subscription's delivery path per
// spec.md §4.4. Grounded on the teacher's processMsg (nats.go:591-656).
func (nc *Conn) processMsg(br *natsReader, args string, isHeader bool) error {
	a, err := parseMsgArgs(isHeader, args)
	if err != nil {
		return err
	}

	block, err := br.readBlock(a.totalLen)
	if err != nil {
		return err
	}
	if err := br.consumeCRLF(); err != nil {
		return err
	}

	atomic.AddUint64(&nc.InMsgs, 1)
	atomic.AddUint64(&nc.InBytes, uint64(a.totalLen))

	nc.mu.Lock()
	sub := nc.subs[a.sid]
	nc.mu.Unlock()
	if sub == nil {
		// Tolerated: the client may have already sent UNSUB for a
		// subscription whose in-flight messages are still arriving.
		return nil
	}

	m := &Msg{Subject: a.subject, Reply: a.reply, Sub: sub, wsz: a.totalLen}
	if isHeader {
		hdr, herr := decodeHeadersMsg(block[:a.hdrLen])
		if herr != nil {
			return herr
		}
		m.Header = hdr
		m.Data = block[a.hdrLen:]
	} else {
		m.Data = block
	}

	nc.deliverToSub(sub, m)
	return nil
}

// deliverToSub applies the pending-limit/slow-consumer check and enqueues
// m to the subscription's sync channel or owning dispatcher, per
// spec.md §4.4 steps 2-4.
func (nc *Conn) deliverToSub(sub *Subscription, m *Msg) {
	sub.mu.Lock()
	if sub.invalid {
		sub.mu.Unlock()
		return
	}
	if sub.preQueueFilter != nil && !sub.preQueueFilter(m) {
		sub.mu.Unlock()
		return
	}

	msgLimit, byteLimit := sub.pendingMsgLimit, sub.pendingByteLimit
	overLimit := (msgLimit > 0 && sub.pendingMsgs+1 > msgLimit) ||
		(byteLimit > 0 && sub.pendingBytes+m.wsz > byteLimit)

	if overLimit {
		sub.dropped++
		alreadyFlagged := sub.slowConsumer
		sub.slowConsumer = true
		sub.mu.Unlock()
		if !alreadyFlagged {
			nc.fireSlowConsumer(sub)
		}
		return
	}

	sub.pendingMsgs++
	sub.pendingBytes += m.wsz
	disp := sub.disp
	mch := sub.mch
	sub.mu.Unlock()

	if disp != nil {
		disp.enqueue(m)
		return
	}
	select {
	case mch <- m:
	default:
		// Channel is already at capacity despite the pending-count check
		// above (a burst raced the limit check); count it as dropped too.
		sub.mu.Lock()
		sub.dropped++
		sub.pendingMsgs--
		sub.pendingBytes -= m.wsz
		sub.mu.Unlock()
	}
}

// fireSlowConsumer emits a one-shot SlowConsumer event, not per dropped
// message, per spec.md §4.4.
func (nc *Conn) fireSlowConsumer(sub *Subscription) {
	if nc.opts.AsyncErrorCB != nil {
		nc.ach.push(func() { nc.opts.AsyncErrorCB(nc, sub, ErrSlowConsumer) })
	}
}
