// Copyright 2012 Apcera Inc. All rights reserved.

package nats

import (
	"bufio"
	"io"
	"strings"
	"time"
)

// natsReader wraps a transport's byte stream with the buffering the line
// parser needs: CRLF-terminated control lines, then length-prefixed
// payload/header blocks, per spec.md §4.2. Grounded on the teacher's
// br *bufio.Reader usage (nats.go:93, 249-250).
type natsReader struct {
	br *bufio.Reader
}

func newNatsReader(c transport) *natsReader {
	return &natsReader{br: bufio.NewReaderSize(c, defaultBufSize)}
}

// readControlLine reads up to the next CRLF, enforcing maxLen when > 0.
func (r *natsReader) readControlLine(maxLen int) (string, error) {
	line, err := r.br.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if maxLen > 0 && len(line) > maxLen {
		return "", ErrControlLineTooLong
	}
	return line, nil
}

// readBlock reads exactly n bytes (a header block, a payload, or both
// concatenated for HMSG).
func (r *natsReader) readBlock(n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.br, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// consumeCRLF reads the CRLF that terminates every MSG/HMSG payload.
func (r *natsReader) consumeCRLF() error {
	var b [2]byte
	_, err := io.ReadFull(r.br, b[:])
	return err
}

// readLoop is the engine's reader goroutine: it blocks on transport reads
// and dispatches each framed event, per spec.md §2's data-flow diagram
// (Transport → Line parser → Connection engine). Grounded on the teacher's
// readLoop (nats.go:542-564), extended with HMSG and the error-classifying
// dispatch to processReadOpErr.
func (nc *Conn) readLoop(br *natsReader, generation uint64) {
	for {
		line, err := br.readControlLine(nc.opts.MaxControlLine)
		if err != nil {
			nc.processReadOpErr(err, generation)
			return
		}
		nc.mu.Lock()
		nc.lastInboundAt = time.Now()
		nc.mu.Unlock()
		op, args := parseControl(line)
		switch op {
		case _MSG_OP_:
			if err := nc.processMsg(br, args, false); err != nil {
				nc.processReadOpErr(err, generation)
				return
			}
		case _HMSG_OP_:
			if err := nc.processMsg(br, args, true); err != nil {
				nc.processReadOpErr(err, generation)
				return
			}
		case _PING_OP_:
			nc.processPing()
		case _PONG_OP_:
			nc.processPong()
		case _INFO_OP_:
			nc.processInfo(args)
		case _OK_OP_:
			// nothing to do; kept as an explicit case to document intent
		case _ERR_OP_:
			nc.processErr(decodeErrText(args), generation)
			return
		case _EMPTY_:
			// blank keep-alive line; ignore
		default:
			nc.processReadOpErr(&ParserError{Op: op, Msg: "unknown protocol operation"}, generation)
			return
		}
	}
}
