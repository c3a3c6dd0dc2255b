// Copyright 2012 Apcera Inc. All rights reserved.

package nats

import (
	"strings"
	"testing"
	"time"
)

func TestRequestSharedInboxRoundTrip(t *testing.T) {
	nc := newHarnessConn(t, func(fs *fakeServer) {
		fs.handshake("")

		subLine := fs.readLine() // SUB _INBOX.<nuid>.* <sid>
		fields := strings.Fields(subLine)
		sid := fields[len(fields)-1]

		pubLine := fs.readLine() // PUB service <replyTo> <len>
		fields = strings.Fields(pubLine)
		replyTo := fields[2]
		fs.readLine() // payload + CRLF

		fs.send("MSG %s %s %d\r\n%s\r\n", replyTo, sid, len("pong"), "pong")
	})
	defer nc.Close()

	m, err := nc.Request("service", []byte("ping"), 2*time.Second)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if string(m.Data) != "pong" {
		t.Fatalf("unexpected reply payload: %q", m.Data)
	}
}

func TestRequestNoRespondersCancels503(t *testing.T) {
	nc := newHarnessConn(t, func(fs *fakeServer) {
		fs.handshake("")

		subLine := fs.readLine()
		fields := strings.Fields(subLine)
		sid := fields[len(fields)-1]

		pubLine := fs.readLine()
		fields = strings.Fields(pubLine)
		replyTo := fields[2]
		fs.readLine() // payload + CRLF

		hdr := "NATS/1.0 503\r\n\r\n"
		fs.send("HMSG %s %s %d %d\r\n%s\r\n", replyTo, sid, len(hdr), len(hdr), hdr)
	})
	defer nc.Close()

	_, err := nc.Request("service", []byte("ping"), 2*time.Second)
	if err != ErrNoResponders {
		t.Fatalf("expected ErrNoResponders, got %v", err)
	}
}

func TestRequestOldStyleRoundTrip(t *testing.T) {
	nc := newHarnessConn(t, func(fs *fakeServer) {
		fs.handshake("")

		subLine := fs.readLine() // SUB _INBOX.<nuid> <sid>
		fields := strings.Fields(subLine)
		sid := fields[len(fields)-1]
		inbox := fields[1]

		pubLine := fs.readLine() // PUB service <inbox> <len>
		fields = strings.Fields(pubLine)
		if fields[2] != inbox {
			t.Fatalf("expected reply-to %q to match subscribed inbox, got %q", inbox, fields[2])
		}
		fs.readLine() // payload + CRLF

		fs.send("MSG %s %s %d\r\n%s\r\n", inbox, sid, len("pong"), "pong")
	}, UseOldRequestStyle())
	defer nc.Close()

	m, err := nc.Request("service", []byte("ping"), 2*time.Second)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if string(m.Data) != "pong" {
		t.Fatalf("unexpected reply payload: %q", m.Data)
	}
}

func TestRequestTimeoutWithNoReply(t *testing.T) {
	nc := newHarnessConn(t, func(fs *fakeServer) {
		fs.handshake("")
		fs.readLine() // SUB
		fs.readLine() // PUB
		fs.readLine() // payload
	})
	defer nc.Close()

	_, err := nc.Request("service", []byte("ping"), 50*time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}
