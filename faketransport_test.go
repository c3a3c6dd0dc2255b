// Copyright 2012 Apcera Inc. All rights reserved.

package nats

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"
)

// fakeTransport adapts one end of a net.Pipe to the transport interface so
// engine tests can drive a scripted server without a real listener socket.
type fakeTransport struct {
	net.Conn
}

func (f *fakeTransport) upgradeTLS(cfg *tls.Config) error { return nil }

// fakeServer is the test's hand on the other end of the pipe: a thin
// line-oriented helper for sending INFO/PING/PONG/MSG frames and reading
// back whatever the engine under test wrote.
type fakeServer struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func newFakeServer(t *testing.T, conn net.Conn) *fakeServer {
	return &fakeServer{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (fs *fakeServer) readLine() string {
	fs.t.Helper()
	fs.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := fs.r.ReadString('\n')
	if err != nil {
		fs.t.Fatalf("fakeServer: read error: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

func (fs *fakeServer) send(format string, args ...interface{}) {
	fs.t.Helper()
	if _, err := fmt.Fprintf(fs.conn, format, args...); err != nil {
		fs.t.Fatalf("fakeServer: write error: %v", err)
	}
}

const defaultFakeInfo = `{"server_id":"test-server","version":"2.10.0","proto":1,"host":"127.0.0.1","port":4222,"headers":true,"max_payload":1048576}`

func (fs *fakeServer) sendInfo(raw string) {
	if raw == "" {
		raw = defaultFakeInfo
	}
	fs.send("INFO %s\r\n", raw)
}

// handshake performs the server side of the connect handshake: send INFO,
// read back CONNECT and PING, answer PONG.
func (fs *fakeServer) handshake(info string) {
	fs.sendInfo(info)
	line := fs.readLine()
	if !strings.HasPrefix(line, "CONNECT ") {
		fs.t.Fatalf("fakeServer: expected CONNECT, got %q", line)
	}
	line = fs.readLine()
	if line != "PING" {
		fs.t.Fatalf("fakeServer: expected PING, got %q", line)
	}
	fs.send("PONG\r\n")
}

func (fs *fakeServer) sendMsg(subject string, sid uint64, data string) {
	fs.send("MSG %s %d %d\r\n%s\r\n", subject, sid, len(data), data)
}

func (fs *fakeServer) sendMsgReply(subject, reply string, sid uint64, data string) {
	fs.send("MSG %s %d %s %d\r\n%s\r\n", subject, sid, reply, len(data), data)
}

// pipeDialer returns an Options.dialer that hands out one end of a
// net.Pipe per dial attempt and runs serverFn on the other end in its own
// goroutine. serverFn is invoked once per connection attempt, so tests that
// simulate a reconnect pass a serverFn that behaves differently (or
// fails) on later calls.
func pipeDialer(t *testing.T, serverFn func(fs *fakeServer)) func(network, address string, timeout time.Duration) (transport, error) {
	return func(network, address string, timeout time.Duration) (transport, error) {
		client, server := net.Pipe()
		go serverFn(newFakeServer(t, server))
		return &fakeTransport{Conn: client}, nil
	}
}

// newHarnessConn builds a *Conn wired to a scripted fake server, bypassing
// any real network dial.
func newHarnessConn(t *testing.T, serverFn func(fs *fakeServer), opts ...Option) *Conn {
	t.Helper()
	o := GetDefaultOptions()
	o.Servers = []string{"nats://127.0.0.1:4222"}
	o.Timeout = 2 * time.Second
	o.PingInterval = 0 // disable the periodic pinger so it doesn't interfere with scripted tests
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			t.Fatalf("option error: %v", err)
		}
	}
	o.dialer = pipeDialer(t, serverFn)

	nc, err := o.Connect()
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return nc
}
