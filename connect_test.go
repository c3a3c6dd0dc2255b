// Copyright 2012 Apcera Inc. All rights reserved.

package nats

import (
	"testing"
	"time"
)

func TestConnectHandshake(t *testing.T) {
	nc := newHarnessConn(t, func(fs *fakeServer) {
		fs.handshake("")
	})
	defer nc.Close()

	if nc.Status() != CONNECTED {
		t.Fatalf("expected CONNECTED, got %v", nc.Status())
	}
	if nc.info.Headers != true {
		t.Fatal("expected server info to report header support")
	}
}

func TestConnectNoInfoIsProtocolError(t *testing.T) {
	done := make(chan struct{})
	serverFn := func(fs *fakeServer) {
		fs.send("PING\r\n")
		close(done)
	}
	o := GetDefaultOptions()
	o.Servers = []string{"nats://127.0.0.1:4222"}
	o.Timeout = 500 * time.Millisecond
	o.MaxReconnect = 0
	o.AllowReconnect = false
	o.dialer = pipeDialer(t, serverFn)

	_, err := o.Connect()
	if err == nil {
		t.Fatal("expected connect to fail when server doesn't send INFO first")
	}
	<-done
}

func TestPublishAndSubscribeRoundTrip(t *testing.T) {
	delivered := make(chan *Msg, 1)
	nc := newHarnessConn(t, func(fs *fakeServer) {
		fs.handshake("")
		fs.readLine() // SUB updates  1
		fs.sendMsg("updates", 1, "hello")
	})
	defer nc.Close()

	sub, err := nc.Subscribe("updates", func(m *Msg) {
		delivered <- m
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	select {
	case m := <-delivered:
		if m.Subject != "updates" || string(m.Data) != "hello" {
			t.Fatalf("unexpected message: %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestSubscribeSyncNextMsg(t *testing.T) {
	nc := newHarnessConn(t, func(fs *fakeServer) {
		fs.handshake("")
		fs.readLine() // SUB jobs  1
		fs.sendMsg("jobs", 1, "work")
	})
	defer nc.Close()

	sub, err := nc.SubscribeSync("jobs")
	if err != nil {
		t.Fatalf("SubscribeSync: %v", err)
	}
	m, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("NextMsg: %v", err)
	}
	if string(m.Data) != "work" {
		t.Fatalf("unexpected payload: %q", m.Data)
	}
}

func TestQueueSubscribeSendsQueueInSub(t *testing.T) {
	subLine := make(chan string, 1)
	nc := newHarnessConn(t, func(fs *fakeServer) {
		fs.sendInfo("")
		_ = fs.readLine() // CONNECT
		_ = fs.readLine() // PING
		fs.send("PONG\r\n")
		subLine <- fs.readLine()
	})
	defer nc.Close()

	if _, err := nc.QueueSubscribe("jobs", "workers", func(*Msg) {}); err != nil {
		t.Fatalf("QueueSubscribe: %v", err)
	}

	select {
	case line := <-subLine:
		if line != "SUB jobs workers 1" {
			t.Fatalf("unexpected SUB line: %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for SUB frame")
	}
}

func TestHMsgDelivery(t *testing.T) {
	delivered := make(chan *Msg, 1)
	nc := newHarnessConn(t, func(fs *fakeServer) {
		fs.handshake("")
		fs.readLine() // SUB events  1
		hdr := "NATS/1.0\r\nX-Test: 1\r\n\r\n"
		payload := "body"
		fs.send("HMSG events 1 %d %d\r\n%s%s\r\n", len(hdr), len(hdr)+len(payload), hdr, payload)
	})
	defer nc.Close()

	sub, err := nc.Subscribe("events", func(m *Msg) { delivered <- m })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	select {
	case m := <-delivered:
		if m.Header.Get("X-Test") != "1" || string(m.Data) != "body" {
			t.Fatalf("unexpected HMSG delivery: header=%v data=%q", m.Header, m.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for HMSG delivery")
	}
}
