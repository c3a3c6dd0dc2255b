// Copyright 2012 Apcera Inc. All rights reserved.

//go:build natsserver

package nats

import (
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	natsserver "github.com/nats-io/nats-server/v2/test"
)

// runEmbeddedServer starts a real nats-server on a random port, grounded on
// the teacher's own RunServerOnPort/RunServerWithOptions helpers
// (service/test/service_test.go, micro/test/service_test.go). Opt-in via
// the natsserver build tag since it needs the nats-server/v2 module and a
// free port, unlike the fake-transport suite in the rest of this package.
func runEmbeddedServer(t *testing.T) *server.Server {
	t.Helper()
	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	s := natsserver.RunServer(&opts)
	t.Cleanup(s.Shutdown)
	return s
}

func TestIntegrationConnectPublishSubscribe(t *testing.T) {
	s := runEmbeddedServer(t)

	nc, err := Connect(s.ClientURL())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer nc.Close()

	delivered := make(chan *Msg, 1)
	sub, err := nc.Subscribe("greetings", func(m *Msg) { delivered <- m })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := nc.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := nc.Publish("greetings", []byte("hello")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case m := <-delivered:
		if string(m.Data) != "hello" {
			t.Fatalf("unexpected payload: %q", m.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery against embedded server")
	}
}

func TestIntegrationRequestReply(t *testing.T) {
	s := runEmbeddedServer(t)

	responder, err := Connect(s.ClientURL())
	if err != nil {
		t.Fatalf("Connect responder: %v", err)
	}
	defer responder.Close()

	sub, err := responder.Subscribe("echo", func(m *Msg) {
		responder.Publish(m.Reply, m.Data)
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()
	if err := responder.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	requester, err := Connect(s.ClientURL())
	if err != nil {
		t.Fatalf("Connect requester: %v", err)
	}
	defer requester.Close()

	m, err := requester.Request("echo", []byte("ping"), 2*time.Second)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if string(m.Data) != "ping" {
		t.Fatalf("unexpected reply: %q", m.Data)
	}
}

func TestIntegrationReconnectAfterServerRestart(t *testing.T) {
	s := runEmbeddedServer(t)
	opts := s.Opts()

	var reconnected = make(chan struct{}, 1)
	nc, err := Connect(s.ClientURL(),
		ReconnectWait(50*time.Millisecond),
		ReconnectHandler(func(*Conn) { reconnected <- struct{}{} }),
	)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer nc.Close()

	s.Shutdown()
	s2 := natsserver.RunServer(opts)
	defer s2.Shutdown()

	select {
	case <-reconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for ReconnectedCB after server restart")
	}
	if nc.Status() != CONNECTED {
		t.Fatalf("expected CONNECTED after reconnect, got %v", nc.Status())
	}
}
