// Copyright 2012 Apcera Inc. All rights reserved.

package nats

import (
	"sync"
	"testing"
	"time"
)

func TestDrainUnsubscribesThenCloses(t *testing.T) {
	unsubSeen := make(chan string, 1)
	nc := newHarnessConn(t, func(fs *fakeServer) {
		fs.handshake("")
		fs.readLine() // SUB updates  1
		unsubSeen <- fs.readLine()
	})

	sub, err := nc.Subscribe("updates", func(*Msg) {})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := nc.Drain(2 * time.Second); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	select {
	case line := <-unsubSeen:
		if line != "UNSUB 1 " {
			t.Fatalf("unexpected UNSUB frame: %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for UNSUB")
	}

	if nc.Status() != CLOSED {
		t.Fatalf("expected CLOSED after drain, got %v", nc.Status())
	}
	if !sub.invalid {
		t.Fatal("expected subscription to be invalidated after drain")
	}
}

func TestDrainCalledTwiceReturnsSameOutcome(t *testing.T) {
	nc := newHarnessConn(t, func(fs *fakeServer) {
		fs.handshake("")
		fs.readLine() // SUB updates  1
		fs.readLine() // UNSUB 1
	})

	if _, err := nc.Subscribe("updates", func(*Msg) {}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = nc.Drain(2 * time.Second)
		}(i)
	}
	wg.Wait()

	if errs[0] != errs[1] {
		t.Fatalf("expected both Drain calls to observe the same outcome, got %v and %v", errs[0], errs[1])
	}
	if nc.Status() != CLOSED {
		t.Fatalf("expected CLOSED after drain, got %v", nc.Status())
	}
}
