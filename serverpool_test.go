// Copyright 2012 Apcera Inc. All rights reserved.

package nats

import "testing"

func TestNewServerPoolDefaultsPort(t *testing.T) {
	p, err := newServerPool([]string{"localhost"}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	urls := p.urls()
	if len(urls) != 1 || urls[0] != "nats://localhost:4222" {
		t.Fatalf("unexpected urls: %v", urls)
	}
}

func TestNewServerPoolEmptyIsError(t *testing.T) {
	if _, err := newServerPool(nil, false); err != ErrNoServers {
		t.Fatalf("expected ErrNoServers, got %v", err)
	}
}

func TestPickOrderPushesCurrentToTail(t *testing.T) {
	p, err := newServerPool([]string{"a:4222", "b:4222", "c:4222"}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	current := p.srvs[0].url
	order := p.pickOrder(current)
	if len(order) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(order))
	}
	if order[len(order)-1].url.String() != current.String() {
		t.Fatalf("expected current server last, got order: %v", order)
	}
}

func TestRegisterFailurePrunesAfterMax(t *testing.T) {
	p, err := newServerPool([]string{"a:4222"}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := p.srvs[0]
	for i := 0; i < 3; i++ {
		p.registerFailure(s, 2, "")
	}
	if !s.isPermanentlyPruned {
		t.Fatal("expected server to be pruned after exceeding maxReconnect")
	}
	if p.size() != 0 {
		t.Fatalf("expected pool size 0 after pruning, got %d", p.size())
	}
}

func TestRegisterSuccessResetsFailureState(t *testing.T) {
	p, err := newServerPool([]string{"a:4222"}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := p.srvs[0]
	p.registerFailure(s, 5, "authorization violation")
	p.registerSuccess(s)
	if s.reconnects != 0 || s.lastAuthErr != "" || !s.didConnect {
		t.Fatalf("unexpected state after registerSuccess: %+v", s)
	}
}

func TestMergeDiscoveredReadmitsPrunedPeer(t *testing.T) {
	p, err := newServerPool([]string{"a:4222"}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := p.srvs[0]
	for i := 0; i < 3; i++ {
		p.registerFailure(s, 2, "")
	}
	if !s.isPermanentlyPruned || p.size() != 0 {
		t.Fatalf("expected server pruned before rediscovery, got pruned=%v size=%d", s.isPermanentlyPruned, p.size())
	}

	p.mergeDiscovered([]string{"a:4222"}, false)

	if s.isPermanentlyPruned {
		t.Fatal("expected rediscovery in a future INFO to clear the prune flag")
	}
	if s.reconnects != 0 {
		t.Fatalf("expected reconnects reset on rediscovery, got %d", s.reconnects)
	}
	if p.size() != 1 {
		t.Fatalf("expected pool size 1 after rediscovery, got %d", p.size())
	}
}

func TestMergeDiscoveredAddsNewPeers(t *testing.T) {
	p, err := newServerPool([]string{"a:4222"}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.mergeDiscovered([]string{"a:4222", "b:4222"}, false)
	if p.size() != 2 {
		t.Fatalf("expected 2 servers after merge, got %d", p.size())
	}
	p.mergeDiscovered([]string{"c:4222"}, true)
	if p.size() != 2 {
		t.Fatal("expected merge to be a no-op when ignore is true")
	}
}
