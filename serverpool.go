// Copyright 2012 Apcera Inc. All rights reserved.

package nats

import (
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"sync"
)

// srv is one candidate server: a configured seed or a peer the server
// advertised in its INFO frame.
type srv struct {
	url         *url.URL
	didConnect  bool
	reconnects  int  // consecutive connect failures
	lastAuthErr string
	isPermanentlyPruned bool
	isDiscovered bool
}

func (s *srv) String() string { return s.url.String() }

// serverPool owns the ordered candidate list spec.md §4.1 describes: seeds
// union server-advertised peers, minus permanently-pruned entries,
// optionally shuffled, with the currently-connected server always
// re-appended at the end so it is tried last on the next pass.
type serverPool struct {
	mu   sync.Mutex
	seed []*url.URL // original configured seeds; pruning applies to them like any other server
	srvs []*srv
	randomize bool
}

func newServerPool(urls []string, randomize bool) (*serverPool, error) {
	p := &serverPool{randomize: randomize}
	for _, raw := range urls {
		u, err := parseServerURL(raw)
		if err != nil {
			return nil, err
		}
		p.seed = append(p.seed, u)
		p.srvs = append(p.srvs, &srv{url: u})
	}
	if len(p.srvs) == 0 {
		return nil, ErrNoServers
	}
	return p, nil
}

// parseServerURL accepts bare host:port (defaulting to nats://) or a fully
// schemed URL (nats://, tls://, opentls://, ws://, wss://).
func parseServerURL(raw string) (*url.URL, error) {
	s := raw
	if !strings.Contains(s, "://") {
		s = "nats://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("nats: invalid server URL %q: %w", raw, err)
	}
	if u.Port() == "" {
		u.Host = fmt.Sprintf("%s:%d", u.Hostname(), DefaultPort)
	}
	return u, nil
}

func urlKind(u *url.URL) string {
	switch strings.ToLower(u.Scheme) {
	case "tls":
		return "tls"
	case "opentls":
		return "opentls"
	case "ws":
		return "ws"
	case "wss":
		return "wss"
	default:
		return "tcp"
	}
}

// currentServer returns the srv record backing the given url, or nil.
func (p *serverPool) currentServer(u *url.URL) *srv {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.srvs {
		if s.url.String() == u.String() {
			return s
		}
	}
	return nil
}

// pickOrder returns the candidates to try in order, following the pool
// policy: seeds ∪ discovered ⊖ pruned, optionally shuffled, with `current`
// (if non-nil) taken out before the shuffle and re-appended at the tail.
func (p *serverPool) pickOrder(current *url.URL) []*srv {
	p.mu.Lock()
	defer p.mu.Unlock()

	live := make([]*srv, 0, len(p.srvs))
	var currentSrv *srv
	for _, s := range p.srvs {
		if s.isPermanentlyPruned {
			continue
		}
		if current != nil && s.url.String() == current.String() {
			currentSrv = s
			continue
		}
		live = append(live, s)
	}

	if p.randomize {
		rand.Shuffle(len(live), func(i, j int) { live[i], live[j] = live[j], live[i] })
	}

	if currentSrv != nil {
		live = append(live, currentSrv)
	}
	return live
}

// mergeDiscovered folds server-advertised peer URLs into the pool. Peers no
// longer advertised are left alone (they may simply be a stale INFO). A
// peer already present but previously pruned is re-admitted by clearing
// its prune flag, since spec.md §4.1 re-admits a server "only if
// re-advertised in a future INFO" and §8's pool property
// (S ∪ latest(D)) ⊖ pruned only holds if rediscovery can un-prune.
func (p *serverPool) mergeDiscovered(peers []string, ignore bool) {
	if ignore {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	existing := make(map[string]*srv, len(p.srvs))
	for _, s := range p.srvs {
		existing[s.url.Host] = s
	}
	for _, raw := range peers {
		u, err := parseServerURL(raw)
		if err != nil {
			continue
		}
		if s, ok := existing[u.Host]; ok {
			if s.isPermanentlyPruned {
				s.isPermanentlyPruned = false
				s.reconnects = 0
			}
			continue
		}
		s := &srv{url: u, isDiscovered: true}
		p.srvs = append(p.srvs, s)
		existing[u.Host] = s
	}
}

// registerFailure increments s's consecutive-failure count and, once it
// exceeds maxReconnect (maxReconnect >= 0; -1 never prunes), prunes it
// permanently. A server
// is always allowed at least one attempt, even when maxReconnect is 0: the
// prune only takes effect after an attempt has actually been made.
func (p *serverPool) registerFailure(s *srv, maxReconnect int, authErr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s.reconnects++
	if authErr != "" {
		s.lastAuthErr = authErr
	}
	if maxReconnect >= 0 && s.reconnects > maxReconnect {
		s.isPermanentlyPruned = true
	}
}

func (p *serverPool) registerSuccess(s *srv) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s.reconnects = 0
	s.lastAuthErr = ""
	s.didConnect = true
}

func (p *serverPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.srvs {
		if !s.isPermanentlyPruned {
			n++
		}
	}
	return n
}

// urls returns the pool's current candidate URLs in storage order, for
// tests and diagnostics.
func (p *serverPool) urls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.srvs))
	for _, s := range p.srvs {
		if !s.isPermanentlyPruned {
			out = append(out, s.url.String())
		}
	}
	return out
}
