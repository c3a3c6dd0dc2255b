// Copyright 2012 Apcera Inc. All rights reserved.

package nats

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// connectInfo is the CONNECT frame's JSON body, per spec.md §6. JSON is
// kept as the wire codec for this one frame (and for decoding INFO)
// because spec.md §1 scopes out JSON encoding only for higher-level
// "management payloads", not the core CONNECT/INFO handshake itself;
// grounded on the teacher's own connectInfo/json.Marshal use
// (nats.go:158-164, 344-359).
type connectInfo struct {
	Verbose      bool   `json:"verbose"`
	Pedantic     bool   `json:"pedantic"`
	TLSRequired  bool   `json:"tls_required"`
	AuthToken    string `json:"auth_token,omitempty"`
	User         string `json:"user,omitempty"`
	Pass         string `json:"pass,omitempty"`
	NKey         string `json:"nkey,omitempty"`
	Sig          string `json:"sig,omitempty"`
	JWT          string `json:"jwt,omitempty"`
	Name         string `json:"name,omitempty"`
	Lang         string `json:"lang"`
	Version      string `json:"version"`
	Protocol     int    `json:"protocol"`
	Echo         bool   `json:"echo"`
	Headers      bool   `json:"headers"`
	NoResponders bool   `json:"no_responders"`
}

// connect is the top-level entry point invoked once from Options.Connect:
// it drives the reconnect loop until CONNECTED or permanent failure.
// Grounded on the teacher's connect (nats.go:269-289).
func (nc *Conn) connect() error {
	nc.setStatus(CONNECTING)
	err := nc.reconnectLoop(true)
	if err != nil && nc.opts.ReconnectOnInitialConnect && nc.opts.AllowReconnect {
		// Treat the initial failure as a recoverable disconnect: leave the
		// connection in RECONNECTING and keep trying in the background,
		// per spec.md §4.1 reconnect-on-initial-connect.
		nc.setStatus(RECONNECTING)
		go nc.reconnectLoop(false)
		return nil
	}
	return err
}

// tryConnect performs the ordered handshake spec.md §4.1 specifies against
// a single candidate. Every step is bounded by the remaining portion of
// opts.Timeout. When isReconnect is set, every live subscription is
// replayed onto the new transport before the reconnect-buffered user
// frames are drained, per spec.md §4.1's resubscription protocol.
func (nc *Conn) tryConnect(s *srv, isReconnect bool) error {
	deadline := time.Now().Add(nc.opts.Timeout)

	dial := nc.opts.dialer
	if dial == nil {
		dial = func(network, address string, timeout time.Duration) (transport, error) {
			return dialTransport(s.url, timeout, nc.opts.TLSConfig, nc.opts.TLSFirst)
		}
	}
	t, err := dial(urlKind(s.url), s.url.Host, time.Until(deadline))
	if err != nil {
		return err
	}

	br := newNatsReader(t)

	handshakeErr := make(chan error, 1)
	nc.mu.Lock()
	nc.handshakeErr = handshakeErr
	nc.mu.Unlock()
	defer func() {
		nc.mu.Lock()
		nc.handshakeErr = nil
		nc.mu.Unlock()
	}()

	t.SetReadDeadline(deadline)
	line, err := br.readControlLine(nc.opts.MaxControlLine)
	t.SetReadDeadline(time.Time{})
	if err != nil {
		t.Close()
		return err
	}
	op, args := parseControl(line)
	if op != _INFO_OP_ {
		t.Close()
		return errMissingInfoCRLF
	}

	var info serverInfo
	if err := json.Unmarshal([]byte(args), &info); err != nil {
		t.Close()
		return fmt.Errorf("%w: malformed INFO: %v", ErrProtocol, err)
	}

	if nc.opts.NoEcho && info.Proto < 1 {
		t.Close()
		return errors.New("nats: server does not support no-echo")
	}

	if nc.opts.HeadersRequired && !info.Headers {
		t.Close()
		return errors.New("nats: server does not support headers")
	}

	schemeTLS := urlKind(s.url) == "tls" || urlKind(s.url) == "opentls"
	if (nc.opts.Secure || info.TLSRequired || schemeTLS) && !nc.opts.TLSFirst {
		cfg := nc.opts.TLSConfig
		if cfg == nil {
			cfg = &tls.Config{ServerName: s.url.Hostname()}
			if urlKind(s.url) == "opentls" {
				cfg.InsecureSkipVerify = true
			}
		}
		if err := t.upgradeTLS(cfg); err != nil {
			t.Close()
			return err
		}
	}

	nc.mu.Lock()
	nc.conn = t
	nc.br = br
	nc.info = info
	gen := nc.bumpGeneration()
	if nc.bw == nil {
		nc.bw = newNatsWriter(nc.opts.ReconnectBufSize, nc.opts.MaxControlLine)
	}
	if err := nc.bw.attach(t); err != nil {
		nc.mu.Unlock()
		t.Close()
		return err
	}
	nc.cur = s
	nc.mu.Unlock()

	go nc.readLoop(br, gen)
	go nc.bw.flusherLoop(nc.closeCh)

	if err := nc.sendConnect(); err != nil {
		t.Close()
		return err
	}

	pongCh := make(chan error, 1)
	nc.mu.Lock()
	nc.pongs = append(nc.pongs, pongCh)
	nc.mu.Unlock()
	if err := nc.bw.writeInternal(pingProto, []byte(pingProto)); err != nil {
		t.Close()
		return err
	}
	if err := nc.bw.flushBuffer(); err != nil {
		t.Close()
		return err
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case err := <-pongCh:
		if err != nil {
			t.Close()
			return err
		}
	case err := <-handshakeErr:
		t.Close()
		return err
	case <-timer.C:
		t.Close()
		return ErrTimeout
	}

	if isReconnect {
		nc.resendSubscriptions()
	}
	if err := nc.bw.drainBuffered(); err != nil {
		t.Close()
		return err
	}

	nc.startTimers()
	nc.setStatus(CONNECTED)
	return nil
}

// connectProto renders the CONNECT frame's argument, signing the server
// nonce via nkey/JWT auth when configured (spec.md §4.1 step 9).
func (nc *Conn) connectProto() (string, error) {
	o := nc.opts
	var user, pass, token, nkey, sig, jwt string

	if o.User != "" {
		user, pass = o.User, o.Password
	}
	if o.Token != "" {
		token = o.Token
	}
	nc.mu.Lock()
	nonce := nc.info.Nonce
	nc.mu.Unlock()

	if o.NKey != "" && o.SignatureCB != nil && nonce != "" {
		nkey = o.NKey
		sigBytes, err := o.SignatureCB([]byte(nonce))
		if err != nil {
			return "", err
		}
		sig = b64RawURLEncode(sigBytes)
	}
	if o.UserJWT != nil {
		j, err := o.UserJWT()
		if err != nil {
			return "", err
		}
		jwt = j
		if o.JWTSigCB != nil && nonce != "" {
			sigBytes, err := o.JWTSigCB([]byte(nonce))
			if err != nil {
				return "", err
			}
			sig = b64RawURLEncode(sigBytes)
		}
	}

	ci := connectInfo{
		Verbose:      o.Verbose,
		Pedantic:     o.Pedantic,
		TLSRequired:  o.Secure,
		AuthToken:    token,
		User:         user,
		Pass:         pass,
		NKey:         nkey,
		Sig:          sig,
		JWT:          jwt,
		Name:         o.Name,
		Lang:         clientLang,
		Version:      Version,
		Protocol:     1,
		Echo:         !o.NoEcho,
		Headers:      true,
		NoResponders: true,
	}
	b, err := json.Marshal(ci)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(conProto, b), nil
}

const clientLang = "go"

func (nc *Conn) sendConnect() error {
	line, err := nc.connectProto()
	if err != nil {
		return err
	}
	if err := nc.bw.writeInternal(line, []byte(line)); err != nil {
		return err
	}
	nc.bw.kick()
	return nil
}

// processInfo handles both the initial and any subsequent INFO frames
// (peer updates, lame-duck signaling). Grounded on the teacher's
// processInfo (nats.go:714-721), extended with peer-pool merging and
// lame-duck/discovered-server callbacks.
func (nc *Conn) processInfo(args string) {
	if args == _EMPTY_ {
		return
	}
	var info serverInfo
	if err := json.Unmarshal([]byte(args), &info); err != nil {
		return
	}
	nc.mu.Lock()
	nc.info = info
	nc.mu.Unlock()

	if len(info.ConnectURLs) > 0 {
		nc.pool.mergeDiscovered(info.ConnectURLs, nc.opts.IgnoreDiscoveredServers)
		if nc.opts.DiscoveredServersCB != nil {
			nc.ach.push(func() { nc.opts.DiscoveredServersCB(nc) })
		}
	}
	if info.LameDuckMode && nc.opts.LameDuckModeCB != nil {
		nc.ach.push(func() { nc.opts.LameDuckModeCB(nc) })
	}
}

// processErr handles a -ERR frame. During the connect handshake it is
// routed to the waiting tryConnect goroutine; otherwise it is a fatal
// transport condition and, per spec.md §7 ("protocol errors force
// disconnect"), routes through processReadOpErr exactly like any other
// read-loop failure, so it reconnects or closes instead of leaving the
// reader goroutine dead with the connection stuck at CONNECTED. Grounded
// on the teacher's processErr (nats.go:728-733), which unconditionally
// calls nc.Close().
func (nc *Conn) processErr(text string, generation uint64) {
	err := fmt.Errorf("nats: %s", text)

	nc.mu.Lock()
	nc.lastErr = err
	hs := nc.handshakeErr
	nc.mu.Unlock()

	if hs != nil {
		select {
		case hs <- err:
		default:
		}
		return
	}

	if nc.opts.AsyncErrorCB != nil {
		nc.ach.push(func() { nc.opts.AsyncErrorCB(nc, nil, err) })
	}
	nc.processReadOpErr(err, generation)
}

// processReadOpErr is invoked whenever the reader loop or a handshake step
// fails. A stale generation (superseded by a later successful reconnect)
// is ignored. Grounded on the teacher's processReadOpErr (nats.go:526-538).
func (nc *Conn) processReadOpErr(err error, generation uint64) {
	if err == io.EOF {
		err = ErrStaleConnection
	}
	nc.mu.Lock()
	if nc.isClosed() || generation != nc.connGen {
		nc.mu.Unlock()
		return
	}
	nc.lastErr = err
	allowReconnect := nc.opts.AllowReconnect
	nc.mu.Unlock()

	if allowReconnect {
		nc.beginReconnect()
	} else {
		nc.Close()
	}
}

func (nc *Conn) bumpGeneration() uint64 {
	nc.connGen++
	return nc.connGen
}
