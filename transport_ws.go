// Copyright 2012 Apcera Inc. All rights reserved.

package nats

import (
	"crypto/tls"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsTransport adapts a *websocket.Conn (binary message framing) to the
// transport interface so the line parser and writer can treat it exactly
// like a raw TCP/TLS socket, per spec.md §2's "Transport... Variants:
// plain TCP, TLS, WebSocket." Grounded on github.com/gorilla/websocket,
// vendored in the pack by ethereum-go-ethereum.
type wsTransport struct {
	ws *websocket.Conn

	mu      sync.Mutex
	leftover []byte

	readDeadline  time.Time
	writeDeadline time.Time
}

func dialWS(u *url.URL, timeout time.Duration, tc *tls.Config) (*wsTransport, error) {
	scheme := "ws"
	if urlKind(u) == "wss" {
		scheme = "wss"
	}
	dialURL := *u
	dialURL.Scheme = scheme

	dialer := &websocket.Dialer{
		HandshakeTimeout: timeout,
		TLSClientConfig:  tc,
	}
	c, _, err := dialer.Dial(dialURL.String(), nil)
	if err != nil {
		return nil, err
	}
	return &wsTransport{ws: c}, nil
}

func (w *wsTransport) Read(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for len(w.leftover) == 0 {
		_, data, err := w.ws.ReadMessage()
		if err != nil {
			return 0, err
		}
		w.leftover = data
	}
	n := copy(b, w.leftover)
	w.leftover = w.leftover[n:]
	return n, nil
}

func (w *wsTransport) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (w *wsTransport) Close() error {
	return w.ws.Close()
}

func (w *wsTransport) LocalAddr() net.Addr  { return w.ws.LocalAddr() }
func (w *wsTransport) RemoteAddr() net.Addr { return w.ws.RemoteAddr() }

func (w *wsTransport) SetDeadline(t time.Time) error {
	if err := w.SetReadDeadline(t); err != nil {
		return err
	}
	return w.SetWriteDeadline(t)
}

func (w *wsTransport) SetReadDeadline(t time.Time) error {
	w.readDeadline = t
	return w.ws.SetReadDeadline(t)
}

func (w *wsTransport) SetWriteDeadline(t time.Time) error {
	w.writeDeadline = t
	return w.ws.SetWriteDeadline(t)
}

// upgradeTLS is a no-op for WebSocket transports: the secure channel is
// negotiated at dial time via the wss:// scheme, not in-place afterwards.
func (w *wsTransport) upgradeTLS(cfg *tls.Config) error {
	return nil
}
