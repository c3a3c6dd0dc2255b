// Copyright 2012 Apcera Inc. All rights reserved.

package nats

import (
	"crypto/tls"
	"errors"
	"strings"
	"time"
)

// Option configures an Options value. Following the teacher's own
// jsv2/jetstream/options.go convention (JetStreamOpt func(*jsOpts) error),
// every connection-level knob in spec.md §4.1 gets one of these.
type Option func(*Options) error

// ReconnectDelayHandler overrides the computed reconnect delay; it receives
// the total number of reconnect attempts made so far (across all servers).
type ReconnectDelayHandler func(attempts int) time.Duration

// Options holds every recognized configuration knob from spec.md §4.1. A
// zero Options is invalid for direct use; start from GetDefaultOptions.
type Options struct {
	Servers  []string
	Randomize bool
	IgnoreDiscoveredServers bool

	Name     string
	Verbose  bool
	Pedantic bool

	Secure    bool
	TLSConfig *tls.Config
	TLSFirst  bool

	User     string
	Password string
	Token    string
	NKey     string
	SignatureCB func(nonce []byte) ([]byte, error)
	UserJWT  func() (string, error)
	JWTSigCB func(nonce []byte) ([]byte, error)

	AllowReconnect    bool
	MaxReconnect      int
	ReconnectWait     time.Duration
	ReconnectJitter   time.Duration
	ReconnectJitterTLS time.Duration
	ReconnectBufSize  int
	ReconnectDelayHandler ReconnectDelayHandler
	ReconnectOnInitialConnect bool

	Timeout                time.Duration
	PingInterval           time.Duration
	MaxPingsOut            int
	RequestCleanupInterval time.Duration
	MaxControlLine         int
	InboxPrefix            string
	NoEcho                bool
	HeadersRequired       bool
	ClientSideLimitChecks bool
	UseOldRequestStyle    bool

	DrainTimeout time.Duration

	DisconnectedCB    ConnHandler
	ReconnectedCB     ConnHandler
	ClosedCB          ConnHandler
	DiscoveredServersCB ConnHandler
	LameDuckModeCB    ConnHandler
	AsyncErrorCB      ErrHandler

	dialer func(network, address string, timeout time.Duration) (transport, error)
}

// GetDefaultOptions returns an Options populated with the values spec.md
// §4.1 and §2 name as defaults.
func GetDefaultOptions() Options {
	return Options{
		AllowReconnect:         true,
		MaxReconnect:           DefaultMaxReconnect,
		ReconnectWait:          DefaultReconnectWait,
		ReconnectJitter:        DefaultReconnectJitter,
		ReconnectJitterTLS:     DefaultReconnectJitterTLS,
		ReconnectBufSize:       DefaultReconnectBufSize,
		Timeout:                DefaultTimeout,
		PingInterval:           DefaultPingInterval,
		MaxPingsOut:            DefaultMaxPingOut,
		RequestCleanupInterval: DefaultRequestCleanupInterval,
		MaxControlLine:         DefaultMaxControlLine,
		InboxPrefix:            InboxPrefix,
		ClientSideLimitChecks:  true,
		DrainTimeout:           DefaultDrainTimeout,
		Randomize:              true,
	}
}

func processURLString(url string) []string {
	parts := strings.Split(url, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Connect dials using the receiver's fields, blocking until Connected or a
// fatal error is returned.
func (o Options) Connect() (*Conn, error) {
	if len(o.Servers) == 0 {
		o.Servers = []string{DefaultURL}
	}
	if o.MaxControlLine <= 0 {
		o.MaxControlLine = DefaultMaxControlLine
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.InboxPrefix == "" {
		o.InboxPrefix = InboxPrefix
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = DefaultDrainTimeout
	}

	nc := &Conn{opts: o}
	atomicStoreStatus(nc, DISCONNECTED)
	nc.subs = make(map[uint64]*Subscription)
	nc.dispatchers = make(map[uint64]*dispatcher)
	nc.pongs = make([]chan error, 0, 8)
	nc.closeCh = make(chan struct{})
	nc.ach = newAsyncCallbacksHandler()
	go nc.ach.run()

	pool, err := newServerPool(o.Servers, o.Randomize)
	if err != nil {
		return nil, err
	}
	nc.pool = pool

	if err := nc.connect(); err != nil {
		nc.ach.close()
		return nil, err
	}
	return nc, nil
}

func atomicStoreStatus(nc *Conn, s Status) { nc.setStatus(s) }

// --- Functional options -----------------------------------------------

// WithServers sets the seed server list (comma-free; one URL per entry).
func WithServers(servers ...string) Option {
	return func(o *Options) error {
		if len(servers) == 0 {
			return errors.New("nats: at least one server is required")
		}
		o.Servers = servers
		return nil
	}
}

// Randomize toggles candidate shuffling per reconnect attempt.
func Randomize(r bool) Option {
	return func(o *Options) error { o.Randomize = r; return nil }
}

// DontRandomize disables candidate shuffling.
func DontRandomize() Option {
	return func(o *Options) error { o.Randomize = false; return nil }
}

// IgnoreDiscoveredServers suppresses server-advertised peers from the pool.
func IgnoreDiscoveredServers(ignore bool) Option {
	return func(o *Options) error { o.IgnoreDiscoveredServers = ignore; return nil }
}

// Name sets the client name sent in CONNECT.
func Name(name string) Option {
	return func(o *Options) error { o.Name = name; return nil }
}

// Secure requests a TLS transport, optionally with a supplied tls.Config.
func Secure(tc *tls.Config) Option {
	return func(o *Options) error {
		o.Secure = true
		if tc != nil {
			o.TLSConfig = tc
		}
		return nil
	}
}

// TLSFirst negotiates the TLS upgrade before reading the server's INFO line.
func TLSFirst() Option {
	return func(o *Options) error { o.TLSFirst = true; return nil }
}

// UserInfo sets basic-auth credentials for CONNECT.
func UserInfo(user, password string) Option {
	return func(o *Options) error { o.User = user; o.Password = password; return nil }
}

// Token sets a bare auth token for CONNECT.
func Token(token string) Option {
	return func(o *Options) error { o.Token = token; return nil }
}

// Nkey configures nkey-based authentication: the public key is sent in
// CONNECT and sig is invoked to sign the server's nonce.
func Nkey(pubKey string, sig func(nonce []byte) ([]byte, error)) Option {
	return func(o *Options) error {
		o.NKey = pubKey
		o.SignatureCB = sig
		return nil
	}
}

// UserCredentials configures JWT-based authentication.
func UserCredentials(jwtCB func() (string, error), sigCB func(nonce []byte) ([]byte, error)) Option {
	return func(o *Options) error {
		o.UserJWT = jwtCB
		o.JWTSigCB = sigCB
		return nil
	}
}

// MaxReconnects sets the per-server reconnect attempt ceiling. -1 means
// unlimited; 0 disables reconnection entirely.
func MaxReconnects(n int) Option {
	return func(o *Options) error {
		o.MaxReconnect = n
		o.AllowReconnect = n != 0
		return nil
	}
}

// ReconnectWait sets the base delay between reconnect attempts.
func ReconnectWait(d time.Duration) Option {
	return func(o *Options) error { o.ReconnectWait = d; return nil }
}

// ReconnectJitter sets the jitter added to the plain and TLS reconnect
// delays respectively.
func ReconnectJitter(plain, tlsJitter time.Duration) Option {
	return func(o *Options) error {
		o.ReconnectJitter = plain
		o.ReconnectJitterTLS = tlsJitter
		return nil
	}
}

// CustomReconnectDelay overrides the computed reconnect delay entirely.
func CustomReconnectDelay(cb ReconnectDelayHandler) Option {
	return func(o *Options) error { o.ReconnectDelayHandler = cb; return nil }
}

// ReconnectOnInitialConnect treats a failed first connection attempt as a
// recoverable disconnect rather than a fatal error from Connect.
func ReconnectOnInitialConnect() Option {
	return func(o *Options) error { o.ReconnectOnInitialConnect = true; return nil }
}

// Timeout sets the per-attempt connect timeout.
func Timeout(t time.Duration) Option {
	return func(o *Options) error {
		if t < 0 {
			return ErrBadTimeout
		}
		o.Timeout = t
		return nil
	}
}

// PingInterval sets the interval between client-originated pings.
func PingInterval(d time.Duration) Option {
	return func(o *Options) error { o.PingInterval = d; return nil }
}

// MaxPingsOut sets the outstanding-pong threshold that triggers a
// reconnect.
func MaxPingsOut(max int) Option {
	return func(o *Options) error { o.MaxPingsOut = max; return nil }
}

// RequestCleanupInterval sets the sweep interval for expiring pending
// requests.
func RequestCleanupInterval(d time.Duration) Option {
	return func(o *Options) error { o.RequestCleanupInterval = d; return nil }
}

// MaxControlLine sets the maximum accepted control-line length.
func MaxControlLine(n int) Option {
	return func(o *Options) error { o.MaxControlLine = n; return nil }
}

// ReconnectBufSize sets the byte ceiling for user publishes buffered during
// a reconnect.
func ReconnectBufSize(n int) Option {
	return func(o *Options) error { o.ReconnectBufSize = n; return nil }
}

// CustomInboxPrefix overrides the default "_INBOX." prefix.
func CustomInboxPrefix(prefix string) Option {
	return func(o *Options) error {
		if prefix == "" {
			return errors.New("nats: inbox prefix must not be empty")
		}
		o.InboxPrefix = strings.TrimSuffix(prefix, ".") + "."
		return nil
	}
}

// NoEcho opts this connection out of self-delivery on subjects it both
// publishes and subscribes to.
func NoEcho() Option {
	return func(o *Options) error { o.NoEcho = true; return nil }
}

// HeadersRequired requires header support on the server the client
// connects to, failing fast instead of silently dropping headers.
func HeadersRequired() Option {
	return func(o *Options) error { o.HeadersRequired = true; return nil }
}

// UseOldRequestStyle selects one subscription per request instead of the
// shared-inbox request/reply correlator.
func UseOldRequestStyle() Option {
	return func(o *Options) error { o.UseOldRequestStyle = true; return nil }
}

// DisconnectHandler is retained for symmetry but this core routes
// disconnects through DisconnectedCB (ConnHandler); this Option exists so
// callers migrating from richer clients have a name to reach for, and maps
// onto the same field.
func DisconnectHandler(cb ConnHandler) Option {
	return func(o *Options) error { o.DisconnectedCB = cb; return nil }
}

// ReconnectHandler registers the reconnected-event callback.
func ReconnectHandler(cb ConnHandler) Option {
	return func(o *Options) error { o.ReconnectedCB = cb; return nil }
}

// ClosedHandler registers the closed-event callback.
func ClosedHandler(cb ConnHandler) Option {
	return func(o *Options) error { o.ClosedCB = cb; return nil }
}

// DiscoveredServersHandler registers the discovered-peers callback.
func DiscoveredServersHandler(cb ConnHandler) Option {
	return func(o *Options) error { o.DiscoveredServersCB = cb; return nil }
}

// LameDuckModeHandler registers the lame-duck-mode callback.
func LameDuckModeHandler(cb ConnHandler) Option {
	return func(o *Options) error { o.LameDuckModeCB = cb; return nil }
}

// ErrorHandler registers the asynchronous error / slow-consumer callback.
func ErrorHandler(cb ErrHandler) Option {
	return func(o *Options) error { o.AsyncErrorCB = cb; return nil }
}

// DrainTimeout sets the default timeout used by Drain(0).
func DrainTimeout(d time.Duration) Option {
	return func(o *Options) error { o.DrainTimeout = d; return nil }
}
