// Copyright 2012 Apcera Inc. All rights reserved.

// Package nats is a core client for the NATS messaging system. It drives a
// single live transport to one server chosen from a pool of candidates,
// multiplexes publish/subscribe, queue-group delivery and request/reply over
// that transport, and recovers from transport failure through a configurable
// reconnect policy that preserves subscription state.
package nats

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// Version is the package's version string.
	Version = "2.0.0-core"

	// DefaultURL is the default URL used to connect to a NATS server.
	DefaultURL = "nats://127.0.0.1:4222"

	// DefaultPort is the default port used to connect to a NATS server.
	DefaultPort = 4222

	// DefaultMaxReconnect is the default number of reconnect attempts
	// per server before it is pruned from the pool.
	DefaultMaxReconnect = 60

	// DefaultReconnectWait is the default time to back off between
	// reconnect attempts.
	DefaultReconnectWait = 2 * time.Second

	// DefaultReconnectJitter is the default jitter added to the
	// reconnect wait for plain and secure connections respectively.
	DefaultReconnectJitter    = 100 * time.Millisecond
	DefaultReconnectJitterTLS = time.Second

	// DefaultTimeout is the default connect timeout.
	DefaultTimeout = 2 * time.Second

	// DefaultPingInterval is the default time between client-originated
	// pings.
	DefaultPingInterval = 2 * time.Minute

	// DefaultMaxPingOut is the default number of outstanding pings
	// allowed before the connection is considered stale.
	DefaultMaxPingOut = 2

	// DefaultMaxChanLen is the default size of the delivery channel
	// used by both synchronous and dispatched subscriptions.
	DefaultMaxChanLen = 64 * 1024

	// DefaultReconnectBufSize is the default size, in bytes, of the
	// buffer used to hold user publishes while reconnecting.
	DefaultReconnectBufSize = 8 * 1024 * 1024

	// DefaultMaxControlLine is the default maximum size of a control
	// line the writer will accept.
	DefaultMaxControlLine = 4096

	// DefaultRequestCleanupInterval is the default sweep interval for
	// expiring pending requests.
	DefaultRequestCleanupInterval = 5 * time.Second

	// DefaultDrainTimeout is used when Drain is called with a zero
	// timeout.
	DefaultDrainTimeout = 30 * time.Second

	// InboxPrefix is the default subject prefix under which inboxes are
	// created.
	InboxPrefix = "_INBOX."

	// defaultPendingMsgLimit and defaultPendingBytesLimit bound a single
	// subscription's pending messages/bytes absent explicit configuration.
	// Limits are kept per subscription only; a dispatcher has no pending
	// limit of its own beyond its queue length.
	defaultPendingMsgLimit   = 512 * 1024
	defaultPendingBytesLimit = 64 * 1024 * 1024
)

// Status represents the state of a connection's underlying state machine.
type Status int32

const (
	DISCONNECTED Status = iota
	CONNECTING
	CONNECTED
	RECONNECTING
	CLOSED
)

func (s Status) String() string {
	switch s {
	case DISCONNECTED:
		return "DISCONNECTED"
	case CONNECTING:
		return "CONNECTING"
	case CONNECTED:
		return "CONNECTED"
	case RECONNECTING:
		return "RECONNECTING"
	case CLOSED:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Sentinel errors for the conditions spec.md §7 enumerates. A few call
// sites (malformed INFO, an inactive writer) wrap one of these with
// fmt.Errorf and %w so callers can still errors.Is against the sentinel.
// ErrPayloadTooLarge is returned bare, and server -ERR text (including
// authentication failures) is not wrapped around any sentinel.
var (
	ErrConnectionClosed     = errors.New("nats: connection closed")
	ErrConnectionDraining   = errors.New("nats: connection draining")
	ErrDrainInProgress      = errors.New("nats: drain in progress")
	ErrConnectionReconnecting = errors.New("nats: connection reconnecting")
	ErrSecureConnRequired   = errors.New("nats: secure connection required")
	ErrSecureConnWanted     = errors.New("nats: secure connection not available")
	ErrBadSubscription      = errors.New("nats: invalid subscription")
	ErrTypeSubscription     = errors.New("nats: illegal operation on this kind of subscription")
	ErrBadSubject           = errors.New("nats: invalid subject")
	ErrBadQueueName         = errors.New("nats: invalid queue name")
	ErrSlowConsumer         = errors.New("nats: slow consumer, messages dropped")
	ErrTimeout              = errors.New("nats: timeout")
	ErrBadTimeout           = errors.New("nats: timeout invalid")
	ErrNoServers            = errors.New("nats: no servers available for connection")
	ErrAuthorization        = errors.New("nats: authorization violation")
	ErrAuthExpired          = errors.New("nats: authentication expired")
	ErrDoubleAuth           = errors.New("nats: double authentication error on same server")
	ErrPayloadTooLarge      = errors.New("nats: payload too large")
	ErrHeadersNotSupported  = errors.New("nats: headers not supported by this server")
	ErrReconnectBufferFull  = errors.New("nats: outbound buffer limit exceeded")
	ErrControlLineTooLong   = errors.New("nats: control line too long")
	ErrNoResponders         = errors.New("nats: no responders available for request")
	ErrMaxConnectionsExceeded = errors.New("nats: server maximum connections exceeded")
	ErrStaleConnection      = errors.New("nats: stale connection")
	ErrProtocol             = errors.New("nats: protocol error")
)

// ConnHandler is invoked for asynchronous connection lifecycle events:
// disconnected, reconnected, closed, discovered-servers, lame-duck-mode.
type ConnHandler func(*Conn)

// ErrHandler processes asynchronous errors encountered on a subscription,
// including slow-consumer notifications.
type ErrHandler func(*Conn, *Subscription, error)

// MsgHandler is invoked for each message delivered to a dispatched
// subscription.
type MsgHandler func(msg *Msg)

// Msg represents a message delivered by, or to be published to, the server.
type Msg struct {
	Subject string
	Reply   string
	Header  Header
	Data    []byte
	Sub     *Subscription

	next *Msg // not used: dispatcher queues are channels
	wsz  int  // wire size, used for pending-bytes accounting
}

// Stats tracks message and byte counters for a connection.
type Stats struct {
	InMsgs     uint64
	OutMsgs    uint64
	InBytes    uint64
	OutBytes   uint64
	Reconnects uint64
}

// serverInfo is the authoritative server state received in the INFO frame.
// Field names mirror the server's JSON keys; see engine.go (tryConnect,
// processInfo) for decoding.
type serverInfo struct {
	ID           string   `json:"server_id"`
	Name         string   `json:"server_name"`
	Version      string   `json:"version"`
	Proto        int      `json:"proto"`
	Host         string   `json:"host"`
	Port         int      `json:"port"`
	Headers      bool     `json:"headers"`
	AuthRequired bool     `json:"auth_required"`
	TLSRequired  bool     `json:"tls_required"`
	TLSAvailable bool     `json:"tls_available"`
	MaxPayload   int64    `json:"max_payload"`
	ConnectURLs  []string `json:"connect_urls"`
	LameDuckMode bool     `json:"ldm"`
	Nonce        string   `json:"nonce"`
	ClientID     uint64   `json:"client_id"`
}

// Conn is a connection to a NATS server, or to a pool of candidate servers.
// It is safe to call every exported method from any goroutine.
type Conn struct {
	Stats

	mu     sync.Mutex
	statusChangeMu sync.Mutex
	statusListeners []chan Status

	opts Options

	status int32 // Status, accessed atomically for lock-free reads

	pool *serverPool
	cur  *srv

	conn transport
	bw   *natsWriter
	br   *natsReader

	info serverInfo

	ssid uint64
	subs map[uint64]*Subscription

	dispatchers   map[uint64]*dispatcher
	nextDispID    uint64

	pongs []chan error

	pingTimer  *time.Timer
	pingOut    int
	cleanupTmr *time.Timer

	lastInboundAt   time.Time // updated on every frame the read loop sees
	lastPingCycleAt time.Time // when pingTimerFired last ran, for the soft-ping skip

	ach *asyncCallbacksHandler

	closeCh chan struct{} // closed once, in Close(), to stop per-connection goroutines

	draining bool
	drainCh  chan struct{} // closed once the in-progress Drain completes
	drainErr error

	lastErr error

	handshakeErr chan error // non-nil only while a tryConnect handshake is outstanding
	connGen      uint64     // bumped on every successful transport attach; stale readers are ignored

	reqCorrelator *respCorrelator
}

// Connect connects to a NATS server (or comma-separated list of servers)
// using default options plus any overrides supplied as functional Options.
func Connect(url string, options ...Option) (*Conn, error) {
	opts := GetDefaultOptions()
	opts.Servers = processURLString(url)
	for _, opt := range options {
		if opt == nil {
			continue
		}
		if err := opt(&opts); err != nil {
			return nil, err
		}
	}
	return opts.Connect()
}

// SecureConnect connects to a NATS server requiring a TLS transport.
func SecureConnect(url string, options ...Option) (*Conn, error) {
	options = append(options, Secure(nil))
	return Connect(url, options...)
}

// LastError reports the most recent engine-level error recorded for this
// connection (protocol errors, transport errors, the error that caused the
// last disconnect). It does not include per-call errors already returned to
// their caller.
func (nc *Conn) LastError() error {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return nc.lastErr
}

// Status returns the current connection state. Reads are lock-free; only
// the engine ever mutates the underlying value.
func (nc *Conn) Status() Status {
	return Status(atomic.LoadInt32(&nc.status))
}

func (nc *Conn) setStatus(s Status) {
	atomic.StoreInt32(&nc.status, int32(s))
	nc.statusChangeMu.Lock()
	for _, ch := range nc.statusListeners {
		select {
		case ch <- s:
		default:
		}
	}
	nc.statusChangeMu.Unlock()
}

// StatusChanged returns a channel that receives every status the connection
// transitions through from now on, filtered to the set passed in (or every
// status change, if none are passed). The channel is buffered (depth 8)
// and lossy, and is intended for tests and simple observers, not a durable
// event log.
func (nc *Conn) StatusChanged(statuses ...Status) chan Status {
	ch := make(chan Status, 8)
	nc.statusChangeMu.Lock()
	if len(statuses) == 0 {
		nc.statusListeners = append(nc.statusListeners, ch)
	} else {
		filtered := make(chan Status, 8)
		go func() {
			for s := range ch {
				for _, want := range statuses {
					if s == want {
						filtered <- s
						break
					}
				}
			}
		}()
		nc.statusListeners = append(nc.statusListeners, ch)
		nc.statusChangeMu.Unlock()
		return filtered
	}
	nc.statusChangeMu.Unlock()
	return ch
}

func (nc *Conn) isClosed() bool {
	return nc.Status() == CLOSED
}

func (nc *Conn) isReconnecting() bool {
	return nc.Status() == RECONNECTING
}

func (nc *Conn) isConnected() bool {
	return nc.Status() == CONNECTED
}
