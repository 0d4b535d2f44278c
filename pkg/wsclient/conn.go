package wsclient

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"
)

// Connection errors.
var (
	// ErrConnectionClosed reports that the peer closed the socket
	// while a read or write was in progress.
	ErrConnectionClosed = errors.New("wsclient: connection closed by peer")

	// ErrNoFrame reports that a read timeout elapsed before a
	// complete frame arrived. It is the normal "nothing yet" signal;
	// callers retry. Any bytes already received stay buffered, so the
	// next read resumes exactly where this one left off.
	ErrNoFrame = errors.New("wsclient: no frame available")
)

// Defaults.
const (
	// DefaultHandshakeTimeout bounds the dial and upgrade exchange.
	DefaultHandshakeTimeout = 10 * time.Second

	// defaultOrigin is sent in the Origin header unless overridden.
	defaultOrigin = "http://localhost"

	// closeWriteTimeout bounds the best-effort close frame write.
	closeWriteTimeout = time.Second
)

// State is the connection lifecycle state.
type State uint8

const (
	StateConnecting State = iota // socket dialed, upgrade not yet accepted
	StateOpen                    // handshake accepted, framed I/O ready
	StateClosing                 // close frame sent or received
	StateClosed                  // socket released
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateOpen:
		return "Open"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

type options struct {
	logger           *slog.Logger
	rand             io.Reader
	tlsConfig        *tls.Config
	handshakeTimeout time.Duration
	origin           string
}

// Option configures a connection.
type Option func(*options)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRandom sets the randomness source used for the handshake key
// and per-frame mask keys. Defaults to crypto/rand. Injecting a
// deterministic reader makes frame bytes reproducible in tests.
func WithRandom(r io.Reader) Option {
	return func(o *options) {
		if r != nil {
			o.rand = r
		}
	}
}

// WithTLSConfig sets the TLS configuration for wss URLs.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(o *options) { o.tlsConfig = cfg }
}

// WithHandshakeTimeout bounds the dial and upgrade exchange.
// Zero disables the bound.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) { o.handshakeTimeout = d }
}

// WithOrigin sets the Origin header value.
func WithOrigin(origin string) Option {
	return func(o *options) {
		if origin != "" {
			o.origin = origin
		}
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		logger:           slog.Default(),
		rand:             rand.Reader,
		handshakeTimeout: DefaultHandshakeTimeout,
		origin:           defaultOrigin,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Conn is a client connection carrying framed messages over a single
// upgraded socket. It is owned by exactly one caller: reads and
// writes are strictly sequential with no internal locking, and the
// connection is never reused after Close.
type Conn struct {
	nc     net.Conn
	buf    []byte // unconsumed bytes from the last physical read
	rand   io.Reader
	logger *slog.Logger
	origin string
	state  State
}

// Dial connects to a ws or wss URL and performs the upgrade
// handshake. The context bounds the TCP (and TLS) dial; the upgrade
// exchange itself is bounded by the handshake timeout option.
func Dial(ctx context.Context, rawURL string, opts ...Option) (*Conn, error) {
	u, hostPort, secure, err := parseEndpoint(rawURL)
	if err != nil {
		return nil, err
	}
	o := newOptions(opts)

	d := net.Dialer{Timeout: o.handshakeTimeout}
	nc, err := d.DialContext(ctx, "tcp", hostPort)
	if err != nil {
		return nil, fmt.Errorf("wsclient: dial %s: %w", hostPort, err)
	}

	if secure {
		cfg := o.tlsConfig
		if cfg == nil {
			cfg = &tls.Config{}
		}
		if cfg.ServerName == "" {
			cfg = cfg.Clone()
			cfg.ServerName = u.Hostname()
		}
		tc := tls.Client(nc, cfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			nc.Close()
			return nil, fmt.Errorf("wsclient: tls handshake: %w", err)
		}
		nc = tc
	}

	return NewClient(nc, rawURL, opts...)
}

// NewClient performs the upgrade handshake over an already-dialed
// connection. On failure the connection is closed. Most callers use
// Dial; NewClient exists for pre-established or in-memory transports.
func NewClient(nc net.Conn, rawURL string, opts ...Option) (*Conn, error) {
	u, hostPort, _, err := parseEndpoint(rawURL)
	if err != nil {
		nc.Close()
		return nil, err
	}
	o := newOptions(opts)

	c := &Conn{
		nc:     nc,
		rand:   o.rand,
		logger: o.logger,
		origin: o.origin,
		state:  StateConnecting,
	}

	if o.handshakeTimeout > 0 {
		nc.SetDeadline(time.Now().Add(o.handshakeTimeout))
	}
	if err := c.handshake(u, hostPort); err != nil {
		nc.Close()
		c.state = StateClosed
		return nil, err
	}
	nc.SetDeadline(time.Time{})
	return c, nil
}

// State returns the connection lifecycle state.
func (c *Conn) State() State {
	return c.state
}

// Send encodes and writes one masked frame.
func (c *Conn) Send(op Opcode, payload []byte) error {
	if c.state == StateClosed {
		return ErrConnectionClosed
	}
	data, err := EncodeFrame(c.rand, op, payload)
	if err != nil {
		return fmt.Errorf("wsclient: encode frame: %w", err)
	}
	if _, err := c.nc.Write(data); err != nil {
		return fmt.Errorf("wsclient: write frame: %w", err)
	}
	return nil
}

// SendText sends a text frame.
func (c *Conn) SendText(text string) error {
	return c.Send(OpText, []byte(text))
}

// ReadFrame reads one complete frame, consuming buffered bytes first
// and refilling from the socket on shortage. A positive timeout
// bounds the whole attempt; when it elapses before a complete frame
// is available, ReadFrame returns ErrNoFrame and keeps any partial
// bytes buffered. A zero or negative timeout blocks indefinitely.
// Returns ErrConnectionClosed when the peer has closed the socket.
func (c *Conn) ReadFrame(timeout time.Duration) (*Frame, error) {
	if c.state == StateClosed {
		return nil, ErrConnectionClosed
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.nc.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("wsclient: set read deadline: %w", err)
	}

	for {
		size, complete, err := frameSize(c.buf)
		if err != nil {
			return nil, err
		}
		if complete && len(c.buf) >= size {
			f, n, err := DecodeFrame(c.buf[:size])
			if err != nil {
				return nil, err
			}
			c.buf = c.buf[n:]
			return f, nil
		}
		if err := c.fill(size); err != nil {
			return nil, err
		}
	}
}

// fill reads from the socket until at least target bytes are
// buffered. Partial data survives a timeout in c.buf.
func (c *Conn) fill(target int) error {
	chunk := make([]byte, 4096)
	for len(c.buf) < target {
		n, err := c.nc.Read(chunk)
		if n > 0 {
			c.buf = append(c.buf, chunk[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ErrConnectionClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return ErrNoFrame
			}
			return fmt.Errorf("wsclient: read: %w", err)
		}
	}
	return nil
}

// Close sends a best-effort empty close frame (send failures are
// swallowed) and unconditionally releases the socket. It is safe to
// call on every exit path and is idempotent.
func (c *Conn) Close() error {
	if c.nc == nil || c.state == StateClosed {
		return nil
	}
	if c.state == StateOpen || c.state == StateClosing {
		if data, err := EncodeFrame(c.rand, OpClose, nil); err == nil {
			c.nc.SetWriteDeadline(time.Now().Add(closeWriteTimeout))
			_, _ = c.nc.Write(data)
		}
	}
	c.state = StateClosed
	return c.nc.Close()
}
