// Package transport carries encoded fsevents messages over TCP.
//
// TCPChannel is the client end: it implements communicator.Channel for
// outbound messages, reads inbound envelopes on its own goroutine and
// redials with backoff whenever the connection breaks. An optional
// handshake is written first on every connection. Messages are
// self-delimiting CBOR values, so no extra framing is written.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/fsevents/pkg/fsevents/communicator"
	fserrors "github.com/randalmurphal/fsevents/pkg/fsevents/errors"
	"github.com/randalmurphal/fsevents/pkg/fsevents/wire"
)

// Compile-time interface check.
var _ communicator.Channel = (*TCPChannel)(nil)

// Default timeouts.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultWriteTimeout = 2 * time.Second
)

// Config configures a TCPChannel.
type Config struct {
	// Address is the peer's host:port. Required.
	Address string

	// DialTimeout bounds each connection attempt.
	DialTimeout time.Duration

	// WriteTimeout bounds each Transmit.
	WriteTimeout time.Duration

	// Retry controls redial backoff. Defaults to errors.ReconnectRetry,
	// which keeps trying until the Run context ends.
	Retry *fserrors.RetryConfig

	// Handshake, when set, returns the message written first on every new
	// connection. Nothing else can be transmitted until it is written.
	Handshake func() ([]byte, error)

	// OnMessage receives every inbound envelope. It runs on the reader
	// goroutine; the slice is not reused.
	OnMessage func(ctx context.Context, data []byte)

	// OnConnect runs after every successful dial, concurrently with the
	// reader so confirmations keep flowing while it retransmits.
	OnConnect func(ctx context.Context)

	// OnDisconnect runs after a connection is lost, before redialing.
	OnDisconnect func()

	Logger *slog.Logger
}

// TCPChannel is a reconnecting TCP connection to the peer.
type TCPChannel struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	conn    net.Conn
	session string
	dials   int
	lastErr error
}

// NewTCPChannel creates a channel. Nothing is dialed until Run.
func NewTCPChannel(cfg Config) (*TCPChannel, error) {
	if cfg.Address == "" {
		return nil, fserrors.Permanent(errors.New("address is required"), "transport config")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Retry == nil {
		retry := fserrors.ReconnectRetry
		cfg.Retry = &retry
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &TCPChannel{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "transport"), slog.String("peer", cfg.Address)),
	}, nil
}

// Address returns the peer address.
func (c *TCPChannel) Address() string {
	return c.cfg.Address
}

// Connected reports whether a connection is currently up.
func (c *TCPChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Session returns the id of the current connection, empty when down.
func (c *TCPChannel) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Dials returns the number of successful connections made so far.
func (c *TCPChannel) Dials() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dials
}

// LastError returns the error that ended the most recent connection, nil
// before the first one ends.
func (c *TCPChannel) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Transmit implements communicator.Channel. With no live connection it
// returns errors.ErrNotConnected. A write failure tears the connection
// down so Run redials.
func (c *TCPChannel) Transmit(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	conn, session := c.conn, c.session
	c.mu.Unlock()

	if conn == nil {
		return &fserrors.ConnectionError{Addr: c.cfg.Address, Err: fserrors.ErrNotConnected}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		c.drop(conn)
		return &fserrors.ConnectionError{Addr: c.cfg.Address, Session: session, Err: err}
	}
	if _, err := conn.Write(payload); err != nil {
		c.drop(conn)
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			err = &fserrors.TimeoutError{Operation: "transmit", Duration: c.cfg.WriteTimeout}
		}
		return &fserrors.ConnectionError{Addr: c.cfg.Address, Session: session, Err: err}
	}
	return nil
}

// Run dials the peer and keeps the connection up until ctx ends. Each
// connection gets a fresh session id; OnConnect is invoked after every
// dial. Run returns nil once ctx is cancelled, the dial error when the
// retry policy gives up, or the Handshake error.
func (c *TCPChannel) Run(ctx context.Context) error {
	for {
		hello, err := c.greeting()
		if err != nil {
			return err
		}
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		err = c.serve(ctx, conn, hello)
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		if c.cfg.OnDisconnect != nil {
			c.cfg.OnDisconnect()
		}
		if ctx.Err() != nil {
			return nil
		}
		level := slog.LevelWarn
		if !fserrors.IsRetryable(err) {
			level = slog.LevelError
		}
		msg := "connection lost"
		if fserrors.IsProtocol(err) {
			msg = "connection dropped after unreadable peer stream"
		}
		c.logger.Log(ctx, level, msg,
			slog.Any("error", err),
			slog.String("category", fserrors.Categorize(err).String()),
		)
	}
}

func (c *TCPChannel) dial(ctx context.Context) (net.Conn, error) {
	retry := *c.cfg.Retry
	retry.OnRetry = func(attempt int, err error) {
		c.logger.Debug("dial failed, retrying", slog.Int("attempt", attempt), slog.Any("error", err))
	}
	dialer := &net.Dialer{Timeout: c.cfg.DialTimeout}

	result := fserrors.WithRetryContext(ctx, retry, func(ctx context.Context) (net.Conn, error) {
		return dialer.DialContext(ctx, "tcp", c.cfg.Address)
	})
	if result.Err != nil {
		return nil, fmt.Errorf("dial %s after %d attempts: %w", c.cfg.Address, result.Attempts, result.Err)
	}
	return result.Value, nil
}

// serve runs one connection until it breaks or ctx ends. hello, when
// not empty, is written before the connection is published to Transmit.
func (c *TCPChannel) serve(ctx context.Context, conn net.Conn, hello []byte) error {
	session := uuid.NewString()
	if len(hello) > 0 {
		if err := c.writeHello(conn, hello); err != nil {
			conn.Close()
			return &fserrors.ConnectionError{Addr: c.cfg.Address, Session: session, Err: err}
		}
	}

	c.mu.Lock()
	c.conn = conn
	c.session = session
	c.dials++
	c.mu.Unlock()

	c.logger.Info("connected", slog.String("session", session))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.readLoop(gctx, conn)
	})
	g.Go(func() error {
		<-gctx.Done()
		c.drop(conn)
		return nil
	})
	if c.cfg.OnConnect != nil {
		g.Go(func() error {
			c.cfg.OnConnect(gctx)
			return nil
		})
	}

	err := g.Wait()
	return &fserrors.ConnectionError{Addr: c.cfg.Address, Session: session, Err: err}
}

// greeting builds the handshake message, nil when none is configured.
func (c *TCPChannel) greeting() ([]byte, error) {
	if c.cfg.Handshake == nil {
		return nil, nil
	}
	hello, err := c.cfg.Handshake()
	if err != nil {
		return nil, fserrors.Permanent(err, "build handshake")
	}
	return hello, nil
}

func (c *TCPChannel) writeHello(conn net.Conn, hello []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	if _, err := conn.Write(hello); err != nil {
		return fmt.Errorf("write handshake: %w", err)
	}
	return nil
}

func (c *TCPChannel) readLoop(ctx context.Context, conn net.Conn) error {
	dec := wire.NewDecoder(bufio.NewReader(conn))
	for {
		var raw wire.RawMessage
		if err := dec.Decode(&raw); err != nil {
			c.drop(conn)
			switch {
			case errors.Is(err, io.EOF):
				return fserrors.Transient(io.ErrUnexpectedEOF, "peer closed connection")
			case fserrors.Categorize(err) == fserrors.CategoryPermanent && ctx.Err() == nil:
				// Not a network failure: the byte stream itself is
				// broken and cannot be resynchronised.
				return fserrors.Protocol(err, "decode inbound stream")
			}
			return err
		}
		if c.cfg.OnMessage != nil {
			c.cfg.OnMessage(ctx, raw)
		}
	}
}

// drop closes conn and clears it if it is still the current connection.
func (c *TCPChannel) drop(conn net.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.session = ""
	}
	c.mu.Unlock()
	conn.Close()
}
