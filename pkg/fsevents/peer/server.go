package peer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/fsevents/pkg/fsevents/event"
	"github.com/randalmurphal/fsevents/pkg/fsevents/wire"
)

// writeTimeout bounds each message written to a client.
const writeTimeout = 5 * time.Second

// ServerConfig configures a Server.
type ServerConfig struct {
	// Address to listen on, e.g. ":7400". Use "127.0.0.1:0" for a random
	// port.
	Address string

	// Store records emissions. Defaults to a MemoryStore.
	Store Store

	// CompressionThreshold for outbound messages. Zero disables
	// compression.
	CompressionThreshold int

	// OnEmission is called once per client and delivery id, the first
	// time it is received. Duplicates are confirmed but not reported.
	OnEmission func(client string, msg wire.Emission)

	Logger *slog.Logger
}

// Server accepts fsevents clients.
//
// Every emission is recorded and then confirmed with its own delivery id.
// Clients transmit ids in increasing order on a connection, so that
// confirmation covers everything before it.
//
// A client names itself with a hello as its first message. A connection
// that starts with anything else is identified by its connection id, so
// its ids cannot collide with another client's either.
type Server struct {
	listener   net.Listener
	store      Store
	codec      *wire.Codec
	onEmission func(string, wire.Emission)
	logger     *slog.Logger

	mu         sync.Mutex
	conns      map[string]*clientConn
	clientSubs map[clientSub]event.Subscription
	pushed     map[int64]event.Subscription
	nextSubID  int64
	received   int
	duplicates int

	// activeConnections tracks connection handlers for graceful shutdown.
	activeConnections sync.WaitGroup
}

type clientConn struct {
	id      string
	conn    net.Conn
	writeMu sync.Mutex

	// client is the identity from the hello, the connection id until one
	// arrives. Only the connection's handler touches it.
	client string
}

// clientSub keys a subscription announced by a client.
type clientSub struct {
	client string
	id     int64
}

// NewServer listens on cfg.Address. Call Serve to start accepting.
func NewServer(cfg ServerConfig) (*Server, error) {
	listener, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", cfg.Address, err)
	}
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		listener:   listener,
		store:      store,
		codec:      wire.NewCodec(cfg.CompressionThreshold),
		onEmission: cfg.OnEmission,
		logger:     logger.With(slog.String("component", "peer")),
		conns:      make(map[string]*clientConn),
		clientSubs: make(map[clientSub]event.Subscription),
		pushed:     make(map[int64]event.Subscription),
	}, nil
}

// Addr returns the listen address in "host:port" format.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Store returns the receipt store.
func (s *Server) Store() Store {
	return s.store
}

// Serve accepts connections until ctx is cancelled, then closes every
// client connection and waits for the handlers to return.
func (s *Server) Serve(ctx context.Context) error {
	defer s.listener.Close()

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		s.listener.Close()
		s.Disconnect()
	}()

	s.logger.Info("peer listening", slog.String("address", s.Addr()))

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", slog.Any("error", err))
			continue
		}

		id := uuid.NewString()
		cc := &clientConn{id: id, conn: conn, client: id}
		s.mu.Lock()
		s.conns[cc.id] = cc
		pushed := s.pushedLocked()
		s.mu.Unlock()

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, cc, pushed)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

// Disconnect closes every client connection. Clients are free to
// reconnect.
func (s *Server) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cc := range s.conns {
		cc.conn.Close()
	}
}

func (s *Server) handleConnection(ctx context.Context, cc *clientConn, pushed []event.Subscription) {
	logger := s.logger.With(slog.String("connection", cc.id))
	defer func() {
		cc.conn.Close()
		s.mu.Lock()
		delete(s.conns, cc.id)
		s.mu.Unlock()
		logger.Debug("client disconnected")
	}()

	logger.Debug("client connected", slog.String("remote", cc.conn.RemoteAddr().String()))

	// Subscriptions pushed earlier apply to new clients too.
	for _, sub := range pushed {
		if err := s.send(cc, wire.NewSubscriptionAdd(sub)); err != nil {
			logger.Warn("subscription push failed", slog.Any("error", err))
			return
		}
	}

	dec := wire.NewDecoder(bufio.NewReader(cc.conn))
	for first := true; ; first = false {
		var raw wire.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && ctx.Err() == nil {
				logger.Warn("read failed", slog.Any("error", err))
			}
			return
		}

		msg, err := wire.Decode(raw)
		if err != nil {
			logger.Warn("message dropped", slog.Any("error", err))
			continue
		}

		switch m := msg.(type) {
		case wire.Hello:
			if !first {
				logger.Warn("late hello ignored", slog.String("client_id", m.ClientID))
				continue
			}
			cc.client = m.ClientID
			logger = logger.With(slog.String("client_id", m.ClientID))
			logger.Debug("client identified")
		case wire.Emission:
			if err := s.receive(cc, m); err != nil {
				logger.Error("emission not confirmed",
					slog.Uint64("delivery_id", m.DeliveryID),
					slog.Any("error", err),
				)
			}
		case wire.SubscriptionAdd:
			s.mu.Lock()
			s.clientSubs[clientSub{client: cc.client, id: m.ID}] = m.Subscription()
			s.mu.Unlock()
			logger.Debug("client subscribed", slog.Int64("subscription_id", m.ID))
		case wire.SubscriptionRemove:
			s.mu.Lock()
			delete(s.clientSubs, clientSub{client: cc.client, id: m.ID})
			s.mu.Unlock()
			logger.Debug("client unsubscribed", slog.Int64("subscription_id", m.ID))
		default:
			logger.Warn("unexpected message", slog.String("kind", msg.Kind().String()))
		}
	}
}

// receive records m and confirms it. A store failure leaves the delivery
// unconfirmed so the client retransmits it.
func (s *Server) receive(cc *clientConn, m wire.Emission) error {
	fresh, err := s.store.Record(cc.client, m)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.received++
	if !fresh {
		s.duplicates++
	}
	s.mu.Unlock()

	if fresh && s.onEmission != nil {
		s.onEmission(cc.client, m)
	}
	return s.send(cc, wire.Confirmation{DeliveryID: m.DeliveryID})
}

func (s *Server) send(cc *clientConn, msg wire.Message) error {
	data, err := s.codec.Encode(msg)
	if err != nil {
		return err
	}

	cc.writeMu.Lock()
	defer cc.writeMu.Unlock()
	if err := cc.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	_, err = cc.conn.Write(data)
	return err
}

// PushSubscription asks every connected client, and every client that
// connects later, to aggregate according to sub. It returns the
// peer-assigned id.
func (s *Server) PushSubscription(sub event.Subscription) (int64, error) {
	if err := sub.Validate(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.nextSubID++
	sub.ID = s.nextSubID
	s.pushed[sub.ID] = sub
	conns := s.connsLocked()
	s.mu.Unlock()

	return sub.ID, s.broadcast(conns, wire.NewSubscriptionAdd(sub))
}

// RemoveSubscription withdraws a pushed subscription. It reports whether
// the id was known.
func (s *Server) RemoveSubscription(id int64) (bool, error) {
	s.mu.Lock()
	if _, ok := s.pushed[id]; !ok {
		s.mu.Unlock()
		return false, nil
	}
	delete(s.pushed, id)
	conns := s.connsLocked()
	s.mu.Unlock()

	return true, s.broadcast(conns, wire.SubscriptionRemove{ID: id})
}

func (s *Server) broadcast(conns []*clientConn, msg wire.Message) error {
	var errs []error
	for _, cc := range conns {
		if err := s.send(cc, msg); err != nil {
			errs = append(errs, fmt.Errorf("connection %s: %w", cc.id, err))
		}
	}
	return errors.Join(errs...)
}

// connsLocked returns the open connections. Caller holds s.mu.
func (s *Server) connsLocked() []*clientConn {
	out := make([]*clientConn, 0, len(s.conns))
	for _, cc := range s.conns {
		out = append(out, cc)
	}
	return out
}

// pushedLocked returns pushed subscriptions ordered by id. Caller holds s.mu.
func (s *Server) pushedLocked() []event.Subscription {
	out := make([]event.Subscription, 0, len(s.pushed))
	for _, sub := range s.pushed {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ClientSubscriptions returns the subscriptions announced by clients,
// ordered by client, then id.
func (s *Server) ClientSubscriptions() []event.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]clientSub, 0, len(s.clientSubs))
	for key := range s.clientSubs {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].client != keys[j].client {
			return keys[i].client < keys[j].client
		}
		return keys[i].id < keys[j].id
	})
	out := make([]event.Subscription, len(keys))
	for i, key := range keys {
		out[i] = s.clientSubs[key]
	}
	return out
}

// Connections returns the number of connected clients.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Stats returns how many emissions were received and how many of those
// were duplicates.
func (s *Server) Stats() (received, duplicates int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received, s.duplicates
}
