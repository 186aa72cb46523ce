package transport_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fserrors "github.com/randalmurphal/fsevents/pkg/fsevents/errors"
	"github.com/randalmurphal/fsevents/pkg/fsevents/transport"
	"github.com/randalmurphal/fsevents/pkg/fsevents/wire"
)

// testPeer accepts connections and hands them to the test.
type testPeer struct {
	ln    net.Listener
	conns chan net.Conn
}

func newTestPeer(t *testing.T) *testPeer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	p := &testPeer{ln: ln, conns: make(chan net.Conn, 8)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			p.conns <- conn
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return p
}

func (p *testPeer) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case conn := <-p.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func fastRetry() *fserrors.RetryConfig {
	cfg := fserrors.NewRetryConfig(fserrors.ReconnectRetry,
		fserrors.WithInitialBackoff(10*time.Millisecond),
		fserrors.WithMaxBackoff(50*time.Millisecond),
	)
	return &cfg
}

func runChannel(t *testing.T, ch *transport.TCPChannel) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ch.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("Run did not return after cancel")
		}
	})
}

func TestNewTCPChannel_RequiresAddress(t *testing.T) {
	_, err := transport.NewTCPChannel(transport.Config{})
	require.Error(t, err)
	assert.Equal(t, fserrors.CategoryPermanent, fserrors.Categorize(err))
}

func TestTransmit_NotConnected(t *testing.T) {
	ch, err := transport.NewTCPChannel(transport.Config{Address: "127.0.0.1:1"})
	require.NoError(t, err)

	err = ch.Transmit(context.Background(), []byte{0x01})
	require.Error(t, err)
	assert.ErrorIs(t, err, fserrors.ErrNotConnected)
	assert.True(t, fserrors.IsRetryable(err))
	assert.False(t, ch.Connected())
	assert.Empty(t, ch.Session())
}

func TestTCPChannel_Exchange(t *testing.T) {
	peer := newTestPeer(t)

	var mu sync.Mutex
	var inbound []wire.Message
	var connects atomic.Int32

	ch, err := transport.NewTCPChannel(transport.Config{
		Address: peer.ln.Addr().String(),
		Retry:   fastRetry(),
		OnMessage: func(_ context.Context, data []byte) {
			msg, err := wire.Decode(data)
			if err != nil {
				return
			}
			mu.Lock()
			inbound = append(inbound, msg)
			mu.Unlock()
		},
		OnConnect: func(context.Context) { connects.Add(1) },
	})
	require.NoError(t, err)
	runChannel(t, ch)

	conn := peer.accept(t)
	require.Eventually(t, ch.Connected, 2*time.Second, 5*time.Millisecond)
	assert.NotEmpty(t, ch.Session())
	assert.Eventually(t, func() bool { return connects.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	// Outbound: two envelopes back to back decode as two values.
	codec := wire.NewCodec(0)
	first, err := codec.Encode(wire.SubscriptionRemove{ID: 1})
	require.NoError(t, err)
	second, err := codec.Encode(wire.SubscriptionRemove{ID: 2})
	require.NoError(t, err)
	require.NoError(t, ch.Transmit(context.Background(), first))
	require.NoError(t, ch.Transmit(context.Background(), second))

	dec := wire.NewDecoder(conn)
	for _, want := range []int64{1, 2} {
		var raw wire.RawMessage
		require.NoError(t, dec.Decode(&raw))
		msg, err := wire.Decode(raw)
		require.NoError(t, err)
		assert.Equal(t, wire.SubscriptionRemove{ID: want}, msg)
	}

	// Inbound: a confirmation written by the peer reaches OnMessage.
	confirm, err := codec.Encode(wire.Confirmation{DeliveryID: 9})
	require.NoError(t, err)
	_, err = conn.Write(confirm)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(inbound) == 1
	}, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, wire.Confirmation{DeliveryID: 9}, inbound[0])
	mu.Unlock()
}

func TestTCPChannel_Redial(t *testing.T) {
	peer := newTestPeer(t)

	var connects, disconnects atomic.Int32
	ch, err := transport.NewTCPChannel(transport.Config{
		Address:      peer.ln.Addr().String(),
		Retry:        fastRetry(),
		OnConnect:    func(context.Context) { connects.Add(1) },
		OnDisconnect: func() { disconnects.Add(1) },
	})
	require.NoError(t, err)
	runChannel(t, ch)

	first := peer.accept(t)
	require.Eventually(t, ch.Connected, 2*time.Second, 5*time.Millisecond)
	firstSession := ch.Session()

	// The peer hangs up; the channel notices on read and dials again.
	first.Close()

	second := peer.accept(t)
	require.Eventually(t, func() bool {
		return ch.Connected() && ch.Session() != firstSession
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, ch.Dials())
	assert.Eventually(t, func() bool { return connects.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), disconnects.Load())

	require.NoError(t, ch.Transmit(context.Background(), []byte{0xf6}))
	buf := make([]byte, 1)
	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = second.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, byte(0xf6), buf[0])
}

func TestTCPChannel_MalformedInboundRedials(t *testing.T) {
	peer := newTestPeer(t)

	ch, err := transport.NewTCPChannel(transport.Config{
		Address: peer.ln.Addr().String(),
		Retry:   fastRetry(),
	})
	require.NoError(t, err)
	runChannel(t, ch)

	first := peer.accept(t)
	// 0xff is a CBOR break code outside an indefinite-length item.
	_, err = first.Write([]byte{0xff})
	require.NoError(t, err)

	peer.accept(t)
	assert.Eventually(t, func() bool { return ch.Dials() == 2 }, 5*time.Second, 5*time.Millisecond)

	err = ch.LastError()
	require.Error(t, err)
	assert.True(t, fserrors.IsProtocol(err), "got %v", err)
	assert.False(t, fserrors.IsRetryable(err))
}

func TestTCPChannel_PeerHangUpIsTransient(t *testing.T) {
	peer := newTestPeer(t)

	ch, err := transport.NewTCPChannel(transport.Config{
		Address: peer.ln.Addr().String(),
		Retry:   fastRetry(),
	})
	require.NoError(t, err)
	runChannel(t, ch)
	assert.NoError(t, ch.LastError())

	peer.accept(t).Close()
	peer.accept(t)
	require.Eventually(t, func() bool { return ch.Dials() == 2 }, 5*time.Second, 5*time.Millisecond)
	assert.True(t, fserrors.IsRetryable(ch.LastError()), "got %v", ch.LastError())
}

func TestTCPChannel_HandshakePrecedesTransmit(t *testing.T) {
	peer := newTestPeer(t)
	codec := wire.NewCodec(0)

	var greetings atomic.Int32
	ch, err := transport.NewTCPChannel(transport.Config{
		Address: peer.ln.Addr().String(),
		Retry:   fastRetry(),
		Handshake: func() ([]byte, error) {
			greetings.Add(1)
			return codec.Encode(wire.Hello{ClientID: "client-1"})
		},
	})
	require.NoError(t, err)
	runChannel(t, ch)

	for round := int32(1); round <= 2; round++ {
		conn := peer.accept(t)
		require.Eventually(t, ch.Connected, 2*time.Second, 5*time.Millisecond)

		payload, err := codec.Encode(wire.Confirmation{DeliveryID: 1})
		require.NoError(t, err)
		require.NoError(t, ch.Transmit(context.Background(), payload))

		dec := wire.NewDecoder(conn)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var first, second wire.RawMessage
		require.NoError(t, dec.Decode(&first))
		require.NoError(t, dec.Decode(&second))

		msg, err := wire.Decode(first)
		require.NoError(t, err)
		assert.Equal(t, wire.Hello{ClientID: "client-1"}, msg, "every connection opens with the handshake")
		assert.Equal(t, round, greetings.Load())

		// Hang up so the second round covers a redial.
		conn.Close()
		require.Eventually(t, func() bool { return !ch.Connected() || ch.Dials() > int(round) }, 2*time.Second, 5*time.Millisecond)
	}
}

func TestTCPChannel_HandshakeErrorStopsRun(t *testing.T) {
	peer := newTestPeer(t)
	ch, err := transport.NewTCPChannel(transport.Config{
		Address:   peer.ln.Addr().String(),
		Retry:     fastRetry(),
		Handshake: func() ([]byte, error) { return nil, errors.New("no identity") },
	})
	require.NoError(t, err)

	err = ch.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, fserrors.CategoryPermanent, fserrors.Categorize(err))
	assert.Zero(t, ch.Dials())
}

func TestTCPChannel_DialGivesUp(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	retry := fserrors.NewRetryConfig(fserrors.ReconnectRetry,
		fserrors.WithMaxAttempts(2),
		fserrors.WithInitialBackoff(time.Millisecond),
	)
	ch, err := transport.NewTCPChannel(transport.Config{Address: addr, Retry: &retry})
	require.NoError(t, err)

	err = ch.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Zero(t, ch.Dials())
}
