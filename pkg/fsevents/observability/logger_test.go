package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testHandler captures log records for testing.
type testHandler struct {
	buf   *bytes.Buffer
	level slog.Level
	attrs []slog.Attr
}

func newTestHandler() *testHandler {
	return &testHandler{
		buf:   &bytes.Buffer{},
		level: slog.LevelDebug,
	}
}

func (h *testHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *testHandler) Handle(_ context.Context, r slog.Record) error {
	data := map[string]any{
		"level": r.Level.String(),
		"msg":   r.Message,
	}
	for _, attr := range h.attrs {
		data[attr.Key] = attr.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		data[a.Key] = a.Value.Any()
		return true
	})
	return json.NewEncoder(h.buf).Encode(data)
}

func (h *testHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newH := &testHandler{
		buf:   h.buf,
		level: h.level,
		attrs: make([]slog.Attr, len(h.attrs)+len(attrs)),
	}
	copy(newH.attrs, h.attrs)
	copy(newH.attrs[len(h.attrs):], attrs)
	return newH
}

func (h *testHandler) WithGroup(_ string) slog.Handler {
	return h
}

func (h *testHandler) getLastRecord() map[string]any {
	lines := bytes.Split(h.buf.Bytes(), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		if len(lines[i]) > 0 {
			var m map[string]any
			if err := json.Unmarshal(lines[i], &m); err == nil {
				return m
			}
		}
	}
	return nil
}

func TestEnrichLogger(t *testing.T) {
	t.Run("adds component and stream", func(t *testing.T) {
		h := newTestHandler()
		enriched := EnrichLogger(slog.New(h), "stream", "read")
		enriched.Info("test message")

		record := h.getLastRecord()
		require.NotNil(t, record)
		assert.Equal(t, "stream", record["component"])
		assert.Equal(t, "read", record["stream"])
		assert.Equal(t, "test message", record["msg"])
	})

	t.Run("omits empty stream", func(t *testing.T) {
		h := newTestHandler()
		EnrichLogger(slog.New(h), "communicator", "").Info("x")

		record := h.getLastRecord()
		require.NotNil(t, record)
		assert.Equal(t, "communicator", record["component"])
		_, has := record["stream"]
		assert.False(t, has)
	})

	t.Run("nil logger returns nil", func(t *testing.T) {
		assert.Nil(t, EnrichLogger(nil, "stream", "read"))
	})
}

func TestLogFlush(t *testing.T) {
	h := newTestHandler()
	LogFlush(slog.New(h), "file-1", ReasonSize, 10, 1000)

	record := h.getLastRecord()
	require.NotNil(t, record)
	assert.Equal(t, "DEBUG", record["level"])
	assert.Equal(t, "aggregate flushed", record["msg"])
	assert.Equal(t, "file-1", record["file_id"])
	assert.Equal(t, ReasonSize, record["reason"])
	assert.Equal(t, float64(10), record["occurrences"])
	assert.Equal(t, float64(1000), record["size_bytes"])
}

func TestLogDropped(t *testing.T) {
	h := newTestHandler()
	logger := slog.New(h)

	LogDropped(logger, 0)
	assert.Nil(t, h.getLastRecord(), "zero keys should not log")

	LogDropped(logger, 3)
	record := h.getLastRecord()
	require.NotNil(t, record)
	assert.Equal(t, float64(3), record["keys"])
}

func TestLogTransmitError(t *testing.T) {
	h := newTestHandler()
	LogTransmitError(slog.New(h), 7, errors.New("broken pipe"))

	record := h.getLastRecord()
	require.NotNil(t, record)
	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, float64(7), record["delivery_id"])
	assert.Equal(t, "broken pipe", record["error"])
}

func TestLogHeld(t *testing.T) {
	h := newTestHandler()
	LogHeld(slog.New(h), 12)

	record := h.getLastRecord()
	require.NotNil(t, record)
	assert.Equal(t, "delivery held until reconnect", record["msg"])
	assert.Equal(t, float64(12), record["delivery_id"])
}

func TestLogRetransmit(t *testing.T) {
	t.Run("success logs at info", func(t *testing.T) {
		h := newTestHandler()
		LogRetransmit(slog.New(h), 4, 0, 2*time.Millisecond, nil)

		record := h.getLastRecord()
		require.NotNil(t, record)
		assert.Equal(t, "INFO", record["level"])
		assert.Equal(t, float64(4), record["sent"])
		assert.Equal(t, float64(2*time.Millisecond), record["duration"])
	})

	t.Run("failure logs at warn", func(t *testing.T) {
		h := newTestHandler()
		LogRetransmit(slog.New(h), 1, 3, time.Millisecond, errors.New("not connected"))

		record := h.getLastRecord()
		require.NotNil(t, record)
		assert.Equal(t, "WARN", record["level"])
		assert.Equal(t, float64(3), record["pending"])
	})
}

func TestLogHelpers_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		LogFlush(nil, "f", ReasonCount, 1, 1)
		LogDropped(nil, 1)
		LogSubscription(nil, "added", 1, time.Second)
		LogDelivery(nil, 1, 10)
		LogHeld(nil, 1)
		LogTransmitError(nil, 1, errors.New("x"))
		LogConfirmation(nil, 1, 1, 0)
		LogRetransmit(nil, 0, 0, 0, nil)
		LogProtocolError(nil, "confirmation", errors.New("x"))
	})
}

func TestTimedOperation(t *testing.T) {
	done := TimedOperation()
	time.Sleep(5 * time.Millisecond)
	assert.GreaterOrEqual(t, done(), 5*time.Millisecond)
}
