package config_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/fsevents/pkg/fsevents/config"
	"github.com/randalmurphal/fsevents/pkg/fsevents/event"
)

// TestNew verifies Config creation from maps.
func TestNew(t *testing.T) {
	assert.NotNil(t, config.New(nil).Raw())
	assert.Equal(t, "v", config.New(map[string]any{"k": "v"}).String("k", ""))
}

// TestDottedLookup verifies nested keys resolve through sections.
func TestDottedLookup(t *testing.T) {
	cfg := config.New(map[string]any{
		"peer": map[string]any{
			"address": "10.0.0.1:7400",
			"limits":  map[string]any{"retries": 3},
		},
		"legacy": map[any]any{"name": "old"},
		"flat.key": "exact",
	})

	assert.Equal(t, "10.0.0.1:7400", cfg.String("peer.address", ""))
	assert.Equal(t, 3, cfg.Int("peer.limits.retries", 0))
	assert.Equal(t, "old", cfg.String("legacy.name", ""))
	assert.Equal(t, "exact", cfg.String("flat.key", ""))
	assert.True(t, cfg.Has("peer.limits"))
	assert.False(t, cfg.Has("peer.missing"))
	assert.False(t, cfg.Has("peer.address.deeper"))
}

// TestDuration verifies duration extraction with various input types.
func TestDuration(t *testing.T) {
	tests := []struct {
		name string
		val  any
		want time.Duration
	}{
		{"string", "1.5s", 1500 * time.Millisecond},
		{"int millis", 250, 250 * time.Millisecond},
		{"int64 millis", int64(10), 10 * time.Millisecond},
		{"uint64 millis", uint64(20), 20 * time.Millisecond},
		{"float millis", 2.5, 2500 * time.Microsecond},
		{"duration", 3 * time.Second, 3 * time.Second},
		{"bad string", "soon", time.Minute},
		{"wrong type", true, time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(map[string]any{"d": tt.val})
			assert.Equal(t, tt.want, cfg.Duration("d", time.Minute))
		})
	}
}

// TestNumbers verifies integer coercion.
func TestNumbers(t *testing.T) {
	cfg := config.New(map[string]any{
		"int":      5,
		"float":    7.0,
		"fraction": 7.5,
		"negative": -1,
		"big":      uint64(1 << 40),
	})

	assert.Equal(t, 5, cfg.Int("int", 0))
	assert.Equal(t, 7, cfg.Int("float", 0))
	assert.Equal(t, 9, cfg.Int("fraction", 9))
	assert.Equal(t, uint64(5), cfg.Uint("int", 0))
	assert.Equal(t, uint64(7), cfg.Uint("float", 0))
	assert.Equal(t, uint64(9), cfg.Uint("negative", 9))
	assert.Equal(t, uint64(1<<40), cfg.Uint("big", 0))
	assert.Equal(t, uint64(4), cfg.Uint("missing", 4))
}

// TestSectionAndList verifies nested access helpers.
func TestSectionAndList(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
wire:
  compression_threshold: 2048
subscriptions:
  - type: read
  - not-a-map
  - type: write
`))
	require.NoError(t, err)

	assert.Equal(t, 2048, cfg.Section("wire").Int("compression_threshold", 0))
	assert.Empty(t, cfg.Section("missing").Raw())

	list := cfg.List("subscriptions")
	require.Len(t, list, 2)
	assert.Equal(t, "read", list[0].String("type", ""))
	assert.Equal(t, "write", list[1].String("type", ""))
	assert.Nil(t, cfg.List("wire"))
}

func TestStringSlice(t *testing.T) {
	cfg := config.New(map[string]any{
		"ok":    []any{"a", "b"},
		"mixed": []any{"a", 1},
	})
	assert.Equal(t, []string{"a", "b"}, cfg.StringSlice("ok", nil))
	assert.Equal(t, []string{"d"}, cfg.StringSlice("mixed", []string{"d"}))
}

const sampleYAML = `
peer:
  address: ${FSEVENTS_TEST_PEER}
  dial_timeout: 3s
  write_timeout: 500
wire:
  compression_threshold: 4096
aggregator: "Null"
log_level: debug
metrics: true
subscriptions:
  - type: read
    count: 100
    time: 500ms
  - type: write
    file: inode-42
    size: 1048576
    peer:
      time: 2s
`

func TestLoad(t *testing.T) {
	t.Setenv("FSEVENTS_TEST_PEER", "peer.internal:7400")
	path := filepath.Join(t.TempDir(), "fsevents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	s, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "peer.internal:7400", s.PeerAddress)
	assert.Equal(t, 3*time.Second, s.DialTimeout)
	assert.Equal(t, 500*time.Millisecond, s.WriteTimeout)
	assert.Equal(t, 4096, s.CompressionThreshold)
	assert.Equal(t, config.AggregatorNull, s.Aggregator)
	assert.Equal(t, slog.LevelDebug, s.LogLevel)
	assert.True(t, s.Metrics)

	require.Len(t, s.Subscriptions, 2)

	read := s.Subscriptions[0]
	assert.Equal(t, event.TypeRead, read.Local.Type)
	assert.Equal(t, uint64(100), read.Local.CountThreshold)
	assert.Equal(t, 500*time.Millisecond, read.Local.TimeThreshold)
	assert.Equal(t, read.Local, read.Peer, "peer defaults to local thresholds")

	write := s.Subscriptions[1]
	assert.Equal(t, "inode-42", write.Local.FileID)
	assert.Equal(t, uint64(1048576), write.Local.SizeThreshold)
	assert.Zero(t, write.Local.TimeThreshold)
	assert.Equal(t, 2*time.Second, write.Peer.TimeThreshold)
	assert.Equal(t, uint64(1048576), write.Peer.SizeThreshold)
	assert.Equal(t, "inode-42", write.Peer.FileID)
}

func TestParse_Defaults(t *testing.T) {
	s, err := config.Parse(config.New(nil))
	require.NoError(t, err)
	assert.Equal(t, config.Defaults(), s)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown aggregator", "aggregator: fancy", "unknown policy"},
		{"bad log level", "log_level: loud", "log_level"},
		{"subscription without threshold", "subscriptions:\n  - type: read", "subscriptions[0]"},
		{"subscription with bad type", "subscriptions:\n  - type: rename\n    count: 1", "invalid subscription type"},
		{"sub-millisecond time", "subscriptions:\n  - type: read\n    time: 200us", "below resolution"},
		{"empty address", "peer:\n  address: \"\"", "peer.address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.FromYAML([]byte(tt.yaml))
			require.NoError(t, err)
			_, err = config.Parse(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFromFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fsevents.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"peer":{"address":"x:1"},"wire":{"compression_threshold":512}}`), 0o600))

	cfg, err := config.FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "x:1", cfg.String("peer.address", ""))
	assert.Equal(t, 512, cfg.Int("wire.compression_threshold", 0))
}

func TestFromFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := config.FromFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	txt := filepath.Join(dir, "config.txt")
	require.NoError(t, os.WriteFile(txt, []byte("x"), 0o600))
	_, err = config.FromFile(txt)
	assert.ErrorContains(t, err, "unsupported")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("a: [unclosed"), 0o600))
	_, err = config.FromFile(bad)
	assert.ErrorContains(t, err, "parse yaml")
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fsevents.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: initial\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var seen []string
	done := make(chan error, 1)
	go func() {
		done <- config.Watch(ctx, path, func(cfg config.Config, err error) {
			// A reload can race a write and see an empty file.
			if err != nil || !cfg.Has("mode") {
				return
			}
			mu.Lock()
			seen = append(seen, cfg.String("mode", ""))
			mu.Unlock()
		})
	}()

	// Other files in the directory are ignored; the watched file reloads.
	// Keep rewriting until the watcher (started asynchronously) sees a change.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("mode: other\n"), 0o600)
		_ = os.WriteFile(path, []byte("mode: fresh\n"), 0o600)
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0
	}, 5*time.Second, 150*time.Millisecond)

	mu.Lock()
	for _, v := range seen {
		assert.Equal(t, "fresh", v)
	}
	mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
