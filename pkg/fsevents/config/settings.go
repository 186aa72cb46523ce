package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/randalmurphal/fsevents/pkg/fsevents/event"
)

// Aggregator policy names.
const (
	AggregatorKey  = "key"
	AggregatorNull = "null"
)

// Settings is the typed view of a client configuration file:
//
//	peer:
//	  address: 127.0.0.1:7400
//	  dial_timeout: 5s
//	  write_timeout: 2s
//	wire:
//	  compression_threshold: 1024
//	aggregator: key
//	log_level: info
//	metrics: true
//	subscriptions:
//	  - type: read
//	    count: 100
//	    time: 500ms
//	  - type: write
//	    file: inode-42
//	    size: 1048576
//	    peer:
//	      time: 2s
//
// A subscription's peer block overrides thresholds in the descriptor sent
// to the peer; without one the peer receives the local thresholds.
type Settings struct {
	PeerAddress          string
	DialTimeout          time.Duration
	WriteTimeout         time.Duration
	CompressionThreshold int
	Aggregator           string
	LogLevel             slog.Level
	Metrics              bool
	Subscriptions        []SubscriptionPair
}

// SubscriptionPair holds the local and peer descriptors of one configured
// subscription.
type SubscriptionPair struct {
	Local event.Subscription
	Peer  event.Subscription
}

// Defaults returns the settings used for missing keys.
func Defaults() Settings {
	return Settings{
		PeerAddress:          "127.0.0.1:7400",
		DialTimeout:          5 * time.Second,
		WriteTimeout:         2 * time.Second,
		CompressionThreshold: 1024,
		Aggregator:           AggregatorKey,
		LogLevel:             slog.LevelInfo,
	}
}

// Parse extracts typed settings from cfg and validates them.
func Parse(cfg Config) (Settings, error) {
	s := Defaults()

	peer := cfg.Section("peer")
	s.PeerAddress = peer.String("address", s.PeerAddress)
	s.DialTimeout = peer.Duration("dial_timeout", s.DialTimeout)
	s.WriteTimeout = peer.Duration("write_timeout", s.WriteTimeout)
	s.CompressionThreshold = cfg.Int("wire.compression_threshold", s.CompressionThreshold)
	s.Aggregator = strings.ToLower(cfg.String("aggregator", s.Aggregator))
	s.Metrics = cfg.Bool("metrics", s.Metrics)

	if lvl := cfg.String("log_level", ""); lvl != "" {
		if err := s.LogLevel.UnmarshalText([]byte(lvl)); err != nil {
			return Settings{}, fmt.Errorf("log_level: %w", err)
		}
	}

	var errs []error
	if s.PeerAddress == "" {
		errs = append(errs, errors.New("peer.address is required"))
	}
	if s.Aggregator != AggregatorKey && s.Aggregator != AggregatorNull {
		errs = append(errs, fmt.Errorf("aggregator: unknown policy %q", s.Aggregator))
	}

	for i, item := range cfg.List("subscriptions") {
		pair, err := parseSubscription(item)
		if err != nil {
			errs = append(errs, fmt.Errorf("subscriptions[%d]: %w", i, err))
			continue
		}
		s.Subscriptions = append(s.Subscriptions, pair)
	}

	if err := errors.Join(errs...); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func parseSubscription(c Config) (SubscriptionPair, error) {
	local := event.NewSubscription(event.Type(c.String("type", "")),
		event.WithCountThreshold(c.Uint("count", 0)),
		event.WithSizeThreshold(c.Uint("size", 0)),
		event.WithTimeThreshold(c.Duration("time", 0)),
		event.ForFile(c.String("file", "")),
	)
	if err := local.Validate(); err != nil {
		return SubscriptionPair{}, err
	}

	peer := local
	if c.Has("peer") {
		p := c.Section("peer")
		peer.CountThreshold = p.Uint("count", local.CountThreshold)
		peer.SizeThreshold = p.Uint("size", local.SizeThreshold)
		peer.TimeThreshold = p.Duration("time", local.TimeThreshold)
		if err := peer.Validate(); err != nil {
			return SubscriptionPair{}, fmt.Errorf("peer: %w", err)
		}
	}
	return SubscriptionPair{Local: local, Peer: peer}, nil
}
