/*
Package config loads fsevents client configuration.

# Overview

Config wraps a map[string]any decoded from YAML or JSON and provides typed
accessors that fall back to a default on missing keys or type mismatches.
Keys may be dotted paths into nested sections:

	cfg, err := config.FromFile("fsevents.yaml")
	addr := cfg.String("peer.address", "127.0.0.1:7400")
	threshold := cfg.Int("wire.compression_threshold", 1024)

Settings is the typed, validated view used by the client:

	settings, err := config.Load("fsevents.yaml")
	for _, sub := range settings.Subscriptions {
	    mgr.Subscribe(ctx, sub.Local, sub.Peer)
	}

# Type Coercion

Duration accepts a string parsed with time.ParseDuration ("500ms", "2s")
or a bare number of milliseconds. Int and Uint accept whole float64 values,
which is what JSON numbers decode to.

# Reloading

Watch follows the file and hands every successful reload to a callback.
Parse errors are reported without replacing the running configuration.

# Thread Safety

Config is safe for concurrent read access. The underlying map is not
modified after creation.
*/
package config
