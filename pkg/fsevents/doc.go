/*
Package fsevents aggregates file system operations on a FUSE client and
delivers the aggregates to a remote peer.

# Overview

A FUSE client sees a steady stream of reads, writes and truncates. Most
consumers do not want each one; they want to know that a file was read
or changed, how much, and where. fsevents folds operations on the same
file into an aggregate and emits it when a subscription's threshold is
reached:

  - CountThreshold: number of operations folded
  - SizeThreshold: bytes requested by those operations
  - TimeThreshold: age of the aggregate, checked periodically

Emitted aggregates are handed to a communicator which numbers them,
transmits them and keeps them until the peer confirms them.

# Basic Usage

	channel, _ := transport.NewTCPChannel(transport.Config{Address: "peer:7400"})
	mgr, err := fsevents.New(channel, fsevents.WithLogger(logger))
	if err != nil {
	    return err
	}
	defer mgr.Close()

	local := event.NewSubscription(event.TypeWrite, event.WithCountThreshold(64))
	peer := event.NewSubscription(event.TypeWrite, event.WithTimeThreshold(time.Second))
	id, err := mgr.Subscribe(ctx, local, peer)

	mgr.EmitWrite("inode-42", 0, 4096)

The channel's callbacks route inbound messages and connection state back
into the manager. Every connection opens with the manager's hello, which
names the client so the peer keeps each client's delivery ids apart:

	transport.Config{
	    Handshake:    mgr.Hello,
	    OnMessage:    func(ctx context.Context, b []byte) { mgr.HandleInbound(ctx, b) },
	    OnConnect:    func(ctx context.Context) { mgr.Reconnected(ctx) },
	    OnDisconnect: mgr.Disconnected,
	}

# Aggregation Policies

The key policy (default) keeps one aggregate per file and operation
family. The null policy emits every operation as its own aggregate once a
subscription admits it. Select with WithAggregator.

# Delivery

Delivery ids increase monotonically. A confirmation for id N releases
every pending delivery up to N. After a disconnect new deliveries are held
until Reconnected retransmits the backlog in order, so a peer never sees a
newer id before an older unconfirmed one on the same connection.

# Subpackages

  - event: operations, aggregators, subscriptions and streams
  - communicator: delivery ids, pending list, retransmission
  - wire: CBOR envelope with optional zstd compression
  - transport: reconnecting TCP channel
  - peer: reference peer with memory and SQLite receipt stores
  - scheduler: periodic flush timers
  - config: YAML/env/flag configuration with hot reload
  - observability: slog helpers, OpenTelemetry metrics and tracing
  - errors: categorized errors and retry policies
*/
package fsevents
