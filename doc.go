// Package grimlink provides a real-time WebSocket relay for play sessions.
//
// Clients belonging to the same session join a named channel and exchange
// state-sync messages over persistent connections. One connection per channel,
// the one using the reserved "host" identity, acts as the authority for game
// state; the relay enforces that at most one host is connected per channel.
// Message payloads are opaque to the relay except for two reserved shapes:
// latency pings and direct (per-player addressed) messages.
//
// # Architecture
//
// Every wire message is a UTF-8 text frame holding a JSON array whose first
// element is a type tag:
//
//	["ping", ...]    relayed between host and players with the latency field
//	                 rewritten to the combined round-trip estimate
//	["direct", {...}] the second element maps player ids to payloads; each
//	                 addressed player receives only its own payload
//	[anything, ...]  relayed verbatim to every other member of the channel
//
// Frames that fail to decode are treated as opaque broadcasts, so the relay
// never rejects application traffic it does not understand.
//
// A single probe interval (30 seconds by default) drives liveness detection,
// the flood-protection counting window and the eviction sweep for channels
// whose members have all gone away.
//
// # Quick Start
//
//	import (
//	    "github.com/hystericca/grimlink/ws"
//	)
//
//	server := ws.New(ws.ServerConfig{
//	    Addr:        ":8001",
//	    CheckOrigin: ws.AllOrigins(), // dev only
//	})
//
//	if err := server.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer server.Stop(context.Background())
//
// Clients connect to ws://host:8001/{channel}/{playerId}. Player ids carrying
// the "__s_" prefix are secret-bound and must supply a ?secret= query
// parameter proving ownership; see the identity package for the derivation.
//
// # Observability
//
// The server exposes Prometheus metrics on /metrics: concurrent players and
// channels, per-channel occupancy, message throughput, and a counter per
// termination reason. Per-channel series are produced at scrape time, so an
// evicted channel disappears from the exposition instead of lingering at zero.
package grimlink
