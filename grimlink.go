package grimlink

import (
	"context"
	"fmt"
	"time"
)

// HostPlayerID is the reserved participant id of the session authority.
// A channel admits at most one open connection using it.
const HostPlayerID = "host"

// SecretPrefix marks secret-bound player ids. A connection claiming such an
// id must prove ownership of the matching secret at admission time.
const SecretPrefix = "__s_"

const (
	// DefaultPingInterval is the liveness probe cadence. The same interval
	// serves as the flood-protection counting window and as the trigger for
	// the empty-channel sweep.
	DefaultPingInterval = 30 * time.Second

	// DefaultSpamRate is the tolerated inbound rate in messages per second
	// of probe interval. With the default interval a connection may send up
	// to 150 frames per window before it is terminated.
	DefaultSpamRate = 5
)

// TerminationReason labels why the relay forcibly closed a connection. The
// values double as the metric name suffixes of the termination counters.
type TerminationReason string

const (
	TerminationHostConflict TerminationReason = "host"
	TerminationSpam         TerminationReason = "spam"
	TerminationTimeout      TerminationReason = "timeout"
	TerminationValidate     TerminationReason = "player_validate"
)

// Close reasons sent to rejected clients. Front ends display these verbatim,
// so the wording is kept stable.
const (
	ReasonSecretInvalid = "Player secret failed to validate."
	ReasonSpam          = "Your app seems to be malfunctioning, please clear your browser cache."
)

// ReasonDuplicateHost is the close reason sent to a second host attempting to
// join a channel that already has one.
func ReasonDuplicateHost(channel string) string {
	return fmt.Sprintf("The channel %q already has a host", channel)
}

// Server is a running relay.
//
// Example usage:
//
//	server := ws.New(cfg)
//	if err := server.Start(ctx); err != nil {
//	    return err
//	}
//	<-ctx.Done()
//	server.Stop(context.Background())
type Server interface {
	// Start starts the relay and begins accepting connections. It returns
	// once the listener is up, or with the bind error if it is not.
	Start(ctx context.Context) error

	// Stop closes all client connections and shuts the HTTP server down
	// gracefully within the context's deadline.
	Stop(ctx context.Context) error
}
