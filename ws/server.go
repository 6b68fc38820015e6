// Package ws is the public construction surface for the relay server.
package ws

import (
	"net/http"

	"github.com/hystericca/grimlink"
	"github.com/hystericca/grimlink/internal/relay"
)

type ServerConfig = relay.ServerConfig
type CheckOriginFn = relay.CheckOriginFn

// New creates a relay server.
//
// Example:
//
//	server := ws.New(ws.ServerConfig{
//	    Addr:        ":8001",
//	    CheckOrigin: ws.AllOrigins(),
//	})
//	if err := server.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
func New(cfg ServerConfig) grimlink.Server {
	return relay.New(cfg)
}

// AllOrigins returns an origin check that admits every origin. Development
// only; production deployments configure an allow-list.
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}
