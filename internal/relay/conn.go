package relay

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hystericca/grimlink"
)

var (
	ErrConnClosed    = errors.New("relay: connection closed")
	ErrSendQueueFull = errors.New("relay: send queue full")
)

const (
	sendQueueSize = 256
	writeWait     = 10 * time.Second
)

// Conn wraps one live websocket session. It is owned by the registry entry
// for its channel; no other component holds a long-lived reference. The write
// pump goroutine is the only writer of data frames, control frames go out via
// WriteControl which gorilla allows concurrently.
type Conn struct {
	id         string
	channel    string
	playerID   string
	remoteAddr string

	ws *websocket.Conn

	mu     sync.Mutex
	closed bool
	sendCh chan []byte

	// Touched by both the reader goroutine (pong handler) and the probe
	// ticker, hence atomics.
	alive     atomic.Bool
	pingStart atomic.Int64 // unix nanos of the probe in flight
	latencyMS atomic.Int64 // one-way estimate from the last pong
	inbound   atomic.Int64 // frames received since the last pong
}

func newConn(ws *websocket.Conn, channel, playerID, remoteAddr string) *Conn {
	c := &Conn{
		id:         uuid.New().String(),
		channel:    channel,
		playerID:   playerID,
		remoteAddr: remoteAddr,
		ws:         ws,
		sendCh:     make(chan []byte, sendQueueSize),
	}
	c.alive.Store(true)
	c.pingStart.Store(time.Now().UnixNano())
	go c.writePump()
	return c
}

// ID returns a unique identifier for the connection, used in log lines.
func (c *Conn) ID() string { return c.id }

// Channel returns the normalized channel name assigned at admission.
func (c *Conn) Channel() string { return c.channel }

// PlayerID returns the participant id claimed at admission.
func (c *Conn) PlayerID() string { return c.playerID }

// RemoteAddr returns the client's remote network address.
func (c *Conn) RemoteAddr() string { return c.remoteAddr }

// IsHost reports whether this connection holds the reserved host identity.
func (c *Conn) IsHost() bool { return c.playerID == grimlink.HostPlayerID }

// Open reports whether the transport can still accept frames.
func (c *Conn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Alive reports whether a pong arrived since the last probe.
func (c *Conn) Alive() bool { return c.alive.Load() }

// Latency returns the last computed one-way latency estimate in milliseconds.
func (c *Conn) Latency() int64 { return c.latencyMS.Load() }

// SendText queues a text frame for delivery. It never blocks the router: a
// full queue counts as a failed delivery and the connection is left for the
// liveness probe to reap.
func (c *Conn) SendText(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.sendCh <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// beginProbe stamps a fresh ping and marks the connection suspect until the
// matching pong arrives.
func (c *Conn) beginProbe(now time.Time) {
	c.alive.Store(false)
	c.pingStart.Store(now.UnixNano())
}

// handlePong records half the round trip as the one-way latency estimate,
// resets the flood counter and marks the connection alive again. The probe
// tick never resets the counter, only this does.
func (c *Conn) handlePong(now time.Time) {
	elapsed := float64(now.UnixNano() - c.pingStart.Load())
	c.latencyMS.Store(int64(math.Round(elapsed / float64(2*time.Millisecond))))
	c.inbound.Store(0)
	c.alive.Store(true)
}

// countInbound increments the per-window flood counter and returns the new
// value.
func (c *Conn) countInbound() int64 { return c.inbound.Add(1) }

// writePing sends a websocket ping control frame.
func (c *Conn) writePing(deadline time.Time) error {
	return c.ws.WriteControl(websocket.PingMessage, nil, deadline)
}

// CloseWithReason performs the close handshake once, delivering a code and a
// human-readable reason the client may display.
func (c *Conn) CloseWithReason(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.sendCh)
	if c.ws != nil {
		msg := websocket.FormatCloseMessage(code, reason)
		c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.ws.Close()
	}
}

// Terminate drops the socket without a close handshake. Used when the peer is
// already presumed unreachable.
func (c *Conn) Terminate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.sendCh)
	if c.ws != nil {
		c.ws.Close()
	}
}

// writePump pumps queued frames to the websocket connection. It exits when
// the send channel closes or a write fails.
func (c *Conn) writePump() {
	defer c.ws.Close()
	for frame := range c.sendCh {
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}
}
