package relay

import (
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
)

// testConn builds a registry-ready connection with no transport behind it.
// Frames queued for it are read straight from its send channel.
func testConn(channel, player string) *Conn {
	c := &Conn{
		id:       uuid.New().String(),
		channel:  NormalizeChannel(channel),
		playerID: player,
		sendCh:   make(chan []byte, 16),
	}
	c.alive.Store(true)
	return c
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func recvFrame(t *testing.T, c *Conn) []byte {
	t.Helper()
	select {
	case f := <-c.sendCh:
		return f
	default:
		t.Fatalf("no frame queued for %q", c.PlayerID())
		return nil
	}
}

func expectNoFrame(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case f := <-c.sendCh:
		t.Fatalf("unexpected frame for %q: %s", c.PlayerID(), f)
	default:
	}
}
