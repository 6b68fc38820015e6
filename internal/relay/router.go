package relay

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
)

// Reserved message type tags, matched case-insensitively. Anything else is an
// opaque broadcast.
const (
	tagPing   = "ping"
	tagDirect = "direct"
)

// Router classifies inbound frames by their leading JSON tag and fans them
// out within the sender's channel. A frame is never relayed back to its
// sender and never crosses channels; recipients are checked for an open
// transport at send time.
type Router struct {
	registry *Registry
	metrics  *Metrics
	log      *slog.Logger
}

func NewRouter(registry *Registry, metrics *Metrics, log *slog.Logger) *Router {
	return &Router{registry: registry, metrics: metrics, log: log}
}

// Route dispatches one inbound frame. Decode failures never propagate: an
// unreadable frame falls back to an opaque broadcast and a malformed direct
// body is dropped, so garbage from one client cannot affect others. A panic
// while routing is contained to the frame that caused it.
func (rt *Router) Route(sender *Conn, frame []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			rt.log.Error("recovered routing panic",
				"channel", sender.Channel(), "player", sender.PlayerID(), "panic", rec)
		}
	}()

	tag, elements := decodeEnvelope(frame)
	switch tag {
	case tagPing:
		rt.relayPing(sender, frame, elements)
	case tagDirect:
		rt.relayDirect(sender, frame, elements)
	default:
		rt.broadcast(sender, frame)
	}
}

// decodeEnvelope reads the leading type tag of a JSON array frame. A frame
// that is not a JSON array, or whose first element is not a string, has no
// tag and is relayed as opaque.
func decodeEnvelope(frame []byte) (string, []json.RawMessage) {
	var elements []json.RawMessage
	if err := json.Unmarshal(frame, &elements); err != nil || len(elements) == 0 {
		return "", nil
	}
	var tag string
	if err := json.Unmarshal(elements[0], &tag); err != nil {
		return "", nil
	}
	return strings.ToLower(tag), elements
}

// relayPing forwards a latency probe to the rest of the channel. Pings only
// flow between the host and players, never player to player. The latency
// value is rewritten per recipient to recipient latency + sender latency, so
// the far end sees a full round-trip estimate without either side knowing the
// other's raw value.
func (rt *Router) relayPing(sender *Conn, frame []byte, elements []json.RawMessage) {
	for _, member := range rt.registry.Members(sender.Channel()) {
		if member == sender || !member.Open() {
			continue
		}
		if !sender.IsHost() && !member.IsHost() {
			continue
		}
		sum := member.Latency() + sender.Latency()
		if err := member.SendText(rewriteLatency(frame, elements, sum)); err == nil {
			rt.metrics.IncOutgoing()
		}
	}
}

// rewriteLatency injects the latency sum into an outgoing ping. When the ping
// body is an object carrying a latency member, the value is replaced in
// place. Older clients ship a bare "latency" placeholder token instead, which
// gets the legacy textual substitution of the first occurrence.
func rewriteLatency(frame []byte, elements []json.RawMessage, sum int64) []byte {
	digits := strconv.FormatInt(sum, 10)
	if len(elements) > 1 {
		var body map[string]json.RawMessage
		if err := json.Unmarshal(elements[1], &body); err == nil {
			if _, ok := body["latency"]; ok {
				body["latency"] = json.RawMessage(digits)
				rebuilt := make([]json.RawMessage, len(elements))
				copy(rebuilt, elements)
				if raw, err := json.Marshal(body); err == nil {
					rebuilt[1] = raw
					if out, err := json.Marshal(rebuilt); err == nil {
						return out
					}
				}
			}
		}
	}
	if i := bytes.Index(frame, []byte("latency")); i >= 0 {
		out := make([]byte, 0, len(frame)+len(digits))
		out = append(out, frame[:i]...)
		out = append(out, digits...)
		out = append(out, frame[i+len("latency"):]...)
		return out
	}
	return frame
}

// relayDirect delivers per-player payloads. The second envelope element maps
// player ids to arbitrary payloads; each addressed member receives only its
// own payload, serialized alone. Unparseable bodies are logged and dropped
// with nothing sent back to the sender.
func (rt *Router) relayDirect(sender *Conn, frame []byte, elements []json.RawMessage) {
	if len(elements) < 2 {
		return
	}
	var perPlayer map[string]json.RawMessage
	if err := json.Unmarshal(elements[1], &perPlayer); err != nil {
		rt.log.Error("dropping unparseable direct message",
			"channel", sender.Channel(), "player", sender.PlayerID(), "err", err)
		return
	}
	rt.log.Debug("direct message",
		"channel", sender.Channel(), "player", sender.PlayerID(), "size", len(frame))
	for _, member := range rt.registry.Members(sender.Channel()) {
		if member == sender || !member.Open() {
			continue
		}
		payload, ok := perPlayer[member.PlayerID()]
		if !ok {
			continue
		}
		if err := member.SendText(payload); err == nil {
			rt.metrics.IncOutgoing()
		}
	}
}

// broadcast relays the frame verbatim to every other open member of the
// sender's channel.
func (rt *Router) broadcast(sender *Conn, frame []byte) {
	for _, member := range rt.registry.Members(sender.Channel()) {
		if member == sender || !member.Open() {
			continue
		}
		if err := member.SendText(frame); err == nil {
			rt.metrics.IncOutgoing()
		}
	}
}
