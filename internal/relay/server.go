package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/hystericca/grimlink"
	"github.com/hystericca/grimlink/internal/identity"
)

// ErrServerAlreadyRunning is returned by Start when called twice.
var ErrServerAlreadyRunning = errors.New("relay: server already running")

// CheckOriginFn validates the origin of a connection request. Admission is
// refused when it returns false, before the websocket handshake completes.
type CheckOriginFn = func(r *http.Request) bool

// ServerConfig configures a relay server.
type ServerConfig struct {
	// Addr is the network address to listen on, e.g. ":8001".
	Addr string

	// PingInterval is the liveness probe cadence; it also bounds the flood
	// counting window and triggers the registry sweep. Zero selects the
	// default.
	PingInterval time.Duration

	// SpamRate is the tolerated inbound rate in messages per second of ping
	// interval. Zero selects the default.
	SpamRate int

	// CheckOrigin validates connection origins. Nil falls back to gorilla's
	// same-host default.
	CheckOrigin CheckOriginFn

	// AdmissionRate and AdmissionBurst smooth connection-attempt bursts with
	// a token bucket. A zero rate disables admission throttling.
	AdmissionRate  rate.Limit
	AdmissionBurst int

	// TLSCertFile and TLSKeyFile enable TLS when both are set.
	TLSCertFile string
	TLSKeyFile  string

	Logger *slog.Logger
}

// Server is the relay: it owns the channel registry, the metrics sink, the
// router and the probe ticker. All connection events funnel through it.
type Server struct {
	cfg ServerConfig
	log *slog.Logger

	registry  *Registry
	metrics   *Metrics
	router    *Router
	upgrader  websocket.Upgrader
	admission *rate.Limiter

	httpServer *http.Server

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

// New creates a relay server from the configuration, applying defaults for
// unset interval and flood values.
func New(cfg ServerConfig) *Server {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = grimlink.DefaultPingInterval
	}
	if cfg.SpamRate <= 0 {
		cfg.SpamRate = grimlink.DefaultSpamRate
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	registry := NewRegistry()
	metrics := NewMetrics(registry)
	s := &Server{
		cfg:      cfg,
		log:      cfg.Logger,
		registry: registry,
		metrics:  metrics,
		router:   NewRouter(registry, metrics, cfg.Logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}
	if cfg.AdmissionRate > 0 {
		burst := cfg.AdmissionBurst
		if burst <= 0 {
			burst = 1
		}
		s.admission = rate.NewLimiter(cfg.AdmissionRate, burst)
	}
	return s
}

// floodLimit is the inbound frame count tolerated per probe window.
func (s *Server) floodLimit() int64 {
	limit := int64(s.cfg.SpamRate) * int64(s.cfg.PingInterval/time.Second)
	if limit <= 0 {
		limit = int64(s.cfg.SpamRate)
	}
	return limit
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Get("/{channel}/{player}", s.handleSocket)
	return r
}

// Start starts the relay server. It returns once the listener is up, or with
// the bind error if startup failed immediately.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrServerAlreadyRunning
	}
	s.running = true
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.httpServer = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.routes(),
	}

	go s.probeLoop()

	errChan := make(chan error, 1)
	go func() {
		var err error
		if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Surface immediate startup errors without blocking the caller forever.
	select {
	case err := <-errChan:
		s.mu.Lock()
		s.running = false
		close(s.done)
		s.mu.Unlock()
		return err
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(stopCtx)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop closes every client connection and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.done)
	s.mu.Unlock()

	for _, c := range s.registry.AllConns() {
		c.CloseWithReason(websocket.CloseGoingAway, "server shutting down")
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UnixMilli(),
	})
}

// handleSocket admits one connection: origin policy (via the upgrader),
// identity validation, duplicate-host enforcement, then registration and the
// first liveness probe.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	if s.admission != nil && !s.admission.Allow() {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	channel := NormalizeChannel(pathSegment(r, "channel"))
	player := pathSegment(r, "player")

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade refused", "remote", r.RemoteAddr, "err", err)
		return
	}

	conn := newConn(ws, channel, player, r.RemoteAddr)

	if err := identity.Validate(player, r.URL.Query().Get("secret")); err != nil {
		s.log.Warn("possible player impersonation rejected",
			"channel", channel, "player", player, "remote", conn.RemoteAddr(), "err", err)
		s.metrics.Terminated(grimlink.TerminationValidate)
		conn.CloseWithReason(websocket.ClosePolicyViolation, grimlink.ReasonSecretInvalid)
		return
	}

	if err := s.registry.Join(conn); err != nil {
		s.log.Warn("duplicate host rejected", "channel", channel)
		s.metrics.Terminated(grimlink.TerminationHostConflict)
		conn.CloseWithReason(websocket.CloseNormalClosure, grimlink.ReasonDuplicateHost(channel))
		return
	}

	ws.SetPongHandler(func(string) error {
		conn.handlePong(time.Now())
		return nil
	})
	conn.writePing(time.Now().Add(writeWait))

	s.log.Info("connection admitted",
		"channel", channel, "player", player, "conn", conn.ID(), "remote", conn.RemoteAddr())

	go s.readLoop(conn)
}

// pathSegment decodes one URL path parameter, falling back to the raw value
// when it is not valid percent-encoding.
func pathSegment(r *http.Request, key string) string {
	raw := chi.URLParam(r, key)
	if decoded, err := url.PathUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

// readLoop consumes frames from one connection until the transport closes.
// Every accepted frame is counted before classification; crossing the flood
// threshold terminates the connection before the offending frame is routed.
func (s *Server) readLoop(conn *Conn) {
	defer func() {
		s.registry.Leave(conn)
		conn.Terminate()
		s.log.Info("connection closed",
			"channel", conn.Channel(), "player", conn.PlayerID(), "conn", conn.ID())
	}()

	limit := s.floodLimit()
	for {
		_, frame, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Warn("unexpected close", "conn", conn.ID(), "err", err)
			}
			return
		}

		s.metrics.IncIncoming()
		if conn.countInbound() > limit {
			s.log.Warn("disconnecting user due to spam",
				"channel", conn.Channel(), "player", conn.PlayerID())
			s.metrics.Terminated(grimlink.TerminationSpam)
			conn.CloseWithReason(websocket.ClosePolicyViolation, grimlink.ReasonSpam)
			return
		}

		s.router.Route(conn, frame)
	}
}

// probeLoop drives liveness probing and the empty-channel sweep on one shared
// interval.
func (s *Server) probeLoop() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.probeTick(time.Now())
		}
	}
}

// probeTick terminates connections that never answered the previous probe,
// dispatches a fresh probe to the rest, then sweeps channels left with no
// open member. A terminated connection's read loop unwinds and removes it
// from its channel; the sweep covers the case where that never happens.
func (s *Server) probeTick(now time.Time) {
	for _, c := range s.registry.AllConns() {
		if !c.Open() {
			continue
		}
		if !c.Alive() {
			s.log.Warn("terminating unresponsive connection",
				"channel", c.Channel(), "player", c.PlayerID(), "conn", c.ID())
			s.metrics.Terminated(grimlink.TerminationTimeout)
			c.Terminate()
			continue
		}
		c.beginProbe(now)
		c.writePing(now.Add(writeWait))
	}
	for _, name := range s.registry.Sweep() {
		s.log.Info("evicted empty channel", "channel", name)
	}
}
