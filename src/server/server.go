// Package server exposes the relay over HTTP: WebSocket endpoints under
// /ws/ for the push and signaling channels, and the judge callbacks
// under /push/.
package server

import (
	"net"
	"strings"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/ojhub/realtime/src/hub"
	"github.com/ojhub/realtime/src/service"
	"github.com/ojhub/realtime/src/types"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// Endpoints lists the WebSocket endpoint names served under /ws/.
var Endpoints = []string{
	types.EndpointSubmission,
	types.EndpointConfig,
	types.EndpointFlowchart,
	types.EndpointSignaling,
}

// Config configures the gateway listener.
type Config struct {
	Addr            string `yaml:"addr"`
	PushToken       string `yaml:"push_token"` // required on /push/ when set
	MaxPeers        int    `yaml:"max_peers"`
	ReadBufferSize  int    `yaml:"read_buffer_size"`
	WriteBufferSize int    `yaml:"write_buffer_size"`
}

// DefaultConfig returns the default gateway configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		MaxPeers:        hub.DefaultMaxPeers,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}

// Server serves the relay endpoints.
type Server struct {
	cfg      Config
	svc      *service.Service
	app      *fiber.App
	upgrader websocket.FastHTTPUpgrader
	srv      *fasthttp.Server
	logger   zerolog.Logger
}

// New creates a server for svc.
func New(cfg Config, svc *service.Service, logger zerolog.Logger) *Server {
	s := &Server{
		cfg: cfg,
		svc: svc,
		app: fiber.New(fiber.Config{AppName: "ojhub-realtime"}),
		upgrader: websocket.FastHTTPUpgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     func(*fasthttp.RequestCtx) bool { return true },
		},
		logger: logger.With().Str("component", "server").Logger(),
	}
	svc.Hub().SetMaxPeers(cfg.MaxPeers)
	s.registerRoutes()
	s.srv = &fasthttp.Server{Handler: s.Handler(), Name: "ojhub-realtime"}
	return s
}

// Handler routes WebSocket endpoints to the upgrader and everything else
// to the HTTP routes. Upgrades never reach the fiber app.
func (s *Server) Handler() fasthttp.RequestHandler {
	routes := s.app.Handler()
	return func(ctx *fasthttp.RequestCtx) {
		if endpoint, ok := endpointOf(string(ctx.Path())); ok {
			s.upgrade(ctx, endpoint)
			return
		}
		routes(ctx)
	}
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("push gateway listening")
	return s.srv.Serve(ln)
}

// ListenAndServe listens on the configured address.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Shutdown closes every relay connection, then stops the listener.
func (s *Server) Shutdown() error {
	s.svc.Hub().Stop()
	return s.srv.Shutdown()
}

func endpointOf(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, "/ws/")
	if !ok {
		return "", false
	}
	rest = strings.TrimSuffix(rest, "/")
	for _, e := range Endpoints {
		if rest == e {
			return e, true
		}
	}
	return "", false
}

func (s *Server) upgrade(ctx *fasthttp.RequestCtx, endpoint string) {
	upgrade := string(ctx.Request.Header.Peek("Upgrade"))
	if !strings.EqualFold(upgrade, "websocket") {
		ctx.SetStatusCode(fasthttp.StatusUpgradeRequired)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"error":"upgrade_required","message":"WebSocket upgrade required"}`)
		return
	}

	clientID := uuid.New().String()
	h := s.svc.Hub()

	err := s.upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		client := hub.NewClient(clientID, endpoint, &fasthttpConn{conn}, h)
		h.Register(client)
		go client.WritePump()
		client.ReadPump()
	})
	if err != nil {
		s.logger.Error().Err(err).Str("endpoint", endpoint).Msg("websocket upgrade failed")
	}
}

// fasthttpConn wraps fasthttp/websocket.Conn to satisfy types.Conn.
type fasthttpConn struct {
	conn *websocket.Conn
}

func (f *fasthttpConn) ReadMessage() ([]byte, error) {
	_, data, err := f.conn.ReadMessage()
	return data, err
}

func (f *fasthttpConn) WriteJSON(v any) error { return f.conn.WriteJSON(v) }
func (f *fasthttpConn) Close() error          { return f.conn.Close() }
