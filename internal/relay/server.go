package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"microbiome/internal/config"
	"microbiome/internal/ipc"
)

// Server ties the IPC subscriber, bridge, websocket hub and HTTP router
// together.
//
// Background workers do not start until Run is called, so tests can
// construct a server and use Router() without goroutines running.
type Server struct {
	cfg         config.RelayConfig
	hub         *Hub
	bridge      *Bridge
	sub         *ipc.Subscriber
	rateLimiter *IPRateLimiter
	router      *chi.Mux
}

// NewServer builds a relay for cfg.
func NewServer(cfg config.AppConfig) *Server {
	s := &Server{
		cfg: cfg.Relay,
		hub: NewHub(cfg.Relay),
		sub: ipc.NewSubscriber(cfg.IPC.Endpoint, cfg.IPC.Topic),
	}
	s.bridge = NewBridge(s.hub)
	s.bridge.Attach(s.sub)

	s.rateLimiter = NewIPRateLimiter(RateLimitFromConfig(cfg.Relay))
	s.router = NewRouter(RouterConfig{
		Hub:         s.hub,
		Bridge:      s.bridge,
		RateLimiter: s.rateLimiter,
		CORSOrigins: cfg.Relay.AllowedOrigins,
		StaticDir:   cfg.Relay.StaticDir,
	})
	return s
}

// Router returns the HTTP handler for use with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Bridge returns the snapshot bridge.
func (s *Server) Bridge() *Bridge {
	return s.bridge
}

// Run starts the hub, subscriber and HTTP listener, and blocks until ctx
// is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.hub.Run()
	if err := s.sub.Start(); err != nil {
		ln.Close()
		s.hub.Stop()
		return fmt.Errorf("start subscriber: %w", err)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("🌐 Relay listening on %s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Hijacked websocket connections are not tracked by Shutdown; the hub
	// closes them.
	srv.Shutdown(shutdownCtx)
	s.hub.Stop()
	s.sub.Stop()
	s.rateLimiter.Stop()
	log.Println("🌐 Relay stopped")

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return nil
}
