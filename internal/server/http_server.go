package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/rably/internal/relay"
)

// App bundles the relay and the HTTP server in front of it.
type App struct {
	Config Config
	Relay  *relay.Relay
	HTTP   *http.Server
	log    zerolog.Logger
}

// NewApp builds the relay, its shared registry and presence table, and the
// HTTP server for cfg.
func NewApp(cfg Config, logger zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpLog := logger.With().Str("component", "http").Logger()

	rl := relay.New(
		relay.NewRegistry(cfg.TopicCapacity),
		relay.NewPresence(),
		cfg.RelayOptions(),
		logger,
	)

	origins := NewOriginPolicy(cfg.AllowedOrigins, httpLog)
	handler := NewHandler(rl, origins, httpLog)

	return &App{
		Config: cfg,
		Relay:  rl,
		HTTP:   CreateServer(cfg.Addr(), NewRouter(handler, origins, httpLog)),
		log:    httpLog,
	}, nil
}

// CreateServer creates and configures an HTTP server with the specified address and handler.
// It sets reasonable timeout values for production use.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Run listens on the configured address and serves until ctx is cancelled,
// then shuts down the HTTP server and the relay. A bind failure is returned
// immediately.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.HTTP.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run over an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.log.Info().Str("addr", ln.Addr().String()).Msg("server listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.HTTP.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	return a.Shutdown()
}

// Shutdown stops the HTTP server and then closes every relay session, each
// bounded by the configured shutdown timeout.
func (a *App) Shutdown() error {
	timeout := a.Config.ShutdownTimeout
	httpErr := ShutdownServer(a.HTTP, timeout, a.log)
	relayErr := a.Relay.Shutdown(timeout)
	return errors.Join(httpErr, relayErr)
}

// ShutdownServer gracefully shuts down the HTTP server without interrupting active connections.
// It waits for active connections to close or until the timeout is reached.
// Hijacked WebSocket connections are not tracked by the HTTP server; the
// relay closes those.
func ShutdownServer(server *http.Server, timeout time.Duration, logger zerolog.Logger) error {
	logger.Info().Msg("shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
		return err
	}

	logger.Info().Msg("HTTP server shutdown completed")
	return nil
}
