// Package server hosts a gin engine behind a plain or TLS listener with
// graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/celerix-dev/assessment-bridge/internal/middleware"
	"github.com/celerix-dev/assessment-bridge/internal/platform/logger"
)

const shutdownGrace = 10 * time.Second

type Router struct {
	engine *gin.Engine
	log    *logger.Logger
	cert   *tls.Certificate

	mu       sync.Mutex
	listener net.Listener
	srv      *http.Server
}

// NewRouter builds an engine with recovery, request logging, CORS and tracing
// middleware installed. Routes are added through Engine.
func NewRouter(serviceName string, log *logger.Logger, apiKeyHeader string) *Router {
	if log == nil {
		log = logger.Nop()
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware(serviceName))
	engine.Use(middleware.RequestLogger(log))
	engine.Use(middleware.CORS(apiKeyHeader))
	return &Router{engine: engine, log: log}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// SetCertificate sets the TLS certificate for the router
func (r *Router) SetCertificate(cert tls.Certificate) {
	r.cert = &cert
}

// Addr returns the bound address, or nil before Listen has bound.
func (r *Router) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Listen serves HTTP on port until ctx is cancelled or Stop is called, then
// drains in-flight requests. Port "0" binds an ephemeral port.
func (r *Router) Listen(ctx context.Context, port string) error {
	ln, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}
	if r.cert != nil {
		ln = tls.NewListener(ln, &tls.Config{Certificates: []tls.Certificate{*r.cert}})
	}

	srv := &http.Server{
		Handler:           r.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	r.mu.Lock()
	r.listener = ln
	r.srv = srv
	r.mu.Unlock()

	r.log.Info("listening", "addr", ln.Addr().String(), "tls", r.cert != nil)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	r.log.Info("server stopped", "addr", ln.Addr().String())
	return nil
}

// Stop closes the server immediately.
func (r *Router) Stop() error {
	r.mu.Lock()
	srv := r.srv
	r.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Close()
}
