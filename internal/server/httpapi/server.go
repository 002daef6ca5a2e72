// Package httpapi exposes the remote authority over plain HTTP with gin.
// It mirrors the gRPC service: POST /api/v1/sync pushes one mutation and
// GET /api/v1/ping reports liveness.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/gardenkeeper/internal/logging"
	"github.com/dmitrijs2005/gardenkeeper/internal/server/authority"
	"github.com/dmitrijs2005/gardenkeeper/internal/syncproto"
	"github.com/gin-gonic/gin"
)

const (
	SyncPath   = "/api/v1/sync"
	PingPath   = "/api/v1/ping"
	EntityPath = "/api/v1/entities/:type/:id"

	CorrelationIDHeaderName = "x-correlation-id"
)

const defaultShutdownTimeout = 15 * time.Second

type Authority interface {
	Push(ctx context.Context, req *syncproto.PushRequest) (*syncproto.PushResponse, error)
	Get(entityType, id string) (*authority.Record, bool)
}

type Server struct {
	address         string
	authority       Authority
	logger          logging.Logger
	shutdownTimeout time.Duration
}

func NewServer(address string, l logging.Logger, a Authority, shutdownTimeout time.Duration) *Server {
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}
	return &Server{
		address:         address,
		authority:       a,
		logger:          l.With("module", "http_server"),
		shutdownTimeout: shutdownTimeout,
	}
}

// Handler returns the gin engine with every route mounted.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(correlationID())
	r.Use(requestLogger(s.logger))
	r.Use(gin.Recovery())

	r.POST(SyncPath, s.pushHandler())
	r.GET(PingPath, pingHandler())
	r.GET(EntityPath, s.entityHandler())

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	return r
}

// Run listens on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis)
}

func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "Starting HTTP server", "address", lis.Addr().String())
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info(ctx, "Stopping HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
