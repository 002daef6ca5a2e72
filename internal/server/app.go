// Package server wires and runs the reference sync server: one in-memory
// authority served over gRPC and, optionally, HTTP until a shutdown signal
// arrives.
package server

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/gardenkeeper/internal/logging"
	"github.com/dmitrijs2005/gardenkeeper/internal/server/authority"
	"github.com/dmitrijs2005/gardenkeeper/internal/server/config"
	"github.com/dmitrijs2005/gardenkeeper/internal/server/httpapi"
	"golang.org/x/sync/errgroup"

	gs "github.com/dmitrijs2005/gardenkeeper/internal/server/grpc"
)

type App struct {
	config    *config.Config
	logger    logging.Logger
	logCloser io.Closer
	authority *authority.Authority
}

func NewApp(c *config.Config) (*App, error) {

	logger, closer := logging.New(logging.Options{
		Level:      c.LogLevel,
		File:       c.LogFile,
		MaxSizeMB:  50,
		MaxBackups: 3,
		JSON:       true,
	})

	a, err := authority.New(logger, c.IdempotencyCacheSize)
	if err != nil {
		_ = closer.Close()
		return nil, fmt.Errorf("authority init error: %w", err)
	}

	return &App{config: c, logger: logger, logCloser: closer, authority: a}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves until ctx is cancelled, a signal arrives, or one of the
// servers fails. A failing server stops the other.
func (app *App) Run(ctx context.Context) error {
	defer app.logCloser.Close()

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.authority).Run(ctx)
	})

	if app.config.EndpointAddrHTTP != "" {
		g.Go(func() error {
			return httpapi.NewServer(app.config.EndpointAddrHTTP, app.logger, app.authority, app.config.ShutdownTimeout).Run(ctx)
		})
	}

	err := g.Wait()
	if err != nil {
		app.logger.Error(ctx, "server stopped", "error", err)
	}
	app.logger.Info(ctx, "App stopped")
	return err
}
