package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/armon/go-metrics"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"reactive_kv_store/internal/config"
	"reactive_kv_store/internal/events"
	"reactive_kv_store/internal/keys"
	database "reactive_kv_store/internal/kvstore"
	"reactive_kv_store/internal/memorymode"
	"reactive_kv_store/internal/partition"
	"reactive_kv_store/internal/reactive"
	"reactive_kv_store/internal/rpc"
	"reactive_kv_store/internal/server"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the store with its gRPC and HTTP APIs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := NewApp(rootOpts.Config, rootOpts.Logger)
			if err != nil {
				return err
			}
			defer app.Close()

			return app.Serve(ctx)
		},
	}
}

// App is a fully wired store process.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	backend database.Store
	Store   *reactive.Store
	Mode    *memorymode.Controller
	sink    *metrics.InmemSink

	nc     *nats.Conn
	bridge *events.Bridge

	grpcServer *grpc.Server
	rest       *server.RestServer
}

// NewApp opens the durable backend, loads the store and restores the
// memory-only mode recorded before the last shutdown.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{cfg: cfg, logger: logger}
	if err := app.init(); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) init() error {
	var err error
	a.backend, err = database.Open(a.cfg.Storage.Backend, a.cfg.Storage.Path)
	if err != nil {
		return err
	}

	a.sink = metrics.NewInmemSink(10*time.Second, time.Minute)
	mcfg := metrics.DefaultConfig("kvstore")
	mcfg.EnableRuntimeMetrics = false
	m, err := metrics.New(mcfg, a.sink)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	p, err := partition.New(a.cfg.Persistence.Partitioner, a.cfg.Persistence.Lanes)
	if err != nil {
		return err
	}

	a.Store, err = reactive.New(a.backend,
		reactive.WithLogger(a.logger.Named("store")),
		reactive.WithMetrics(m),
		reactive.WithPartitioner(p),
		reactive.WithBacklogWarning(a.cfg.Persistence.BacklogWarning),
	)
	if err != nil {
		return err
	}

	patterns, err := a.cfg.MemoryOnly.KeyPatterns()
	if err != nil {
		return err
	}
	a.Mode, err = memorymode.NewController(a.Store,
		memorymode.WithPatterns(patterns...),
		memorymode.WithLogger(a.logger.Named("memorymode")),
	)
	if err != nil {
		return err
	}

	if err := a.Mode.Restore(); err != nil {
		return fmt.Errorf("failed to restore memory only mode: %w", err)
	}
	if a.cfg.MemoryOnly.EnableOnStart {
		if err := a.Mode.Enable(); err != nil {
			return err
		}
	}

	if a.cfg.Events.NATSURL != "" {
		if err := a.startBridge(); err != nil {
			return err
		}
	}

	a.logger.Info("Store ready",
		zap.String("backend", a.cfg.Storage.Backend),
		zap.Int("keys", len(a.Store.Keys())),
		zap.Bool("memory_only", a.Mode.Enabled()))
	return nil
}

func (a *App) startBridge() error {
	nc, err := events.Connect(a.cfg.Events.NATSURL, a.logger)
	if err != nil {
		return err
	}
	a.nc = nc

	a.bridge, err = events.NewBridge(nc, a.cfg.Events.SubjectPrefix, a.logger.Named("events"))
	if err != nil {
		return err
	}

	patterns, err := keys.ParsePatterns(a.cfg.Events.Patterns)
	if err != nil {
		return err
	}
	return a.bridge.Start(a.Store, patterns)
}

// Serve runs the gRPC and HTTP servers until ctx is cancelled or one of
// them fails.
func (a *App) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", a.cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.Server.GRPCAddr, err)
	}
	return a.serveOn(ctx, lis)
}

func (a *App) serveOn(ctx context.Context, lis net.Listener) error {
	var err error
	a.grpcServer = grpc.NewServer()
	rpc.RegisterStoreServer(a.grpcServer, rpc.NewServer(a.Store, a.Mode, a.logger.Named("rpc")))
	a.rest = server.NewRestServer(a.Store, a.Mode, a.sink, a.logger.Named("http"))

	errCh := make(chan error, 2)
	go func() {
		a.logger.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
		errCh <- a.grpcServer.Serve(lis)
	}()
	go func() {
		errCh <- a.rest.Run(a.cfg.Server.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("Shutting down...")
	case err = <-errCh:
		if err != nil {
			a.logger.Error("Server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	// open Subscribe streams would hold GracefulStop forever
	stopped := make(chan struct{})
	go func() {
		a.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		a.grpcServer.Stop()
	}

	if shutdownErr := a.rest.Shutdown(shutdownCtx); shutdownErr != nil && !errors.Is(shutdownErr, context.Canceled) {
		a.logger.Warn("HTTP shutdown failed", zap.Error(shutdownErr))
	}
	return err
}

// Close flushes pending durable writes and releases every resource.
func (a *App) Close() error {
	var errs []error

	if a.bridge != nil {
		a.bridge.Stop()
	}
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		if err := a.Store.Flush(ctx); err != nil && !errors.Is(err, reactive.ErrClosed) {
			errs = append(errs, err)
		}
		cancel()
		if err := a.Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
