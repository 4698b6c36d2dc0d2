package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pdvrieze/ProcessManager-sub007/server/config"
	"github.com/pdvrieze/ProcessManager-sub007/server/health"
	"github.com/pdvrieze/ProcessManager-sub007/server/services/dispatch"
	"github.com/pdvrieze/ProcessManager-sub007/server/services/retry"
	"github.com/pdvrieze/ProcessManager-sub007/server/services/storage"
	"github.com/pdvrieze/ProcessManager-sub007/server/workflow"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	gogrpc "google.golang.org/grpc"
	grpcHealth "google.golang.org/grpc/health/grpc_health_v1"
)

const shutdownTimeout = 10 * time.Second

// Server hosts a process engine: its store, dispatcher and the gRPC health
// endpoint. Requests reach the engine through Engine.
type Server struct {
	log        *zap.Logger
	cfg        *config.Settings
	store      *storage.Store
	nc         *nats.Conn
	dispatcher *dispatch.Dispatcher
	engine     *workflow.Engine
	health     *health.Checker
	grpcServer *gogrpc.Server

	ephemeralStorage bool
	transports       dispatch.Transports
	listener         net.Listener
}

// New opens the store and starts the dispatcher described by cfg.
func New(ctx context.Context, log *zap.Logger, cfg *config.Settings, options ...Option) (*Server, error) {
	s := &Server{
		log:        log,
		cfg:        cfg,
		transports: make(dispatch.Transports),
	}
	for _, o := range options {
		o.configure(s)
	}

	backend, err := s.openBackend(ctx)
	if err != nil {
		return nil, err
	}
	var opts []storage.Option
	if cfg.CacheSize > 0 {
		opts = append(opts, storage.WithCache(storage.NewCache(cfg.CacheSize)))
	}
	s.store = storage.New(log, backend, opts...)

	httpTransport := dispatch.NewHTTPTransport(&http.Client{Timeout: cfg.HTTPTimeout})
	for _, scheme := range []string{"http", "https"} {
		if _, ok := s.transports[scheme]; !ok {
			s.transports[scheme] = httpTransport
		}
	}
	if cfg.NatsURL != "" {
		if s.nc, err = nats.Connect(cfg.NatsURL); err != nil {
			_ = s.store.Close()
			return nil, fmt.Errorf("connect to NATS at %s: %w", cfg.NatsURL, err)
		}
		if _, ok := s.transports["nats"]; !ok {
			s.transports["nats"] = dispatch.NewNATSTransport(s.nc)
		}
	}

	s.dispatcher = dispatch.New(log, s.store, s.transports, dispatch.Options{
		CoreWorkers:     cfg.CoreWorkers,
		MaxWorkers:      cfg.MaxWorkers,
		KeepAlive:       cfg.KeepAlive,
		NotifierQueue:   cfg.NotifierQueue,
		PollInterval:    cfg.PollInterval,
		SendTimeout:     cfg.HTTPTimeout,
		ConflictRetries: cfg.ConflictRetries,
	})

	engOpts := []workflow.Option{
		workflow.WithConflictRetries(cfg.ConflictRetries),
		workflow.WithEndpoint(cfg.Endpoint),
	}
	if cfg.RedispatchAttempts > 0 {
		engOpts = append(engOpts, workflow.WithRedispatch(retry.ExponentialBackoff{
			Min:    cfg.RedispatchMin,
			Max:    cfg.RedispatchMax,
			Jitter: 0.2,
		}, cfg.RedispatchAttempts))
	}
	s.engine = workflow.NewEngine(log, s.store, s.dispatcher, engOpts...)

	s.health = health.New()
	s.health.SetStatus("dispatch", grpcHealth.HealthCheckResponse_NOT_SERVING)
	return s, nil
}

func (s *Server) openBackend(ctx context.Context) (storage.Backend, error) {
	if s.ephemeralStorage || s.cfg.Storage == "memory" {
		return storage.NewMemory(), nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return storage.OpenBolt(ctx, s.cfg.BoltPath, 0600)
}

// Engine returns the process engine hosted by the server.
func (s *Server) Engine() *workflow.Engine {
	return s.engine
}

// Run serves the gRPC health endpoint until ctx ends, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	lis := s.listener
	if lis == nil {
		var err error
		if lis, err = net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port)); err != nil {
			s.log.Error("failed to listen", zap.Int("port", s.cfg.Port), zap.Error(err))
			return multierr.Append(err, s.shutdown())
		}
	}
	s.grpcServer = gogrpc.NewServer()
	grpcHealth.RegisterHealthServer(s.grpcServer, s.health)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, gogrpc.ErrServerStopped) {
			return fmt.Errorf("grpc health server: %w", err)
		}
		return nil
	})
	s.health.SetServing(true)
	s.log.Info("process engine started", zap.String("addr", lis.Addr().String()), zap.String("storage", s.cfg.Storage))

	g.Go(func() error {
		<-ctx.Done()
		s.health.SetServing(false)
		s.grpcServer.GracefulStop()
		return nil
	})
	err := g.Wait()
	return multierr.Append(err, s.shutdown())
}

// shutdown drains the dispatcher before stopping the engine, so outcomes of
// in-flight sends are still recorded, then closes the store.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.dispatcher.Close(ctx)
	s.engine.Close()
	if s.nc != nil {
		s.nc.Close()
	}
	err = multierr.Append(err, s.store.Close())
	if err != nil {
		s.log.Error("unclean shutdown", zap.Error(err))
	} else {
		s.log.Info("process engine stopped")
	}
	return err
}
