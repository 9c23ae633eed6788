// Package app wires the conversation backend together and runs its servers.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/campusconnect/internal/config"
	"github.com/xiaot623/campusconnect/internal/conversation"
	"github.com/xiaot623/campusconnect/internal/events"
	"github.com/xiaot623/campusconnect/internal/language"
	"github.com/xiaot623/campusconnect/internal/logging"
	"github.com/xiaot623/campusconnect/internal/metrics"
	"github.com/xiaot623/campusconnect/internal/policy"
	"github.com/xiaot623/campusconnect/internal/repository"
	"github.com/xiaot623/campusconnect/internal/responder"
	httptransport "github.com/xiaot623/campusconnect/internal/transport/http"
	"github.com/xiaot623/campusconnect/internal/transport/rpc"
	"github.com/xiaot623/campusconnect/internal/transport/ws"
)

// App holds every long-lived component of the service.
type App struct {
	cfg      *config.Config
	Store    *repository.Store
	Engine   *conversation.Engine
	Bus      *events.Bus
	Hub      *ws.Hub
	Registry *prometheus.Registry

	httpServer *echo.Echo
	wsServer   *ws.Server
	rpcServer  *rpc.Server
	logger     zerolog.Logger
}

// New builds the service from cfg and opens the session store.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.Component("app")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	persister, err := repository.NewPersister(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize persister")
	}
	store := repository.NewStore(persister, repository.WithMetrics(m))
	if err := store.Open(ctx); err != nil {
		persister.Close()
		return nil, errors.Wrap(err, "failed to open session store")
	}

	resp, err := responder.NewFromConfig(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	policyEngine, err := policy.NewEngineFromFile(ctx, cfg.TranslationPolicyFile)
	if err != nil {
		store.Close()
		return nil, errors.Wrap(err, "failed to initialize translation policy")
	}

	bus, err := events.NewFromConfig(cfg, m)
	if err != nil {
		store.Close()
		return nil, errors.Wrap(err, "failed to initialize event bus")
	}

	engine := conversation.NewEngine(
		language.NewFromConfig(cfg),
		resp,
		store,
		conversation.WithPolicy(policyEngine),
		conversation.WithPublisher(bus),
		conversation.WithMetrics(m),
		conversation.WithTimeout(cfg.ResponseTimeout),
	)

	hub := ws.NewHub(m)
	wsServer := ws.NewServer(cfg, hub, engine)
	handler := httptransport.NewHandler(engine, store, hub)

	a := &App{
		cfg:        cfg,
		Store:      store,
		Engine:     engine,
		Bus:        bus,
		Hub:        hub,
		Registry:   reg,
		httpServer: httptransport.NewServer(handler, reg, wsServer.HandleWebSocket),
		wsServer:   wsServer,
		logger:     logger,
	}

	if cfg.RPCPort > 0 {
		a.rpcServer, err = rpc.NewServer(engine, store)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	logger.Info().
		Str("store", cfg.StoreBackend).
		Str("responder", cfg.Responder).
		Str("translator", cfg.Translator).
		Str("events", cfg.EventsBackend).
		Msg("service initialized")
	return a, nil
}

// Handler returns the HTTP handler of the public server.
func (a *App) Handler() http.Handler {
	return a.httpServer
}

// Run serves until ctx is cancelled, then shuts every server down.
func (a *App) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		a.Hub.Run(ctx)
		return nil
	})

	sub, err := a.Bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	eg.Go(func() error {
		a.wsServer.ForwardEvents(ctx, sub)
		return nil
	})

	eg.Go(func() error {
		addr := fmt.Sprintf(":%d", a.cfg.HTTPPort)
		a.logger.Info().Str("addr", addr).Msg("starting HTTP server")
		if err := a.httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "http server")
		}
		return nil
	})

	if a.rpcServer != nil {
		eg.Go(func() error {
			addr := fmt.Sprintf(":%d", a.cfg.RPCPort)
			a.logger.Info().Str("addr", addr).Msg("starting RPC server")
			return errors.Wrap(a.rpcServer.Start(addr), "rpc server")
		})
	}

	eg.Go(func() error {
		<-ctx.Done()
		a.logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var result *multierror.Error
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			result = multierror.Append(result, err)
		}
		if a.rpcServer != nil {
			if err := a.rpcServer.Shutdown(shutdownCtx); err != nil {
				result = multierror.Append(result, err)
			}
		}
		return result.ErrorOrNil()
	})

	return eg.Wait()
}

// Close releases the event bus and the session store.
func (a *App) Close() error {
	var result *multierror.Error
	if err := a.Bus.Close(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "event bus"))
	}
	if err := a.Store.Close(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "session store"))
	}
	return result.ErrorOrNil()
}
