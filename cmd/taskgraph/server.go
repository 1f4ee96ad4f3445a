package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"go-taskgraph/internal/api/handler"
	"go-taskgraph/internal/config"
	"go-taskgraph/internal/coordinator"
	"go-taskgraph/internal/metrics"
	"go-taskgraph/internal/scheduler"
	"go-taskgraph/internal/service"
	"go-taskgraph/internal/status"
	"go-taskgraph/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

type ServerCmd struct {
	config.Server `embed:""`
	config.Store  `embed:""`
	config.Redis  `embed:""`

	Workers int `help:"In-process worker loops, memory backend only." default:"4" env:"TASKGRAPH_WORKERS"`
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func (cmd *ServerCmd) Run(ctx context.Context, logger *slog.Logger) error {
	reg := newRegistry()
	m := metrics.New(reg)

	be, err := openBackend(ctx, logger, backendOptions{
		store:    cmd.Store,
		redis:    cmd.Redis,
		consumer: cmd.Consumer,
		migrate:  true,
	}, m)
	if err != nil {
		return err
	}
	defer be.Close()

	// Engine
	propagator := scheduler.NewPropagator(be.tasks, be.dispatcher, m)
	refresher := status.NewRefresher(be.tasks, be.graphs)
	ingester := scheduler.NewIngester(be.tasks, be.dispatcher, scheduler.NewSchemaValidator(), m)
	svc := service.NewGraphService(cmd.SchedulerID, be.tasks, be.graphs, ingester, propagator, refresher)

	// HTTP
	gin.SetMode(gin.ReleaseMode)
	router := handler.NewRouter(logger, handler.NewTaskGraphHandler(svc))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	srv := &http.Server{
		Addr:              cmd.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	coord := coordinator.NewCoordinator(be.tasks, propagator, refresher, be.bus)
	g.Go(func() error { return coord.Start(ctx) })

	if be.inProcess {
		w := worker.NewWorker(be.queue, be.tasks, be.bus, worker.InitRegistry(), m)
		g.Go(func() error {
			w.StartPool(ctx, cmd.Workers)
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("Server starting", "addr", cmd.Listen, "scheduler", cmd.SchedulerID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "serve http")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cmd.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("Server stopped")
	return err
}
