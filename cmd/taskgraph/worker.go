package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"go-taskgraph/internal/config"
	"go-taskgraph/internal/metrics"
	"go-taskgraph/internal/worker"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

type WorkerCmd struct {
	config.Store `embed:""`
	config.Redis `embed:""`

	Concurrency   int    `help:"Concurrent worker loops." default:"8" env:"TASKGRAPH_WORKER_CONCURRENCY"`
	MetricsListen string `help:"Serve /metrics on this address. Empty disables it." env:"TASKGRAPH_WORKER_METRICS_LISTEN"`
}

func (cmd *WorkerCmd) Run(ctx context.Context, logger *slog.Logger) error {
	if cmd.Backend == config.StoreMemory {
		return errors.New("the memory backend only runs inside the server process (taskgraph server --store=memory)")
	}

	reg := newRegistry()
	m := metrics.New(reg)
	be, err := openBackend(ctx, logger, backendOptions{store: cmd.Store, redis: cmd.Redis}, m)
	if err != nil {
		return err
	}
	defer be.Close()

	g, ctx := errgroup.WithContext(ctx)
	if cmd.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cmd.MetricsListen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "serve metrics")
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Close()
		})
	}

	w := worker.NewWorker(be.queue, be.tasks, be.bus, worker.InitRegistry(), m)
	g.Go(func() error {
		w.StartPool(ctx, cmd.Concurrency)
		return nil
	})
	return g.Wait()
}
