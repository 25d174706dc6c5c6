// Package executor runs the live grid process: simulation roster, execution
// manager and monitoring server.
package executor

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"gridexecutor/src/database"
	"gridexecutor/src/executors"
	"gridexecutor/src/observability"
	"gridexecutor/src/repository"
	"gridexecutor/src/server"
)

type Executor struct {
	Log *logrus.Entry
}

func (t *Executor) Start() error {
	config := GetConfig()
	settings := executors.LoadSettings()
	if t.Log == nil {
		t.Log = logrus.WithField("cmd", "live")
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	deps := executors.Deps{Metrics: metrics, Log: t.Log}
	if config.Persist {
		if err := database.InitMainDB(); err != nil {
			t.Log.WithError(err).Error("Failed to connect to main database")
			return err
		}
		deps.Journal = repository.NewLiveOrderRepository()
		deps.Snapshots = repository.NewAnalyzerSnapshotRepository()
		deps.Exceptions = repository.NewExceptionRepository()
	}

	t.Log.WithField("targetExchange", settings.Loop.TargetExchange).Info("Starting live grid executor for exchange")

	live, err := executors.Build(ctx, settings, deps)
	if err != nil {
		t.Log.WithError(err).Error("Failed to wire live process")
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if config.Monitoring {
		g.Go(func() error {
			return server.StartServer(gctx, server.GetConfig().Port, server.Deps{
				Metrics:   metrics,
				Snapshots: live.Runner,
				Execution: live.Manager,
			})
		})
	}
	g.Go(func() error {
		return live.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		t.Log.WithError(err).Error("Live executor stopped")
		return err
	}
	return nil
}
