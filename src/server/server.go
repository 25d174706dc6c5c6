package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	logger "github.com/sirupsen/logrus"

	"gridexecutor/src/execution"
	"gridexecutor/src/grid"
	"gridexecutor/src/observability"
)

// SnapshotProvider lists the simulated instances, best wallet first.
type SnapshotProvider interface {
	Snapshots() []grid.Snapshot
}

// ExecutionStatus is the read side of the live execution manager.
type ExecutionStatus interface {
	State() execution.State
	Active() *grid.Strategy
	ManagedCapital() float64
	Records() []execution.LiveOrderRecord
}

// Deps are the optional read models exposed over HTTP. A nil field disables its route.
type Deps struct {
	Metrics   *observability.Metrics
	Snapshots SnapshotProvider
	Execution ExecutionStatus
}

type executionView struct {
	State          string         `json:"state"`
	ManagedCapital float64        `json:"managed_capital"`
	RestingOrders  int            `json:"resting_orders"`
	Active         *grid.Snapshot `json:"active,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.WithError(err).Error("write json response")
	}
}

// NewRouter builds the monitoring routes.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error("/healthcheck write error")
		}
	})

	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	if deps.Snapshots != nil {
		r.Get("/snapshots", func(w http.ResponseWriter, r *http.Request) {
			snaps := deps.Snapshots.Snapshots()
			if snaps == nil {
				snaps = []grid.Snapshot{}
			}
			writeJSON(w, http.StatusOK, snaps)
		})
	}

	if deps.Execution != nil {
		r.Get("/execution", func(w http.ResponseWriter, r *http.Request) {
			view := executionView{
				State:          deps.Execution.State().String(),
				ManagedCapital: deps.Execution.ManagedCapital(),
			}
			for _, rec := range deps.Execution.Records() {
				if rec.DetachedAt.IsZero() {
					view.RestingOrders++
				}
			}
			if active := deps.Execution.Active(); active != nil {
				snap := active.RuntimeSnapshot()
				view.Active = &snap
			}
			writeJSON(w, http.StatusOK, view)
		})
	}

	return r
}

// StartServer serves the monitoring routes on port until ctx is done, then
// shuts down gracefully.
func StartServer(ctx context.Context, port string, deps Deps) error {
	addr := ":" + port
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Error("Server crashed")
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown error")
		return err
	}
	return nil
}
