package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/saint-community/realtime/pkg/protocol"
	"github.com/saint-community/realtime/pkg/store"
)

// Reconciler periodically rebuilds the statistics and data snapshot
// from storage and pushes both to every connection. It is the backstop
// that bounds staleness after a dropped message or a missed broadcast:
// whatever a client failed to hear, it learns within one interval.
type Reconciler struct {
	gw       store.Gateway
	reg      *Registry
	interval time.Duration
	logger   *slog.Logger
	metrics  *Metrics

	done     chan struct{}
	loopDone chan struct{}
}

// NewReconciler creates a reconciler that runs every interval once
// Start is called.
func NewReconciler(gw store.Gateway, reg *Registry, interval time.Duration, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultConfig().ReconcileInterval
	}
	return &Reconciler{
		gw:       gw,
		reg:      reg,
		interval: interval,
		logger:   logger.With("component", "reconciler"),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

// SetMetrics wires the Prometheus instruments. Optional.
func (r *Reconciler) SetMetrics(m *Metrics) {
	r.metrics = m
}

// Start launches the periodic loop. Stop it with Stop.
func (r *Reconciler) Start() {
	go r.loop()
}

// Stop halts the loop and waits for the in-flight pass to finish.
func (r *Reconciler) Stop() {
	close(r.done)
	<-r.loopDone
}

func (r *Reconciler) loop() {
	defer close(r.loopDone)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.RunOnce(context.Background())
		case <-r.done:
			return
		}
	}
}

// RunOnce executes a single reconciliation pass: a statistics_update
// with fresh aggregates, then a refresh_data with the full snapshot.
// Safe to call at any time; passes are idempotent.
func (r *Reconciler) RunOnce(ctx context.Context) {
	start := time.Now()

	stats, err := r.gw.GlobalStatistics(ctx)
	if err != nil {
		r.metrics.incReconcileFailure()
		r.logger.Error("statistics reload failed", "error", err)
		return
	}
	if msg, err := protocol.New(protocol.TypeStatisticsUpdate, stats); err == nil {
		r.reg.BroadcastAll(msg)
	}

	snap, err := store.FullSnapshot(ctx, r.gw)
	if err != nil {
		r.metrics.incReconcileFailure()
		r.logger.Error("snapshot reload failed", "error", err)
		return
	}
	if msg, err := protocol.New(protocol.TypeRefreshData, snap); err == nil {
		r.reg.BroadcastAll(msg)
	}

	r.metrics.observeReconcile(time.Since(start))
	r.logger.Debug("reconcile pass complete",
		"duration", time.Since(start),
		"connections", r.reg.Count())
}
