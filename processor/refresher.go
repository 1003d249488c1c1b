package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"habitflow/internal/metrics"
	"habitflow/logger"
	"habitflow/models"
)

// Refresher owns the refresh schedule: one refresh immediately at startup,
// one on every interval tick, and one per manual trigger. Every cycle emits
// a snapshot on the output channel, failed cycles included, so consumers
// always learn the outcome.
type Refresher struct {
	interval time.Duration
	pipeline *Pipeline
	out      chan<- *models.Snapshot
	trigger  chan struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log
}

func NewRefresher(interval time.Duration, pipeline *Pipeline, out chan<- *models.Snapshot) *Refresher {
	return &Refresher{
		interval: interval,
		pipeline: pipeline,
		out:      out,
		trigger:  make(chan struct{}, 1),
		log:      logger.GetLogger(),
	}
}

func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("refresher already running")
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.running = true

	r.log.WithComponent("refresher").WithFields(logger.Fields{
		"operation": "start",
		"interval":  r.interval.String(),
	}).Info("Starting refresher")

	r.wg.Add(1)
	go r.run()
	return nil
}

func (r *Refresher) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	r.wg.Wait()

	r.log.WithComponent("refresher").WithFields(logger.Fields{
		"operation": "stop",
	}).Info("Refresher stopped")
}

func (r *Refresher) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// TriggerRefresh requests an immediate refresh cycle. It never blocks; a
// trigger arriving while one is already pending folds into it.
func (r *Refresher) TriggerRefresh() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

func (r *Refresher) run() {
	defer r.wg.Done()

	// First snapshot right away so consumers have data at startup.
	r.refreshOnce()

	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-tick:
			r.refreshOnce()
		case <-r.trigger:
			r.refreshOnce()
		}
	}
}

func (r *Refresher) refreshOnce() {
	snapshotID := uuid.New().String()
	log := r.log.WithComponent("refresher").WithFields(logger.Fields{
		"snapshot_id": snapshotID,
	})

	started := time.Now()
	table, fetched, err := r.pipeline.Run(r.ctx)
	elapsed := time.Since(started)

	snap := &models.Snapshot{
		ID:          snapshotID,
		RefreshedAt: time.Now().UTC(),
		Table:       table,
		FetchedRows: fetched,
		Elapsed:     elapsed,
	}
	if err != nil {
		snap.Err = err.Error()
		log.WithError(err).Error("Refresh failed")
	} else {
		log.WithFields(logger.Fields{
			"rows":        table.Len(),
			"fetched":     fetched,
			"duration_ms": elapsed.Milliseconds(),
		}).Info("Refresh complete")
	}

	logger.IncrementRefresh(err == nil)
	metrics.EmitRefreshMetrics(r.log, snapshotID, table.Len(), elapsed, err != nil)

	select {
	case r.out <- snap:
	case <-r.ctx.Done():
	}
}
