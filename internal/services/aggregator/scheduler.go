package aggregator

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/uadashboard/pkg/logger"
	"github.com/LeonardoBeccarini/uadashboard/pkg/metrics"
)

const DefaultPushInterval = time.Second

// PushChannel receives the projections of the store on every tick.
type PushChannel interface {
	AnnounceColumn(name string)
	PushRow(timestamp string, values []string)
	PushTable(rows []TableRow)
}

// Scheduler periodically forwards the store to the push channel, independent of
// the ingestion rate.
type Scheduler struct {
	store    *Store
	push     PushChannel
	interval time.Duration
	log      *zap.Logger

	reconnected atomic.Bool
}

func NewScheduler(store *Store, push PushChannel, interval time.Duration, log *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultPushInterval
	}
	return &Scheduler{
		store:    store,
		push:     push,
		interval: interval,
		log:      logger.OrNamed(log, "scheduler"),
	}
}

// ViewerReconnected makes the next tick announce every known column again.
func (s *Scheduler) ViewerReconnected() {
	s.reconnected.Store(true)
}

// Start runs the tick loop until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("push scheduler started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("push scheduler stopped")
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick runs one push cycle: announcements, then rows, then the table.
func (s *Scheduler) Tick() {
	reannounce := s.reconnected.Swap(false)
	snap := s.store.drain(reannounce)
	metrics.PushTicks.Inc()

	for _, name := range snap.announce {
		s.push.AnnounceColumn(name)
	}
	for _, row := range snap.rows {
		s.push.PushRow(row.Timestamp, row.Values)
	}
	if len(snap.table) > 0 {
		s.push.PushTable(snap.table)
	}
	metrics.RowsPushed.Add(float64(len(snap.rows)))

	if len(snap.announce) > 0 || len(snap.rows) > 0 {
		s.log.Debug("push tick",
			zap.Int("announced", len(snap.announce)),
			zap.Int("rows", len(snap.rows)),
			zap.Int("columns", len(snap.table)),
			zap.Bool("reannounce", reannounce))
	}
}
