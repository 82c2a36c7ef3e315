package aggregation

import (
	"context"
	"log/slog"
	"time"

	"github.com/aevon-lab/eventsim/internal/metrics"
)

// Reporter periodically publishes the aggregator's state size as gauges.
type Reporter struct {
	interval time.Duration
	agg      *Aggregator
}

func NewReporter(interval time.Duration, agg *Aggregator) *Reporter {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reporter{interval: interval, agg: agg}
}

// Start reports once immediately, then on every tick until ctx is cancelled.
func (r *Reporter) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.Info("[Reporter] Starting state reporter", "interval", r.interval)
	r.report()

	for {
		select {
		case <-ticker.C:
			r.report()
		case <-ctx.Done():
			slog.Info("[Reporter] Stopping (context cancelled)")
			return nil
		}
	}
}

func (r *Reporter) report() Stats {
	st := r.agg.Stats()
	metrics.StateUsers.Set(float64(st.Users))
	metrics.StateEvents.Set(float64(st.Events))
	metrics.StatePairs.Set(float64(st.Pairs))
	slog.Debug("[Reporter] Aggregator state",
		"users", st.Users,
		"events", st.Events,
		"pairs", st.Pairs)
	return st
}
