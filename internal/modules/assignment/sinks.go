// README: Assignment record sinks (audit, visualization, events, notifications) and their fan-out.
package assignment

import (
	"context"
	"log/slog"
	"time"

	"dispatch/internal/metrics"
	"dispatch/internal/modules/order"
)

// Record is what sinks receive after an attempt reached a stored state.
type Record struct {
	ID      string
	Order   *order.Order
	Outcome Outcome
	At      time.Time
}

type Sink interface {
	Name() string
	Record(ctx context.Context, rec Record) error
}

// FanOut delivers records to every sink. Sink failures are logged and
// counted; they never change the outcome.
type FanOut struct {
	sinks   []Sink
	timeout time.Duration
	logger  *slog.Logger
}

func NewFanOut(logger *slog.Logger, sinks ...Sink) *FanOut {
	if logger == nil {
		logger = slog.Default()
	}
	return &FanOut{sinks: sinks, timeout: 5 * time.Second, logger: logger.With("component", "assignment_sinks")}
}

func (f *FanOut) Add(s Sink) {
	f.sinks = append(f.sinks, s)
}

func (f *FanOut) Record(ctx context.Context, rec Record) {
	for _, s := range f.sinks {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
		err := s.Record(sctx, rec)
		cancel()
		if err != nil {
			metrics.SinkFailures.WithLabelValues(s.Name()).Inc()
			f.logger.Warn("sink failed", "sink", s.Name(), "order_id", rec.Order.ID, "error", err)
		}
	}
}
