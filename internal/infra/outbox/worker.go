package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"rentme-inbox/internal/infra/broker/kafka"
	"rentme-inbox/internal/infra/obs"
)

var ErrWorkerNotConfigured = errors.New("outbox: worker missing dependencies")

// Producer delivers a chat event to the broker.
type Producer interface {
	Publish(ctx context.Context, ev kafka.ChatEvent) error
}

// Worker relays stored chat events to the broker, retrying failures with backoff.
type Worker struct {
	Store    *Store
	Producer Producer
	Interval time.Duration
	ID       string
	Backoff  []time.Duration
	Metrics  *obs.Metrics
	Logger   *slog.Logger
}

func (w *Worker) Run(ctx context.Context) error {
	if w.Store == nil || w.Producer == nil {
		return ErrWorkerNotConfigured
	}
	ticker := time.NewTicker(w.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.drain(ctx); err != nil {
				return err
			}
		}
	}
}

// drain relays every due record.
func (w *Worker) drain(ctx context.Context) error {
	for {
		sent, err := w.processOnce(ctx)
		if err != nil || !sent {
			return err
		}
	}
}

func (w *Worker) processOnce(ctx context.Context) (bool, error) {
	rec, err := w.Store.Claim(ctx, w.workerID())
	if err != nil || rec == nil {
		return false, err
	}
	if err := w.Producer.Publish(ctx, rec.Event); err != nil {
		next := w.nextRetry(rec.Attempts)
		if w.Logger != nil {
			w.Logger.Warn("chat event relay failed", "record_id", rec.ID, "type", rec.Event.Type, "attempts", rec.Attempts+1, "retry_at", next, "error", err)
		}
		w.count("failed")
		return false, w.Store.MarkFailed(ctx, rec.ID, next, err.Error())
	}
	w.count("sent")
	return true, w.Store.MarkSent(ctx, rec.ID)
}

func (w *Worker) count(outcome string) {
	if w.Metrics != nil {
		w.Metrics.BrokerPublished.WithLabelValues(outcome).Inc()
	}
}

func (w *Worker) workerID() string {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	return w.ID
}

func (w *Worker) interval() time.Duration {
	if w.Interval <= 0 {
		return 500 * time.Millisecond
	}
	return w.Interval
}

func (w *Worker) nextRetry(attempts int) time.Time {
	if attempts < len(w.Backoff) {
		return time.Now().Add(w.Backoff[attempts])
	}
	if len(w.Backoff) > 0 {
		return time.Now().Add(w.Backoff[len(w.Backoff)-1])
	}
	return time.Now().Add(5 * time.Second)
}
