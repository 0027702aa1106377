package notify

import (
	"context"
	"sync/atomic"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"eco-referral/internal/logger"
)

// Dispatcher fans events out to every sink on a bounded worker pool.
// Delivery failures are logged and dropped; when the queue is full new
// events are dropped rather than blocking the caller.
type Dispatcher struct {
	pool    pond.Pool
	sinks   []Sink
	closed  atomic.Bool
	dropped atomic.Int64
}

// NewDispatcher creates a dispatcher with the given worker count and queue size
func NewDispatcher(workers, queueSize int, sinks ...Sink) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1024
	}

	return &Dispatcher{
		pool:  pond.NewPool(workers, pond.WithQueueSize(queueSize), pond.WithNonBlocking(true)),
		sinks: sinks,
	}
}

// Notify enqueues one delivery task per sink. The request context is detached
// so a finished HTTP request does not cancel delivery.
func (d *Dispatcher) Notify(ctx context.Context, event Event) {
	if d.closed.Load() {
		logger.WarnCtx(ctx, "Dispatcher closed, dropping event", zap.String("event_id", event.ID))
		return
	}

	deliveryCtx := context.WithoutCancel(ctx)
	for _, sink := range d.sinks {
		_, ok := d.pool.TrySubmit(func() {
			if err := sink.Send(deliveryCtx, event); err != nil {
				logger.WarnCtx(deliveryCtx, "Event delivery failed",
					zap.String("sink", sink.Name()),
					zap.String("event_id", event.ID),
					zap.String("event_type", string(event.Type)),
					zap.Error(err),
				)
				return
			}
			logger.DebugCtx(deliveryCtx, "Event delivered",
				zap.String("sink", sink.Name()),
				zap.String("event_id", event.ID),
			)
		})
		if !ok {
			d.dropped.Add(1)
			logger.WarnCtx(ctx, "Notification queue full, dropping event",
				zap.String("sink", sink.Name()),
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)),
			)
		}
	}
}

// Dropped returns how many deliveries were rejected by a full queue
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Close waits for queued deliveries to finish
func (d *Dispatcher) Close() {
	if d.closed.Swap(true) {
		return
	}
	d.pool.StopAndWait()
}
