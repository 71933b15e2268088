package events

import (
	"context"

	"go.uber.org/zap"

	"ambulance/internal/observability"
)

type Sink interface {
	Name() string
	Deliver(ctx context.Context, e Event) error
}

// Bus queues events and fans them out to sinks on a single worker goroutine.
type Bus struct {
	queue chan Event
	sinks []Sink
	log   *zap.Logger
}

func NewBus(size int, log *zap.Logger, sinks ...Sink) *Bus {
	if size <= 0 {
		size = 1024
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{queue: make(chan Event, size), sinks: sinks, log: log}
}

func (b *Bus) Publish(_ context.Context, e Event) {
	select {
	case b.queue <- e:
	default:
		observability.EventsDropped.Inc()
		b.log.Warn("event queue full, dropping event",
			zap.String("kind", string(e.Kind)),
			zap.String("booking_id", string(e.BookingID)),
		)
	}
}

// Run delivers queued events until ctx is cancelled, then drains what is left.
func (b *Bus) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			b.drain()
			return nil
		case e := <-b.queue:
			b.deliver(ctx, e)
		}
	}
}

func (b *Bus) drain() {
	for {
		select {
		case e := <-b.queue:
			b.deliver(context.Background(), e)
		default:
			return
		}
	}
}

func (b *Bus) deliver(ctx context.Context, e Event) {
	for _, s := range b.sinks {
		if err := s.Deliver(ctx, e); err != nil {
			b.log.Warn("event sink delivery failed",
				zap.String("sink", s.Name()),
				zap.String("kind", string(e.Kind)),
				zap.Error(err),
			)
		}
	}
}
