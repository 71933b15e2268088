package events

import (
	"context"

	"go.uber.org/zap"
)

type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log}
}

func (l *LogSink) Name() string { return "log" }

func (l *LogSink) Deliver(_ context.Context, e Event) error {
	l.log.Info("lifecycle event",
		zap.String("kind", string(e.Kind)),
		zap.String("booking_id", string(e.BookingID)),
		zap.String("payment_id", string(e.PaymentID)),
		zap.String("status", e.Status),
	)
	return nil
}
