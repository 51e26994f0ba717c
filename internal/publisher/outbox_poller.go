package publisher

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/fjod/go_checkout/internal/orders"
)

const defaultBatchSize = 100

// MessageWriter is the slice of kafka.Writer the poller needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// OutboxPoller drains pending order events to Kafka. Publishing is at-least-
// once: an event is only marked processed after the write succeeds, so a
// crash between the two can re-deliver it.
type OutboxPoller struct {
	tick   time.Duration
	outbox orders.OutboxReader
	writer MessageWriter
	logger zerolog.Logger
}

func NewOutboxPoller(outbox orders.OutboxReader, logger zerolog.Logger, brokers ...string) *OutboxPoller {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  "order-events",
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	return &OutboxPoller{
		tick:   time.Second,
		outbox: outbox,
		writer: w,
		logger: logger,
	}
}

func (p *OutboxPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.processUnpublishedEvents(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) {
	events, err := p.outbox.GetUnprocessedEvents(ctx, defaultBatchSize)
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to fetch outbox events")
		return
	}

	for _, event := range events {
		if err := p.publish(ctx, event); err != nil {
			p.logger.Error().Err(err).Int64("event_id", event.ID).Msg("failed to publish outbox event")
			continue
		}

		if err := p.outbox.MarkEventAsProcessed(ctx, event.ID); err != nil {
			p.logger.Error().Err(err).Int64("event_id", event.ID).Msg("failed to mark outbox event as processed")
			continue
		}
	}
}

func (p *OutboxPoller) publish(ctx context.Context, event *orders.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(event.AggregateID), // order id, for per-order ordering
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}
	return p.writer.WriteMessages(ctx, msg)
}
