package aggregation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	v1 "github.com/aevon-lab/eventsim/internal/api/v1"
	"github.com/aevon-lab/eventsim/internal/bus"
	"github.com/aevon-lab/eventsim/internal/codec"
	core "github.com/aevon-lab/eventsim/internal/core/aggregation"
)

const handlerName = "similarity-aggregator"

// ConsumerConfig names the topics the consumer reads from and writes to.
type ConsumerConfig struct {
	UserActionsTopic string
	SimilarityTopic  string
	// PoisonTopic receives messages that still fail after MaxRetries. Empty disables it.
	PoisonTopic string
	MaxRetries  int
}

// Consumer feeds user actions from the bus into an Aggregator and publishes the
// resulting similarity records.
type Consumer struct {
	agg    *Aggregator
	codec  codec.Codec
	router *message.Router
}

// NewConsumer builds a watermill router with one handler. Handler errors are
// retried with backoff and then routed to the poison topic, unless the aggregator
// is closing.
func NewConsumer(
	agg *Aggregator,
	c codec.Codec,
	sub message.Subscriber,
	pub message.Publisher,
	cfg ConsumerConfig,
	logger watermill.LoggerAdapter,
) (*Consumer, error) {
	if logger == nil {
		logger = watermill.NewSlogLogger(slog.Default())
	}

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 30 * time.Second}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill router: %w", err)
	}

	router.AddMiddleware(middleware.Recoverer)

	if cfg.PoisonTopic != "" {
		poison, err := middleware.PoisonQueueWithFilter(pub, cfg.PoisonTopic, func(err error) bool {
			return !errors.Is(err, ErrAggregatorClosed) && !errors.Is(err, context.Canceled)
		})
		if err != nil {
			return nil, fmt.Errorf("create poison queue middleware: %w", err)
		}
		router.AddMiddleware(poison)
	}

	retry := middleware.Retry{
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2,
		Logger:          logger,
	}
	router.AddMiddleware(retry.Middleware)

	consumer := &Consumer{agg: agg, codec: c, router: router}
	router.AddHandler(handlerName, cfg.UserActionsTopic, sub, cfg.SimilarityTopic, pub, consumer.handle)
	return consumer, nil
}

// handle acks malformed or invalid actions without retrying them. Any other
// failure nacks the message so it is redelivered.
func (c *Consumer) handle(msg *message.Message) ([]*message.Message, error) {
	action, err := c.codec.DecodeAction(msg.Payload)
	if err != nil {
		slog.Warn("[Consumer] Dropping undecodable message",
			"uuid", msg.UUID,
			"key", msg.Metadata.Get(bus.MetadataKey),
			"error", err)
		return nil, nil
	}

	result, err := c.agg.Submit(msg.Context(), action)
	switch {
	case errors.Is(err, v1.ErrInvalidAction), errors.Is(err, core.ErrUnknownActionType):
		slog.Warn("[Consumer] Dropping invalid action",
			"uuid", msg.UUID,
			"key", msg.Metadata.Get(bus.MetadataKey),
			"error", err)
		return nil, nil
	case err != nil:
		return nil, err
	}

	if !result.Applied || len(result.Similarities) == 0 {
		return nil, nil
	}
	return bus.NewSimilarityMessages(c.codec, result.Similarities)
}

// Run blocks until ctx is cancelled or the router fails.
func (c *Consumer) Run(ctx context.Context) error {
	return c.router.Run(ctx)
}

// Running is closed once every handler is subscribed.
func (c *Consumer) Running() chan struct{} {
	return c.router.Running()
}

func (c *Consumer) Close() error {
	return c.router.Close()
}
