package bus

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aevon-lab/eventsim/internal/core/config"
	"github.com/aevon-lab/eventsim/internal/metrics"
	gobreaker "github.com/sony/gobreaker/v2"
)

// BreakerPublisher fails fast with gobreaker.ErrOpenState once the wrapped
// publisher has failed MaxFailures times in a row.
type BreakerPublisher struct {
	publisher message.Publisher
	breaker   *gobreaker.CircuitBreaker[interface{}]
}

func NewBreakerPublisher(name string, publisher message.Publisher, cfg config.BreakerConfig) *BreakerPublisher {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			slog.Warn("[Bus] Publisher circuit breaker changed state",
				"name", name,
				"from", from.String(),
				"to", to.String())
		},
	}
	metrics.BreakerState.WithLabelValues(name).Set(float64(gobreaker.StateClosed))

	return &BreakerPublisher{
		publisher: publisher,
		breaker:   gobreaker.NewCircuitBreaker[interface{}](settings),
	}
}

func (p *BreakerPublisher) Publish(topic string, messages ...*message.Message) error {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		return nil, p.publisher.Publish(topic, messages...)
	})
	return err
}

// State reports the breaker state for health output.
func (p *BreakerPublisher) State() gobreaker.State {
	return p.breaker.State()
}

func (p *BreakerPublisher) Close() error {
	return p.publisher.Close()
}
