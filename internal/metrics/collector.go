package metrics

import (
	"context"
	"log/slog"
	"time"
)

type EventType string

const (
	EventRequestForwarded EventType = "request_forwarded"
	EventResponseRelayed  EventType = "response_relayed"
	EventRetryAttempted   EventType = "retry_attempted"
	EventBreakerRejected  EventType = "breaker_rejected"
	EventBreakerChanged   EventType = "breaker_changed"
	EventHealthChanged    EventType = "health_changed"
)

type MetricEvent struct {
	Type         EventType
	Timestamp    time.Time
	Service      string
	Duration     time.Duration
	StatusCode   int
	Healthy      bool
	BreakerState string
}

type Collector struct {
	eventCh chan MetricEvent
	metrics *Metrics
	logger  *slog.Logger
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh: make(chan MetricEvent, bufferSize),
		metrics: NewMetrics(),
		logger:  logger,
	}
}

func (c *Collector) EventChannel() chan<- MetricEvent {
	return c.eventCh
}

// Emit sends an event without blocking; events are dropped when the buffer
// is full so the request path never stalls on metrics.
func (c *Collector) Emit(event MetricEvent) {
	select {
	case c.eventCh <- event:
	default:
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventRequestForwarded:
		c.metrics.IncrementRequests(event.Service)

	case EventResponseRelayed:
		c.metrics.RecordResponse(event.Service, event.Duration, event.StatusCode)

	case EventRetryAttempted:
		c.metrics.IncrementRetries(event.Service)

	case EventBreakerRejected:
		c.metrics.IncrementRejections(event.Service)

	case EventBreakerChanged:
		c.metrics.UpdateBreakerState(event.Service, event.BreakerState)

	case EventHealthChanged:
		c.metrics.UpdateHealthStatus(event.Service, event.Healthy)
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	return c.metrics.Snapshot()
}
