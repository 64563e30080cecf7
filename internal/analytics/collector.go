// Package analytics collects search-query events off the request path and
// publishes them to a Kafka topic for downstream aggregation. Recording an
// event never blocks a search: the buffer drops on overflow.
package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bloghive/relevance/pkg/kafka"
	"github.com/bloghive/relevance/pkg/logger"
)

// QueryEvent describes one executed search.
type QueryEvent struct {
	Mode        string    `json:"mode"`
	TenantID    string    `json:"blog_id,omitempty"`
	Query       string    `json:"query"`
	ResultCount int       `json:"result_count"`
	Fallback    bool      `json:"fallback,omitempty"`
	DurationMS  float64   `json:"duration_ms"`
	Timestamp   time.Time `json:"timestamp"`
}

// Publisher publishes analytics events; satisfied by kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Collector buffers query events and ships them to Kafka on a background
// goroutine.
type Collector struct {
	publisher Publisher
	events    chan QueryEvent
	logger    *slog.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
	stop     chan struct{}

	dropped uint64
	mu      sync.Mutex
}

// NewCollector starts the publishing goroutine. bufferSize <= 0 selects a
// default of 1024 pending events.
func NewCollector(publisher Publisher, bufferSize int) *Collector {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	c := &Collector{
		publisher: publisher,
		events:    make(chan QueryEvent, bufferSize),
		logger:    logger.WithComponent("analytics"),
		stop:      make(chan struct{}),
	}
	c.wg.Add(1)
	go c.run()
	return c
}

// Record enqueues a query event. If the buffer is full the event is dropped
// and counted; search latency is never spent on analytics.
func (c *Collector) Record(event QueryEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case c.events <- event:
	default:
		c.mu.Lock()
		c.dropped++
		dropped := c.dropped
		c.mu.Unlock()
		if dropped%100 == 1 {
			c.logger.Warn("analytics buffer full, dropping events", "dropped_total", dropped)
		}
	}
}

// Dropped returns the number of events dropped due to a full buffer.
func (c *Collector) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Close drains buffered events and stops the publishing goroutine.
func (c *Collector) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
	c.wg.Wait()
}

func (c *Collector) run() {
	defer c.wg.Done()
	for {
		select {
		case event := <-c.events:
			c.publish(event)
		case <-c.stop:
			for {
				select {
				case event := <-c.events:
					c.publish(event)
				default:
					return
				}
			}
		}
	}
}

func (c *Collector) publish(event QueryEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.publisher.Publish(ctx, kafka.Event{
		Key:   event.TenantID,
		Value: event,
	})
	if err != nil {
		c.logger.Error("failed to publish analytics event", "mode", event.Mode, "error", err)
	}
}
