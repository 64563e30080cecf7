// Package consumer bridges the post change feed to the index coordinator:
// it decodes change events from Kafka, validates them at the boundary, and
// hands them to Coordinator.Apply.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bloghive/relevance/internal/engine"
	"github.com/bloghive/relevance/pkg/config"
	apperrors "github.com/bloghive/relevance/pkg/errors"
	"github.com/bloghive/relevance/pkg/kafka"
	"github.com/bloghive/relevance/pkg/logger"
	"github.com/bloghive/relevance/pkg/resilience"
)

// Applier applies validated change events; satisfied by engine.Coordinator.
type Applier interface {
	Apply(ctx context.Context, event engine.ChangeEvent) error
}

// Consumer consumes the post-events topic and feeds the coordinator.
type Consumer struct {
	inner    *kafka.Consumer
	applier  Applier
	retryCfg resilience.RetryConfig
	logger   *slog.Logger
}

// New builds a consumer for the post change feed.
func New(cfg config.KafkaConfig, applier Applier) *Consumer {
	c := &Consumer{
		applier: applier,
		retryCfg: resilience.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   100 * time.Millisecond,
			MaxDelay:    time.Second,
		},
		logger: logger.WithComponent("post-events-consumer"),
	}
	c.inner = kafka.NewConsumer(cfg, cfg.Topics.PostEvents, c.handleMessage)
	return c
}

// Start runs the consume loop until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	return c.inner.Start(ctx)
}

// Close shuts down the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.inner.Close()
}

// handleMessage decodes and applies one change event. Malformed or invalid
// events are logged and dropped by returning nil: re-delivering them can
// never succeed, so they must not wedge the partition. Transient index
// errors are retried in-process with backoff; once attempts are exhausted
// the error is returned and the message stays uncommitted, to be picked up
// again when the group rebalances or the process restarts.
func (c *Consumer) handleMessage(ctx context.Context, key, value []byte) error {
	event, err := kafka.DecodeJSON[engine.ChangeEvent](value)
	if err != nil {
		c.logger.Error("dropping undecodable change event", "key", string(key), "error", err)
		return nil
	}
	if err := event.Validate(); err != nil {
		c.logger.Error("dropping invalid change event",
			"key", string(key),
			"type", string(event.Type),
			"doc_id", event.DocID(),
			"error", err,
		)
		return nil
	}
	var invalidErr error
	err = resilience.Retry(ctx, c.retryCfg, "apply change event", func(ctx context.Context) error {
		err := c.applier.Apply(ctx, event)
		if errors.Is(err, apperrors.ErrInvalidInput) {
			// Never retried: the payload itself is bad.
			invalidErr = err
			return nil
		}
		return err
	})
	if invalidErr != nil {
		c.logger.Error("dropping unappliable change event",
			"type", string(event.Type), "doc_id", event.DocID(), "error", invalidErr)
		return nil
	}
	if err != nil {
		return fmt.Errorf("applying %s for doc %s: %w", event.Type, event.DocID(), err)
	}
	c.logger.Debug("change event applied", "type", string(event.Type), "doc_id", event.DocID())
	return nil
}
