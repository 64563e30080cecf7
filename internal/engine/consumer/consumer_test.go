package consumer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bloghive/relevance/internal/engine"
	"github.com/bloghive/relevance/pkg/config"
	apperrors "github.com/bloghive/relevance/pkg/errors"
	"github.com/bloghive/relevance/pkg/resilience"
)

type fakeApplier struct {
	applied  []engine.ChangeEvent
	err      error
	failures int
	attempts int
}

func (f *fakeApplier) Apply(ctx context.Context, event engine.ChangeEvent) error {
	f.attempts++
	if f.failures > 0 {
		f.failures--
		return errors.New("index busy")
	}
	if f.err != nil {
		return f.err
	}
	f.applied = append(f.applied, event)
	return nil
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func testConfig() config.KafkaConfig {
	return config.KafkaConfig{
		Brokers:       []string{"localhost:9092"},
		ConsumerGroup: "test-group",
		Topics: config.KafkaTopics{
			PostEvents: "post-events",
		},
	}
}

func TestHandleMessageAppliesValidEvent(t *testing.T) {
	applier := &fakeApplier{}
	c := New(testConfig(), applier)

	payload := []byte(`{
		"type": "post.published",
		"post": {
			"id": "p1",
			"blog_id": "blog-a",
			"title": "Hello",
			"body": "first post",
			"status": "published"
		}
	}`)
	if err := c.handleMessage(context.Background(), []byte("p1"), payload); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}
	if len(applier.applied) != 1 {
		t.Fatalf("expected 1 applied event, got %d", len(applier.applied))
	}
	event := applier.applied[0]
	if event.Type != engine.EventPostPublished || event.Post == nil || event.Post.ID != "p1" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestHandleMessageDropsMalformedJSON(t *testing.T) {
	applier := &fakeApplier{}
	c := New(testConfig(), applier)

	if err := c.handleMessage(context.Background(), nil, []byte(`{not json`)); err != nil {
		t.Fatalf("malformed message must be dropped, not retried: %v", err)
	}
	if len(applier.applied) != 0 {
		t.Fatalf("malformed message reached the applier: %+v", applier.applied)
	}
}

func TestHandleMessageDropsInvalidEvent(t *testing.T) {
	applier := &fakeApplier{}
	c := New(testConfig(), applier)

	// A publish without a post payload can never succeed on redelivery.
	if err := c.handleMessage(context.Background(), nil, []byte(`{"type":"post.published"}`)); err != nil {
		t.Fatalf("invalid event must be dropped, not retried: %v", err)
	}
	if err := c.handleMessage(context.Background(), nil, []byte(`{"type":"post.vanished","post_id":"p1"}`)); err != nil {
		t.Fatalf("unknown event type must be dropped, not retried: %v", err)
	}
	if len(applier.applied) != 0 {
		t.Fatalf("invalid event reached the applier: %+v", applier.applied)
	}
}

func TestHandleMessageRetriesTransientErrors(t *testing.T) {
	applier := &fakeApplier{failures: 2}
	c := New(testConfig(), applier)
	c.retryCfg = fastRetry()

	payload := []byte(`{"type":"post.deleted","post_id":"p1"}`)
	if err := c.handleMessage(context.Background(), nil, payload); err != nil {
		t.Fatalf("expected in-process retries to absorb transient failures: %v", err)
	}
	if applier.attempts != 3 {
		t.Fatalf("expected 3 apply attempts (2 failures + 1 success), got %d", applier.attempts)
	}
	if len(applier.applied) != 1 {
		t.Fatalf("expected the event to be applied once, got %d", len(applier.applied))
	}
}

func TestHandleMessageDropsUnappliableEventWithoutRetry(t *testing.T) {
	applier := &fakeApplier{err: apperrors.Newf(apperrors.ErrInvalidInput, 400, "bad payload")}
	c := New(testConfig(), applier)
	c.retryCfg = fastRetry()

	payload := []byte(`{"type":"post.deleted","post_id":"p1"}`)
	if err := c.handleMessage(context.Background(), nil, payload); err != nil {
		t.Fatalf("unappliable event must be dropped, not redelivered: %v", err)
	}
	if applier.attempts != 1 {
		t.Fatalf("unappliable event must not be retried, got %d attempts", applier.attempts)
	}
}

func TestHandleMessageReturnsExhaustedErrors(t *testing.T) {
	applier := &fakeApplier{err: errors.New("index busy")}
	c := New(testConfig(), applier)
	c.retryCfg = fastRetry()

	payload := []byte(`{"type":"post.deleted","post_id":"p1"}`)
	if err := c.handleMessage(context.Background(), nil, payload); err == nil {
		t.Fatal("expected apply error to propagate once retries are exhausted")
	}
	if applier.attempts != 3 {
		t.Fatalf("expected the full retry budget to be spent, got %d attempts", applier.attempts)
	}
}
