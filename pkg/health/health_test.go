package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRunAggregatesWorstStatus(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("store", func(ctx context.Context) Result { return OK("reachable") })
	c.Register("cache", func(ctx context.Context) Result { return Degraded("unreachable") })

	report := c.Run(context.Background())
	if report.Status != StatusDegraded {
		t.Fatalf("status = %s, want degraded", report.Status)
	}
	if !report.Ready {
		t.Fatal("a degraded dependency must not fail readiness")
	}

	c.Register("index", func(ctx context.Context) Result { return Down("rebuild pending") })
	report = c.Run(context.Background())
	if report.Status != StatusDown || report.Ready {
		t.Fatalf("expected down/not-ready, got %+v", report)
	}
	if len(report.Checks) != 3 {
		t.Fatalf("expected 3 probe results, got %d", len(report.Checks))
	}
	if report.Checks["index"].Detail != "rebuild pending" {
		t.Fatalf("probe detail lost: %+v", report.Checks["index"])
	}
}

func TestRunWithNoProbes(t *testing.T) {
	report := NewChecker(time.Second).Run(context.Background())
	if report.Status != StatusUp || !report.Ready {
		t.Fatalf("empty checker must report up, got %+v", report)
	}
}

func TestReadyHandlerStatusCodes(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("store", func(ctx context.Context) Result { return OK("") })

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ready status = %d, want 200", rec.Code)
	}
	var report Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if !report.Ready {
		t.Fatalf("unexpected report: %+v", report)
	}

	c.Register("index", func(ctx context.Context) Result { return Down("rebuild pending") })
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready status = %d, want 503", rec.Code)
	}
}

func TestLiveHandlerAlwaysOK(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("index", func(ctx context.Context) Result { return Down("rebuild pending") })

	rec := httptest.NewRecorder()
	c.LiveHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("live status = %d, want 200 regardless of dependencies", rec.Code)
	}
}

func TestProbesObserveDeadline(t *testing.T) {
	c := NewChecker(50 * time.Millisecond)
	c.Register("slow", func(ctx context.Context) Result {
		select {
		case <-ctx.Done():
			return Down("probe timed out")
		case <-time.After(5 * time.Second):
			return OK("")
		}
	})
	start := time.Now()
	report := c.Run(context.Background())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Run ignored the checker deadline, took %v", elapsed)
	}
	if report.Status != StatusDown {
		t.Fatalf("expected the slow probe to report down, got %+v", report)
	}
}
