package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestCheckAllAggregates(t *testing.T) {
	r := NewRegistry()
	r.Register("up", func(ctx context.Context) Status {
		return Status{Name: "up", Healthy: true}
	})
	r.Register("down", func(ctx context.Context) Status {
		return Status{Name: "down", Healthy: false, Detail: "broken"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Error("expected aggregate unhealthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[1].Detail != "broken" {
		t.Errorf("expected detail to propagate, got %q", statuses[1].Detail)
	}
}

func TestCheckAllEmptyRegistryIsHealthy(t *testing.T) {
	healthy, statuses := NewRegistry().CheckAll(context.Background())
	if !healthy {
		t.Error("empty registry should be healthy")
	}
	if len(statuses) != 0 {
		t.Errorf("expected no statuses, got %d", len(statuses))
	}
}

func TestRunningChecker(t *testing.T) {
	running := true
	check := RunningChecker("sweeper", func() bool { return running })

	if s := check(context.Background()); !s.Healthy {
		t.Error("expected healthy while running")
	}
	running = false
	if s := check(context.Background()); s.Healthy {
		t.Error("expected unhealthy once stopped")
	}
}

func TestHandlerStatusCodes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := NewRegistry()
	router := gin.New()
	router.GET("/healthz", r.Handler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with no checkers, got %d", w.Code)
	}

	r.Register("db", func(ctx context.Context) Status {
		return Status{Name: "db", Healthy: false, Detail: "connection refused"}
	})

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with failing checker, got %d", w.Code)
	}

	var body struct {
		Status     string   `json:"status"`
		Subsystems []Status `json:"subsystems"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "degraded" {
		t.Errorf("expected degraded, got %s", body.Status)
	}
}
