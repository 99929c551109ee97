package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftlabs/mixpool/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:              "0",
		Env:               "development",
		LogLevel:          "error",
		LogFormat:         "text",
		PoolCurrency:      "BTC",
		PoolInitialFunds:  "100",
		ObligationMaxAge:  time.Hour,
		SweepInterval:     30 * time.Second,
		BatchSize:         10,
		ExecutorInterval:  10 * time.Second,
		MaxPaymentRetry:   3,
		ChainPollInterval: 30 * time.Second,
		CORSOrigins:       []string{"*"},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(testConfig(), WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { s.limiter.Stop() })
	return s
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHealthzAndMetrics(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "GET", "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, "GET", "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "mixpool_")
}

func TestReservationLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "POST", "/v1/pool/reservations", map[string]string{"amount": "1.5"})
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		Obligation struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"obligation"`
		AmountBtc string `json:"amountBtc"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "pending", created.Obligation.Status)
	assert.Equal(t, "1.50000000", created.AmountBtc)

	w = doJSON(t, s, "POST", "/v1/pool/obligations/"+created.Obligation.ID+"/fulfill", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Terminal obligations cannot be released twice.
	w = doJSON(t, s, "POST", "/v1/pool/obligations/"+created.Obligation.ID+"/expire", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, s, "GET", "/v1/pool/reserve", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var reserve struct {
		TotalBtc string `json:"totalBtc"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reserve))
	assert.Equal(t, "98.50000000", reserve.TotalBtc)
}

func TestReservationRejectsOversizedAmount(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "POST", "/v1/pool/reservations", map[string]string{"amount": "500"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestTokenEmitAndResolveOverHTTP(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "POST", "/v1/tokens", map[string]string{"purpose": "deposit"})
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		Token struct {
			Address string `json:"address"`
		} `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.Token.Address)

	w = doJSON(t, s, "POST", "/v1/tokens/resolve", map[string]string{"address": created.Token.Address})
	assert.Equal(t, http.StatusOK, w.Code)

	// Deposit tokens are single-use: the second resolve is a miss.
	w = doJSON(t, s, "POST", "/v1/tokens/resolve", map[string]string{"address": created.Token.Address})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPaymentPlanningOverHTTP(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "POST", "/v1/payments", map[string]string{
		"address": "bc1qdeadbeefdeadbeefdead",
		"amount":  "0.25",
		"policy":  "immediate",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	// Custom delay bounds on the random-window policy.
	w = doJSON(t, s, "POST", "/v1/payments", map[string]any{
		"address":         "bc1qfeedfacefeedfacefeed",
		"amount":          "0.1",
		"policy":          "random_window",
		"minDelaySeconds": 60,
		"maxDelaySeconds": 120,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, s, "POST", "/v1/batches", nil)
	require.Equal(t, http.StatusCreated, w.Code)

	var cut struct {
		Batch struct {
			PaymentIDs []string `json:"paymentIds"`
			Window     struct {
				DurationSeconds int64 `json:"durationSeconds"`
			} `json:"window"`
			Status string `json:"status"`
		} `json:"batch"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cut))
	assert.Len(t, cut.Batch.PaymentIDs, 2)
	assert.Equal(t, int64(3600), cut.Batch.Window.DurationSeconds)
	assert.Equal(t, "pending", cut.Batch.Status)
}

func TestChainEndpointsWithSimulator(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "GET", "/v1/chain/height", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, "POST", "/v1/chain/simulate/block", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var mined struct {
		Height int64 `json:"height"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &mined))
	assert.Greater(t, mined.Height, int64(800_000))
}

func TestSecurityHeadersApplied(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "GET", "/healthz", nil)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
