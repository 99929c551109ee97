package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func reserveAt(total, reserved int64) Reserve {
	return Reserve{
		TotalAmount:     total,
		AvailableAmount: total - reserved,
		ReservedAmount:  reserved,
		Currency:        "BTC",
		Version:         1,
	}
}

func TestEvaluateHealth(t *testing.T) {
	tests := []struct {
		name       string
		reserve    Reserve
		wantStatus Status
		wantKinds  []ThresholdKind
	}{
		{
			name:       "idle pool is healthy",
			reserve:    reserveAt(1000, 0),
			wantStatus: StatusHealthy,
		},
		{
			name:       "moderate utilization is healthy",
			reserve:    reserveAt(1000, 500),
			wantStatus: StatusHealthy,
		},
		{
			name:       "available exactly at warning boundary is healthy",
			reserve:    reserveAt(1000, 800),
			wantStatus: StatusHealthy,
		},
		{
			name:       "available below 20 percent warns",
			reserve:    reserveAt(1000, 801),
			wantStatus: StatusWarning,
			wantKinds:  []ThresholdKind{KindWarning},
		},
		{
			// Utilization above 90% also means availability below 10%,
			// so the rebalance breach always arrives with the pause breach.
			name:       "utilization above 90 percent is critical",
			reserve:    reserveAt(1000, 901),
			wantStatus: StatusCritical,
			wantKinds:  []ThresholdKind{KindMinimum, KindWarning, KindMaximum},
		},
		{
			name:       "fully reserved is critical",
			reserve:    reserveAt(1000, 1000),
			wantStatus: StatusCritical,
			wantKinds:  []ThresholdKind{KindMinimum, KindWarning, KindMaximum},
		},
		{
			name:       "empty pool is critical",
			reserve:    reserveAt(0, 0),
			wantStatus: StatusCritical,
			wantKinds:  []ThresholdKind{KindMinimum, KindWarning},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := EvaluateHealth(tt.reserve)
			assert.Equal(t, tt.wantStatus, h.Status)

			var kinds []ThresholdKind
			for _, b := range h.ThresholdBreaches {
				kinds = append(kinds, b.Kind)
			}
			assert.Equal(t, tt.wantKinds, kinds)
		})
	}
}

func TestEvaluateHealthIsPure(t *testing.T) {
	r := reserveAt(1000, 850)
	first := EvaluateHealth(r)
	second := EvaluateHealth(r)
	assert.Equal(t, first, second)
}

func TestBreachActionsCarryRecommendations(t *testing.T) {
	h := EvaluateHealth(reserveAt(1000, 950))

	actions := map[ThresholdKind]ThresholdAction{}
	for _, b := range h.ThresholdBreaches {
		actions[b.Kind] = b.Action
	}
	assert.Equal(t, ActionPause, actions[KindMinimum])
	assert.Equal(t, ActionAlert, actions[KindWarning])
	assert.Equal(t, ActionRebalance, actions[KindMaximum])
}
