package pool

// Status classifies the overall liquidity condition of the pool.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// ThresholdKind identifies which rate a threshold applies to.
type ThresholdKind string

const (
	// KindMinimum trips when the available rate falls below the value.
	KindMinimum ThresholdKind = "minimum"
	// KindWarning trips when the available rate falls below the value.
	KindWarning ThresholdKind = "warning"
	// KindMaximum trips when the utilization rate rises above the value.
	KindMaximum ThresholdKind = "maximum"
)

// ThresholdAction is the operator-facing recommendation attached to a breach.
type ThresholdAction string

const (
	ActionPause     ThresholdAction = "pause"
	ActionAlert     ThresholdAction = "alert"
	ActionRebalance ThresholdAction = "rebalance"
)

// Threshold pairs a trip condition with its recommended action.
type Threshold struct {
	Kind   ThresholdKind   `json:"kind"`
	Value  float64         `json:"value"`
	Action ThresholdAction `json:"action"`
}

// DefaultThresholds are the operating limits for the pool. A breached minimum
// pauses intake entirely; the others degrade the status to warning.
var DefaultThresholds = []Threshold{
	{Kind: KindMinimum, Value: 0.10, Action: ActionPause},
	{Kind: KindWarning, Value: 0.20, Action: ActionAlert},
	{Kind: KindMaximum, Value: 0.90, Action: ActionRebalance},
}

// Health is a point-in-time classification of the reserve.
type Health struct {
	Status             Status      `json:"status"`
	UtilizationRate    float64     `json:"utilizationRate"`
	AvailableRate      float64     `json:"availableRate"`
	PendingObligations int         `json:"pendingObligations"`
	ThresholdBreaches  []Threshold `json:"thresholdBreaches"`
}

// EvaluateHealth classifies a reserve against DefaultThresholds. Pure: the
// same reserve always yields the same health, so callers can diff evaluations
// across a mutation to detect status transitions.
func EvaluateHealth(r Reserve) Health {
	util := r.UtilizationRate()
	avail := r.AvailableRate()

	var breaches []Threshold
	for _, th := range DefaultThresholds {
		switch th.Kind {
		case KindMinimum, KindWarning:
			if avail < th.Value {
				breaches = append(breaches, th)
			}
		case KindMaximum:
			if util > th.Value {
				breaches = append(breaches, th)
			}
		}
	}

	status := StatusHealthy
	for _, b := range breaches {
		if b.Action == ActionPause {
			status = StatusCritical
			break
		}
		status = StatusWarning
	}

	return Health{
		Status:            status,
		UtilizationRate:   util,
		AvailableRate:     avail,
		ThresholdBreaches: breaches,
	}
}
