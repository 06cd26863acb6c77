package projection

import (
	"time"

	v1 "github.com/aevon-lab/mailmetrics/internal/api/v1"
)

// MetricsResponse is the body of a single-window metrics query.
type MetricsResponse struct {
	OwnerID string           `json:"owner_id"`
	Scope   v1.Scope         `json:"scope"`
	Start   time.Time        `json:"start"`
	End     time.Time        `json:"end"`
	Metrics v1.MetricsBundle `json:"metrics"`
}

// TimelinePoint is one calendar period of a timeline. Start and End are
// clipped to the query window.
type TimelinePoint struct {
	PeriodStart  time.Time        `json:"period_start"`
	PeriodEnd    time.Time        `json:"period_end"`
	IsRealTime   bool             `json:"is_real_time"`
	FromSnapshot bool             `json:"from_snapshot"`
	Metrics      v1.MetricsBundle `json:"metrics"`
}

// Timeline is a windowed metrics series plus the direct aggregate over the window.
// Raw counts in Totals equal the sum over Points; unique counts are distinct
// over the whole window and may be smaller than the per-point sum.
type Timeline struct {
	OwnerID     string           `json:"owner_id"`
	Scope       v1.Scope         `json:"scope"`
	Start       time.Time        `json:"start"`
	End         time.Time        `json:"end"`
	Granularity v1.Granularity   `json:"granularity"`
	Points      []TimelinePoint  `json:"points"`
	Totals      v1.MetricsBundle `json:"totals"`
}

// ScopeResult is one compared scope. Index is its position in the request.
type ScopeResult struct {
	Index   int              `json:"index"`
	Rank    int              `json:"rank"`
	Scope   v1.Scope         `json:"scope"`
	Value   float64          `json:"value"`
	Metrics v1.MetricsBundle `json:"metrics"`
}

// Comparison ranks scopes by one metric, best first.
type Comparison struct {
	OwnerID       string        `json:"owner_id"`
	Metric        string        `json:"metric"`
	Start         time.Time     `json:"start"`
	End           time.Time     `json:"end"`
	Results       []ScopeResult `json:"results"`
	BestPerformer *ScopeResult  `json:"best_performer"`
}

// CompareRequest is the body of POST /v1/metrics/:owner_id/compare.
type CompareRequest struct {
	Scopes []v1.Scope `json:"scopes" binding:"required"`
	Start  time.Time  `json:"start" binding:"required"`
	End    time.Time  `json:"end" binding:"required"`
	Metric string     `json:"metric"`
}
