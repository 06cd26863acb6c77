package aggregation

import v1 "github.com/aevon-lab/mailmetrics/internal/api/v1"

// Metric names accepted by Value and by scope comparison.
const (
	MetricOpenRate        = "open_rate"
	MetricUniqueOpenRate  = "unique_open_rate"
	MetricClickRate       = "click_rate"
	MetricUniqueClickRate = "unique_click_rate"
	MetricClickToOpenRate = "click_to_open_rate"
	MetricBounceRate      = "bounce_rate"
	MetricUnsubscribeRate = "unsubscribe_rate"
	MetricComplaintRate   = "complaint_rate"
	MetricDeliveryRate    = "delivery_rate"
)

// RateDef is a derived percentage: numerator over denominator, both read from Counts.
// To add a rate: define it here, register it in Rates and add a bundle field in Compute.
type RateDef struct {
	Numerator   func(c Counts) int64
	Denominator func(c Counts) int64
}

// Value evaluates the rate for c.
func (d RateDef) Value(c Counts) float64 {
	return Rate(d.Numerator(c), d.Denominator(c))
}

// Rates is the registry of every derived rate.
// Unsubscribe rate is relative to delivered mail; click-to-open to unique opens;
// everything else to sent mail.
var Rates = map[string]RateDef{
	MetricOpenRate:        {opens, sent},
	MetricUniqueOpenRate:  {uniqueOpens, sent},
	MetricClickRate:       {clicks, sent},
	MetricUniqueClickRate: {uniqueClicks, sent},
	MetricClickToOpenRate: {uniqueClicks, uniqueOpens},
	MetricBounceRate:      {bounces, sent},
	MetricUnsubscribeRate: {unsubscribes, delivered},
	MetricComplaintRate:   {complaints, sent},
	MetricDeliveryRate:    {delivered, sent},
}

func sent(c Counts) int64         { return c.Sent }
func delivered(c Counts) int64    { return c.Delivered }
func opens(c Counts) int64        { return c.Open }
func uniqueOpens(c Counts) int64  { return c.UniqueOpen }
func clicks(c Counts) int64       { return c.Click }
func uniqueClicks(c Counts) int64 { return c.UniqueClick }
func bounces(c Counts) int64      { return c.Bounce }
func unsubscribes(c Counts) int64 { return c.Unsubscribe }
func complaints(c Counts) int64   { return c.Complaint }

// ValidMetric reports whether name is a registered rate.
func ValidMetric(name string) bool {
	_, ok := Rates[name]
	return ok
}

// Compute derives the full bundle from raw counts. Counts are copied through
// unchanged; every rate is rounded to two decimals and is 0 when its
// denominator is 0.
func Compute(c Counts) v1.MetricsBundle {
	rate := func(name string) float64 { return Rates[name].Value(c) }
	return v1.MetricsBundle{
		SentCount:        c.Sent,
		DeliveredCount:   c.Delivered,
		OpenCount:        c.Open,
		UniqueOpenCount:  c.UniqueOpen,
		ClickCount:       c.Click,
		UniqueClickCount: c.UniqueClick,
		BounceCount:      c.Bounce,
		UnsubscribeCount: c.Unsubscribe,
		ComplaintCount:   c.Complaint,

		OpenRate:        rate(MetricOpenRate),
		UniqueOpenRate:  rate(MetricUniqueOpenRate),
		ClickRate:       rate(MetricClickRate),
		UniqueClickRate: rate(MetricUniqueClickRate),
		ClickToOpenRate: rate(MetricClickToOpenRate),
		BounceRate:      rate(MetricBounceRate),
		UnsubscribeRate: rate(MetricUnsubscribeRate),
		ComplaintRate:   rate(MetricComplaintRate),
		DeliveryRate:    rate(MetricDeliveryRate),
	}
}

// Value returns the named rate from a bundle, recomputed from its counts.
func Value(b v1.MetricsBundle, metric string) (float64, bool) {
	def, ok := Rates[metric]
	if !ok {
		return 0, false
	}
	return def.Value(CountsFromBundle(b)), true
}
