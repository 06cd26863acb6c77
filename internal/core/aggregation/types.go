package aggregation

import v1 "github.com/aevon-lab/mailmetrics/internal/api/v1"

// Counts holds raw event counts for one scope and window.
// UniqueOpen and UniqueClick are distinct contacts, not summed per-event flags.
type Counts struct {
	Sent        int64
	Delivered   int64
	Open        int64
	UniqueOpen  int64
	Click       int64
	UniqueClick int64
	Bounce      int64
	Unsubscribe int64
	Complaint   int64
}

// counters maps each event type to its raw counter field.
// To count a new event type: add a Counts field and register it here.
var counters = map[v1.EventType]func(c *Counts) *int64{
	v1.EventSend:        func(c *Counts) *int64 { return &c.Sent },
	v1.EventDelivery:    func(c *Counts) *int64 { return &c.Delivered },
	v1.EventOpen:        func(c *Counts) *int64 { return &c.Open },
	v1.EventClick:       func(c *Counts) *int64 { return &c.Click },
	v1.EventBounce:      func(c *Counts) *int64 { return &c.Bounce },
	v1.EventUnsubscribe: func(c *Counts) *int64 { return &c.Unsubscribe },
	v1.EventComplaint:   func(c *Counts) *int64 { return &c.Complaint },
}

// uniqueCounters maps interaction types to their distinct-contact field.
var uniqueCounters = map[v1.EventType]func(c *Counts) *int64{
	v1.EventOpen:  func(c *Counts) *int64 { return &c.UniqueOpen },
	v1.EventClick: func(c *Counts) *int64 { return &c.UniqueClick },
}

// Add folds n events of the given type into c. Unknown types are ignored.
func (c *Counts) Add(eventType v1.EventType, n int64) {
	if field, ok := counters[eventType]; ok {
		*field(c) += n
	}
}

// AddUnique folds n distinct contacts for an interaction type into c.
func (c *Counts) AddUnique(eventType v1.EventType, n int64) {
	if field, ok := uniqueCounters[eventType]; ok {
		*field(c) += n
	}
}

// Get returns the raw count for eventType.
func (c Counts) Get(eventType v1.EventType) int64 {
	if field, ok := counters[eventType]; ok {
		return *field(&c)
	}
	return 0
}

// Merge adds every field of other into c.
func (c *Counts) Merge(other Counts) {
	c.Sent += other.Sent
	c.Delivered += other.Delivered
	c.Open += other.Open
	c.UniqueOpen += other.UniqueOpen
	c.Click += other.Click
	c.UniqueClick += other.UniqueClick
	c.Bounce += other.Bounce
	c.Unsubscribe += other.Unsubscribe
	c.Complaint += other.Complaint
}

// CountsFromBundle recovers the raw counts carried by a bundle.
func CountsFromBundle(b v1.MetricsBundle) Counts {
	return Counts{
		Sent:        b.SentCount,
		Delivered:   b.DeliveredCount,
		Open:        b.OpenCount,
		UniqueOpen:  b.UniqueOpenCount,
		Click:       b.ClickCount,
		UniqueClick: b.UniqueClickCount,
		Bounce:      b.BounceCount,
		Unsubscribe: b.UnsubscribeCount,
		Complaint:   b.ComplaintCount,
	}
}
