package metrics

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

// Metrics exposes a small in-memory counter set for the notification pipeline.
// A nil *Metrics is valid and counts nothing.
type Metrics struct {
	consumed      atomic.Int64
	deliveredLive atomic.Int64
	queued        atomic.Int64
	drained       atomic.Int64
	expired       atomic.Int64
	failed        atomic.Int64
	retried       atomic.Int64
	deadLettered  atomic.Int64
	reminders     atomic.Int64
	mentions      atomic.Int64
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Consumed      int64 `json:"consumed"`
	DeliveredLive int64 `json:"delivered_live"`
	QueuedOffline int64 `json:"queued_offline"`
	Drained       int64 `json:"drained"`
	Expired       int64 `json:"dropped_expired"`
	Failed        int64 `json:"failed"`
	Retried       int64 `json:"retried"`
	DeadLettered  int64 `json:"dead_lettered"`
	RemindersSent int64 `json:"reminders_sent"`
	Mentions      int64 `json:"mentions_published"`
}

// New returns a zeroed Metrics collector.
func New() *Metrics {
	return &Metrics{}
}

func add(c *atomic.Int64, n int) {
	c.Add(int64(n))
}

func (m *Metrics) IncConsumed() {
	if m != nil {
		add(&m.consumed, 1)
	}
}

func (m *Metrics) IncDeliveredLive() {
	if m != nil {
		add(&m.deliveredLive, 1)
	}
}

func (m *Metrics) IncQueued() {
	if m != nil {
		add(&m.queued, 1)
	}
}

func (m *Metrics) AddDrained(n int) {
	if m != nil {
		add(&m.drained, n)
	}
}

func (m *Metrics) IncExpired() {
	if m != nil {
		add(&m.expired, 1)
	}
}

func (m *Metrics) IncFailed() {
	if m != nil {
		add(&m.failed, 1)
	}
}

func (m *Metrics) IncRetried() {
	if m != nil {
		add(&m.retried, 1)
	}
}

func (m *Metrics) IncDeadLettered() {
	if m != nil {
		add(&m.deadLettered, 1)
	}
}

func (m *Metrics) IncRemindersSent() {
	if m != nil {
		add(&m.reminders, 1)
	}
}

func (m *Metrics) IncMentions() {
	if m != nil {
		add(&m.mentions, 1)
	}
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		Consumed:      m.consumed.Load(),
		DeliveredLive: m.deliveredLive.Load(),
		QueuedOffline: m.queued.Load(),
		Drained:       m.drained.Load(),
		Expired:       m.expired.Load(),
		Failed:        m.failed.Load(),
		Retried:       m.retried.Load(),
		DeadLettered:  m.deadLettered.Load(),
		RemindersSent: m.reminders.Load(),
		Mentions:      m.mentions.Load(),
	}
}

// Handler exposes the counters as a JSON document.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(m.Snapshot())
	})
}
