package models

import (
	"fmt"
	"strings"
	"time"
)

// Task is the slice of a task-management record the reminder scan reads.
type Task struct {
	ID          string
	Title       string
	Description string
	Deadline    time.Time
	CreatorID   string
	AssigneeIDs []string
	Completed   bool
}

// Recipients returns the creator followed by every assignee, without duplicates.
func (t Task) Recipients() []string {
	seen := make(map[string]struct{}, len(t.AssigneeIDs)+1)
	out := make([]string, 0, len(t.AssigneeIDs)+1)
	for _, id := range append([]string{t.CreatorID}, t.AssigneeIDs...) {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// ThresholdClass names a reminder window.
type ThresholdClass string

const (
	Threshold24Hours ThresholdClass = "24_HOURS"
	Threshold3Hours  ThresholdClass = "3_HOURS"
	ThresholdOverdue ThresholdClass = "OVERDUE"
)

// ReminderKeyPrefix prefixes every reminder ledger key.
const ReminderKeyPrefix = "reminder:"

// ReminderKey identifies one reminder per task, class and time bucket.
type ReminderKey struct {
	TaskID string
	Class  ThresholdClass
	Bucket string
}

// NewReminderKey buckets now by hour for timed classes and by day for overdue.
func NewReminderKey(taskID string, class ThresholdClass, now time.Time) ReminderKey {
	layout := "2006-01-02T15"
	if class == ThresholdOverdue {
		layout = "2006-01-02"
	}
	return ReminderKey{TaskID: taskID, Class: class, Bucket: now.UTC().Format(layout)}
}

// ParseReminderKey reverses ReminderKey.String. Task ids may contain colons.
func ParseReminderKey(s string) (ReminderKey, bool) {
	rest, ok := strings.CutPrefix(s, ReminderKeyPrefix)
	if !ok {
		return ReminderKey{}, false
	}
	i := strings.LastIndex(rest, ":")
	if i < 0 {
		return ReminderKey{}, false
	}
	bucket := rest[i+1:]
	rest = rest[:i]
	j := strings.LastIndex(rest, ":")
	if j <= 0 || bucket == "" {
		return ReminderKey{}, false
	}
	return ReminderKey{TaskID: rest[:j], Class: ThresholdClass(rest[j+1:]), Bucket: bucket}, true
}

// Expired reports whether k belongs to a bucket that ended before now's
// bucket of the same class. Bucket layouts sort lexically.
func (k ReminderKey) Expired(now time.Time) bool {
	return k.Bucket < NewReminderKey(k.TaskID, k.Class, now).Bucket
}

func (k ReminderKey) String() string {
	return fmt.Sprintf("%s%s:%s:%s", ReminderKeyPrefix, k.TaskID, k.Class, k.Bucket)
}
