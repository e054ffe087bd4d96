package feed

import (
	"strconv"
	"strings"

	"inboxd/internal/classifier"
	"inboxd/internal/models"
)

// KeyPolicy decides which of two entries sharing a key survives.
type KeyPolicy int

const (
	// FirstWins keeps the entry seen first in stream order.
	FirstWins KeyPolicy = iota
	// LatestWins keeps the entry with the greatest timestamp.
	LatestWins
)

// KeyFunc derives the dedup key of a classified entry.
type KeyFunc func(e *models.FeedEntry) string

type keyRule struct {
	name   string
	key    KeyFunc
	policy KeyPolicy
}

var (
	identityRule = keyRule{name: "identity", key: IdentityKey, policy: FirstWins}
	reminderRule = keyRule{name: "reminder", key: ReminderKey, policy: LatestWins}
)

// IdentityKey is (timestamp, type, action, studentName).
func IdentityKey(e *models.FeedEntry) string {
	return strings.Join([]string{
		strconv.FormatInt(int64(e.Timestamp), 10),
		e.Type,
		e.Action,
		normalizeName(e.StudentName),
	}, "\x1f")
}

// ReminderKey is (type, action, studentName). Hourly reminders recur with new
// timestamps and only the latest one stays visible.
func ReminderKey(e *models.FeedEntry) string {
	return strings.Join([]string{
		"reminder",
		e.Type,
		e.Action,
		normalizeName(e.StudentName),
	}, "\x1f")
}

func ruleFor(kind string) keyRule {
	if classifier.IsReminder(kind) {
		return reminderRule
	}
	return identityRule
}

func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
