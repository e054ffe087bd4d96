// Package classifier turns raw notification and activity records into display
// text and the canonical type/action pair used as part of the dedup key.
//
// Every function here is pure: identical input always yields identical
// output, which keeps dedup keys stable across merge passes.
package classifier

import (
	"fmt"
	"strings"

	"inboxd/internal/models"
)

// Canonical types shared by both streams.
const (
	KindAttendance     = "attendance"
	KindPickup         = "pickup"
	KindReminder       = "reminder"
	KindHourlyReminder = "hourly_reminder"
	KindAnnouncement   = "admin_notification"
	KindTeacherMessage = "teacher_message"
)

// Canonical actions.
const (
	ActionTimeIn         = "Time In"
	ActionTimeOut        = "Time Out"
	ActionPickedUp       = "Picked Up"
	ActionWaiting        = "Waiting"
	ActionCancelled      = "Cancelled"
	ActionPickupReminder = "Pickup Reminder"
)

const defaultSubject = "Your child"

var (
	timeInHints    = []string{"time in", "time-in", "timein", "arrived", "arrival", "entered", "checked in", "tapped in"}
	timeOutHints   = []string{"time out", "time-out", "timeout", "departed", "left school", "exited", "checked out", "tapped out"}
	pickedUpHints  = []string{"picked up", "picked-up", "pickedup"}
	waitingHints   = []string{"waiting", "pending", "ready for pickup", "ready"}
	cancelledHints = []string{"cancel"}
)

// Classify maps a notification to display content. ok is false when the
// record has neither a message nor a subject; callers drop such records.
func Classify(n models.RawNotification) (models.Content, bool) {
	return classify(n.Type, n.Action, n.Status, n.Message, n.StudentName, n.TimeLabel)
}

// ClassifyActivity maps an activity log entry to display content.
func ClassifyActivity(a models.RawActivity) (models.Content, bool) {
	return classify(a.Type, a.Action, a.Status, a.Message, a.StudentName, "")
}

// Kind returns the canonical type for a raw type from either stream.
func Kind(rawType string) string {
	t := strings.ToLower(strings.TrimSpace(rawType))
	switch t {
	case models.TypeAttendanceScan, models.ActivityAttendance:
		return KindAttendance
	case models.TypePickupUpdate, models.ActivityPickup:
		return KindPickup
	case models.TypeReminder:
		return KindReminder
	case models.TypeHourlyReminder:
		return KindHourlyReminder
	case models.TypeAdminNotification:
		return KindAnnouncement
	case models.TypeTeacherMessage:
		return KindTeacherMessage
	}
	return t
}

// IsReminder reports whether a canonical type is a pickup reminder.
func IsReminder(kind string) bool {
	return kind == KindReminder || kind == KindHourlyReminder
}

// IsPickedUp reports whether free text signals a completed pickup.
func IsPickedUp(text string) bool {
	return containsAny(strings.ToLower(text), pickedUpHints)
}

func classify(rawType, action, status, message, name, timeLabel string) (models.Content, bool) {
	message = strings.TrimSpace(message)
	name = strings.TrimSpace(name)
	if message == "" && name == "" {
		return models.Content{}, false
	}

	kind := Kind(rawType)
	subject := name
	if subject == "" {
		subject = defaultSubject
	}
	at := ""
	if tl := strings.TrimSpace(timeLabel); tl != "" {
		at = " at " + tl
	}
	// action and status are matched first; message text only fills gaps
	signal := strings.ToLower(strings.Join([]string{action, status}, " "))
	text := strings.ToLower(message)

	c := models.Content{Type: kind, Action: strings.TrimSpace(action)}
	switch kind {
	case KindAttendance:
		switch {
		case containsAny(signal, timeOutHints), hasWord(signal, "out"):
			c.Action = ActionTimeOut
		case containsAny(signal, timeInHints), hasWord(signal, "in"):
			c.Action = ActionTimeIn
		case containsAny(text, timeOutHints), strings.Contains(text, " left"):
			c.Action = ActionTimeOut
		case containsAny(text, timeInHints):
			c.Action = ActionTimeIn
		}
		switch c.Action {
		case ActionTimeIn:
			c.Title = "Arrived at School"
			c.Body = orDefault(message, fmt.Sprintf("%s tapped in%s.", subject, at))
		case ActionTimeOut:
			c.Title = "Left School"
			c.Body = orDefault(message, fmt.Sprintf("%s tapped out%s.", subject, at))
		default:
			c.Title = "Attendance Update"
			c.Body = orDefault(message, fmt.Sprintf("%s's attendance was updated%s.", subject, at))
		}
	case KindPickup:
		switch {
		case IsPickedUp(signal), IsPickedUp(text):
			c.Action = ActionPickedUp
			c.Title = "Pickup Confirmed"
			c.Body = orDefault(message, fmt.Sprintf("%s has been picked up%s.", subject, at))
		case containsAny(signal, cancelledHints), containsAny(text, cancelledHints):
			c.Action = ActionCancelled
			c.Title = "Pickup Cancelled"
			c.Body = orDefault(message, fmt.Sprintf("The pickup request for %s was cancelled.", subject))
		case containsAny(signal, waitingHints), containsAny(text, waitingHints):
			c.Action = ActionWaiting
			c.Title = "Ready for Pickup"
			c.Body = orDefault(message, fmt.Sprintf("%s is waiting to be picked up.", subject))
		default:
			c.Title = "Pickup Update"
			c.Body = orDefault(message, fmt.Sprintf("There is a pickup update for %s%s.", subject, at))
		}
	case KindReminder, KindHourlyReminder:
		if c.Action == "" {
			c.Action = ActionPickupReminder
		}
		if kind == KindHourlyReminder {
			c.Title = "Hourly Pickup Reminder"
			c.Body = orDefault(message, fmt.Sprintf("%s is still waiting to be picked up.", subject))
		} else {
			c.Title = "Pickup Reminder"
			c.Body = orDefault(message, fmt.Sprintf("%s has not been picked up yet.", subject))
		}
	case KindAnnouncement:
		c.Title = "School Announcement"
		c.Body = orDefault(message, "A new announcement was posted.")
	case KindTeacherMessage:
		c.Title = "Message from Teacher"
		c.Body = orDefault(message, fmt.Sprintf("A teacher sent a message about %s.", subject))
	default:
		c.Title = "Update"
		c.Body = orDefault(message, fmt.Sprintf("There is a new update for %s.", subject))
	}
	return c, true
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func hasWord(s, word string) bool {
	for _, f := range strings.Fields(s) {
		if f == word {
			return true
		}
	}
	return false
}

func orDefault(s, def string) string {
	if s != "" {
		return s
	}
	return def
}
