package models

import (
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cast"
)

// Notification types emitted by the remote channel.
const (
	TypeAttendanceScan    = "attendance_scan"
	TypePickupUpdate      = "pickup_update"
	TypeReminder          = "reminder"
	TypeHourlyReminder    = "hourly_reminder"
	TypeAdminNotification = "admin_notification"
	TypeTeacherMessage    = "teacher_message"
)

// Activity types written to the guardian activity log.
const (
	ActivityAttendance = "attendance"
	ActivityPickup     = "pickup"
	ActivityReminder   = "reminder"
)

// Timestamp is epoch milliseconds. Remote payloads carry it as a number or a
// numeric string; anything else decodes to an invalid (zero) timestamp.
type Timestamp int64

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		*t = 0
		return nil
	}
	switch v := raw.(type) {
	case string:
		raw = strings.TrimSpace(v)
	case float64:
	default:
		*t = 0
		return nil
	}
	ms, err := cast.ToInt64E(raw)
	if err != nil || ms < 0 {
		*t = 0
		return nil
	}
	*t = Timestamp(ms)
	return nil
}

func (t Timestamp) Valid() bool {
	return t > 0
}

func (t Timestamp) Time() time.Time {
	return time.UnixMilli(int64(t))
}

func TimestampOf(tm time.Time) Timestamp {
	return Timestamp(tm.UnixMilli())
}

// RawNotification is one record of a student's remote notification channel.
// ID is unique only inside that channel.
type RawNotification struct {
	ID          string    `json:"id"`
	StudentID   string    `json:"studentId"`
	Type        string    `json:"type"`
	Action      string    `json:"action"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	StudentName string    `json:"studentName"`
	TimeLabel   string    `json:"time"`
	Timestamp   Timestamp `json:"timestamp"`
	Read        bool      `json:"read"`
}

// RawActivity is one entry of the guardian activity log. It is append-only.
type RawActivity struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Action      string    `json:"action,omitempty"`
	Status      string    `json:"status,omitempty"`
	Message     string    `json:"message"`
	StudentName string    `json:"studentName"`
	Timestamp   Timestamp `json:"timestamp"`
}

func NotificationRef(studentID, id string) string {
	return studentID + "/" + id
}

func ActivityRef(id string) string {
	return "activity:" + id
}

func (n RawNotification) Ref() string {
	return NotificationRef(n.StudentID, n.ID)
}

func (a RawActivity) Ref() string {
	return ActivityRef(a.ID)
}
