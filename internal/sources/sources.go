// Package sources adapts the remote realtime store and the guardian activity
// log into snapshot + subscribe streams of raw records.
package sources

import (
	"context"
	"sort"

	"inboxd/internal/models"
)

// Subscription is released with Close. No callback fires after Close returns.
type Subscription interface {
	Close()
}

type NotificationHandler func(records []models.RawNotification)
type ActivityHandler func(records []models.RawActivity)
type ErrorHandler func(err error)

// NotificationChannel is the per-student remote notification store.
type NotificationChannel interface {
	Snapshot(ctx context.Context, studentID string) ([]models.RawNotification, error)
	Subscribe(ctx context.Context, studentID string, fn NotificationHandler, onErr ErrorHandler) (Subscription, error)
	MarkRead(ctx context.Context, studentID, id string) error
	Delete(ctx context.Context, studentID, id string) error
}

// ActivityLog is the per-guardian append-only activity log. It is read-only
// from this side.
type ActivityLog interface {
	Snapshot(ctx context.Context, guardianID string) ([]models.RawActivity, error)
	Subscribe(ctx context.Context, guardianID string, fn ActivityHandler, onErr ErrorHandler) (Subscription, error)
}

// notificationsFromMap flattens an id-keyed channel snapshot into a slice
// ordered by id, filling ID and StudentID from the channel.
func notificationsFromMap(studentID string, m map[string]models.RawNotification) []models.RawNotification {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]models.RawNotification, 0, len(ids))
	for _, id := range ids {
		rec := m[id]
		rec.ID = id
		rec.StudentID = studentID
		out = append(out, rec)
	}
	return out
}

type subscriptionFunc func()

func (f subscriptionFunc) Close() { f() }
