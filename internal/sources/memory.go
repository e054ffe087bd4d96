package sources

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"inboxd/internal/models"
)

var ErrNotFound = errors.New("record not found")

// MemoryNotifications is an in-process NotificationChannel. Writers get every
// change fanned out to subscribers synchronously, outside the store lock.
type MemoryNotifications struct {
	mu     sync.Mutex
	data   map[string]map[string]models.RawNotification
	subs   map[string]map[int]NotificationHandler
	nextID int
}

func NewMemoryNotifications() *MemoryNotifications {
	return &MemoryNotifications{
		data: make(map[string]map[string]models.RawNotification),
		subs: make(map[string]map[int]NotificationHandler),
	}
}

// Put stores rec in its student channel, assigning an ID when empty.
func (m *MemoryNotifications) Put(rec models.RawNotification) string {
	m.mu.Lock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if m.data[rec.StudentID] == nil {
		m.data[rec.StudentID] = make(map[string]models.RawNotification)
	}
	m.data[rec.StudentID][rec.ID] = rec
	m.mu.Unlock()

	m.notify(rec.StudentID)
	return rec.ID
}

func (m *MemoryNotifications) Snapshot(_ context.Context, studentID string) ([]models.RawNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return notificationsFromMap(studentID, m.data[studentID]), nil
}

func (m *MemoryNotifications) Subscribe(_ context.Context, studentID string, fn NotificationHandler, _ ErrorHandler) (Subscription, error) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	if m.subs[studentID] == nil {
		m.subs[studentID] = make(map[int]NotificationHandler)
	}
	m.subs[studentID][id] = fn
	snapshot := notificationsFromMap(studentID, m.data[studentID])
	m.mu.Unlock()

	fn(snapshot)
	return subscriptionFunc(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs[studentID], id)
	}), nil
}

func (m *MemoryNotifications) MarkRead(_ context.Context, studentID, id string) error {
	m.mu.Lock()
	rec, ok := m.data[studentID][id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s/%s", ErrNotFound, studentID, id)
	}
	rec.Read = true
	m.data[studentID][id] = rec
	m.mu.Unlock()

	m.notify(studentID)
	return nil
}

func (m *MemoryNotifications) Delete(_ context.Context, studentID, id string) error {
	m.mu.Lock()
	if _, ok := m.data[studentID][id]; !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.data[studentID], id)
	m.mu.Unlock()

	m.notify(studentID)
	return nil
}

func (m *MemoryNotifications) Subscribers(studentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[studentID])
}

func (m *MemoryNotifications) notify(studentID string) {
	m.mu.Lock()
	snapshot := notificationsFromMap(studentID, m.data[studentID])
	handlers := make([]NotificationHandler, 0, len(m.subs[studentID]))
	for _, fn := range m.subs[studentID] {
		handlers = append(handlers, fn)
	}
	m.mu.Unlock()

	for _, fn := range handlers {
		fn(snapshot)
	}
}

// MemoryActivities is an in-process ActivityLog.
type MemoryActivities struct {
	mu     sync.Mutex
	data   map[string][]models.RawActivity
	subs   map[string]map[int]ActivityHandler
	nextID int
}

func NewMemoryActivities() *MemoryActivities {
	return &MemoryActivities{
		data: make(map[string][]models.RawActivity),
		subs: make(map[string]map[int]ActivityHandler),
	}
}

// Append adds an entry to the guardian log, generating its ID when empty.
func (m *MemoryActivities) Append(guardianID string, rec models.RawActivity) string {
	m.mu.Lock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	m.data[guardianID] = append(m.data[guardianID], rec)
	snapshot := append([]models.RawActivity(nil), m.data[guardianID]...)
	handlers := make([]ActivityHandler, 0, len(m.subs[guardianID]))
	for _, fn := range m.subs[guardianID] {
		handlers = append(handlers, fn)
	}
	m.mu.Unlock()

	for _, fn := range handlers {
		fn(snapshot)
	}
	return rec.ID
}

func (m *MemoryActivities) Snapshot(_ context.Context, guardianID string) ([]models.RawActivity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.RawActivity(nil), m.data[guardianID]...), nil
}

func (m *MemoryActivities) Subscribe(_ context.Context, guardianID string, fn ActivityHandler, _ ErrorHandler) (Subscription, error) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	if m.subs[guardianID] == nil {
		m.subs[guardianID] = make(map[int]ActivityHandler)
	}
	m.subs[guardianID][id] = fn
	snapshot := append([]models.RawActivity(nil), m.data[guardianID]...)
	m.mu.Unlock()

	fn(snapshot)
	return subscriptionFunc(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs[guardianID], id)
	}), nil
}
