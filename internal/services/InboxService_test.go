package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inboxd/internal/counter"
	"inboxd/internal/models"
	"inboxd/internal/sources"
	"inboxd/internal/state"
	"inboxd/internal/structures"
	"inboxd/internal/testutil"
)

// flakyChannel wraps the in-memory channel with switchable remote failures.
type flakyChannel struct {
	*sources.MemoryNotifications
	mu           sync.Mutex
	failRead     bool
	failDelete   bool
	failSnapshot bool
	readCalls    int
	// afterSnapshot runs once, after the next snapshot was read
	afterSnapshot func()
}

func (f *flakyChannel) set(read, del, snap bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failRead, f.failDelete, f.failSnapshot = read, del, snap
}

func (f *flakyChannel) Snapshot(ctx context.Context, studentID string) ([]models.RawNotification, error) {
	f.mu.Lock()
	fail := f.failSnapshot
	f.mu.Unlock()
	if fail {
		return nil, testutil.ErrInjected
	}
	records, err := f.MemoryNotifications.Snapshot(ctx, studentID)
	f.mu.Lock()
	hook := f.afterSnapshot
	f.afterSnapshot = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return records, err
}

func (f *flakyChannel) MarkRead(ctx context.Context, studentID, id string) error {
	f.mu.Lock()
	f.readCalls++
	fail := f.failRead
	f.mu.Unlock()
	if fail {
		return testutil.ErrInjected
	}
	return f.MemoryNotifications.MarkRead(ctx, studentID, id)
}

func (f *flakyChannel) Delete(ctx context.Context, studentID, id string) error {
	f.mu.Lock()
	fail := f.failDelete
	f.mu.Unlock()
	if fail {
		return testutil.ErrInjected
	}
	return f.MemoryNotifications.Delete(ctx, studentID, id)
}

type fixture struct {
	svc        *InboxService
	channel    *flakyChannel
	activities *sources.MemoryActivities
	kv         *testutil.FlakyKV
	store      *state.Store
	logger     *testutil.MockLogger
	metrics    *testutil.MockMetrics
}

func testConfig() *structures.Config {
	return &structures.Config{
		Remote: structures.RemoteConfig{GuardianID: "g1", StudentIDs: []string{"s1"}},
		Inbox: structures.InboxConfig{
			Timezone:        "UTC",
			ReminderStart:   "12:30",
			ReminderEnd:     "21:00",
			RefreshThrottle: 3 * time.Second,
		},
	}
}

func newFixture(t *testing.T, kv *testutil.FlakyKV, channel *flakyChannel, activities *sources.MemoryActivities) *fixture {
	t.Helper()
	if kv == nil {
		kv = testutil.NewFlakyKV()
	}
	if channel == nil {
		channel = &flakyChannel{MemoryNotifications: sources.NewMemoryNotifications()}
	}
	if activities == nil {
		activities = sources.NewMemoryActivities()
	}
	logger := &testutil.MockLogger{}
	metrics := testutil.NewMockMetrics()
	store := state.NewStore(kv, time.Minute, logger, metrics)
	require.NoError(t, store.Load())

	svc, err := NewInboxService(testConfig(), logger, metrics, store, counter.NewBroadcaster(kv, logger, metrics), channel, activities)
	require.NoError(t, err)

	return &fixture{
		svc:        svc.(*InboxService),
		channel:    channel,
		activities: activities,
		kv:         kv,
		store:      store,
		logger:     logger,
		metrics:    metrics,
	}
}

func (f *fixture) slot(t *testing.T) int {
	t.Helper()
	n, err := counter.Read(f.kv)
	require.NoError(t, err)
	return n
}

func (f *fixture) entry(ref string) (models.FeedEntry, bool) {
	for _, e := range f.svc.Feed() {
		if e.Ref == ref {
			return e, true
		}
	}
	return models.FeedEntry{}, false
}

func seed(f *fixture) {
	f.channel.Put(models.RawNotification{ID: "n1", StudentID: "s1", Type: "attendance_scan", Action: "Time In", StudentName: "Ana", Timestamp: 1000})
	f.channel.Put(models.RawNotification{ID: "n2", StudentID: "s1", Type: "teacher_message", Message: "Bring crayons", StudentName: "Ana", Timestamp: 2000})
	f.channel.Put(models.RawNotification{ID: "n3", StudentID: "s1", Type: "admin_notification", Message: "No classes Friday", Timestamp: 3000, Read: true})
	f.activities.Append("g1", models.RawActivity{ID: "a1", Type: "pickup", Action: "waiting", StudentName: "Ana", Timestamp: 4000})
}

func TestCounterConsistentAfterInitialLoad(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	seed(f)

	require.NoError(t, f.svc.Start(context.Background()))
	defer f.svc.Stop()

	assert.Len(t, f.svc.Feed(), 4)
	assert.Equal(t, 2, f.svc.UnreadCount())
	assert.Equal(t, 2, f.slot(t))
	assert.False(t, f.svc.Loading())
}

func TestMarkReadDecrementsCounterAndMirrorsRemote(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	seed(f)
	require.NoError(t, f.svc.Start(context.Background()))
	defer f.svc.Stop()

	require.NoError(t, f.svc.MarkRead(context.Background(), "s1/n1"))

	e, ok := f.entry("s1/n1")
	require.True(t, ok)
	assert.True(t, e.Read)
	assert.Equal(t, 1, f.svc.UnreadCount())
	assert.Equal(t, 1, f.slot(t))

	remote, err := f.channel.MemoryNotifications.Snapshot(context.Background(), "s1")
	require.NoError(t, err)
	for _, r := range remote {
		if r.ID == "n1" {
			assert.True(t, r.Read)
		}
	}
	assert.Empty(t, f.svc.PendingReads())
}

func TestMarkAllReadZeroesCounter(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	seed(f)
	require.NoError(t, f.svc.Start(context.Background()))
	defer f.svc.Stop()

	n, err := f.svc.MarkAllRead(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, f.svc.UnreadCount())
	assert.Equal(t, 0, f.slot(t))

	n, err = f.svc.MarkAllRead(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeleteUnreadDecrementsCounter(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	seed(f)
	require.NoError(t, f.svc.Start(context.Background()))
	defer f.svc.Stop()

	require.NoError(t, f.svc.Delete(context.Background(), "s1/n2"))

	_, ok := f.entry("s1/n2")
	assert.False(t, ok)
	assert.Equal(t, 1, f.svc.UnreadCount())
	assert.Equal(t, 1, f.slot(t))
	assert.True(t, f.store.IsDeleted("s1/n2"))
}

func TestDeleteReadLeavesCounter(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	seed(f)
	require.NoError(t, f.svc.Start(context.Background()))
	defer f.svc.Stop()

	require.NoError(t, f.svc.Delete(context.Background(), "s1/n3"))

	assert.Len(t, f.svc.Feed(), 3)
	assert.Equal(t, 2, f.svc.UnreadCount())
	assert.Equal(t, 2, f.slot(t))
}

func TestDeletedEntryStaysHiddenWhenReemitted(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	seed(f)
	require.NoError(t, f.svc.Start(context.Background()))
	defer f.svc.Stop()

	require.NoError(t, f.svc.Delete(context.Background(), "s1/n2"))
	f.channel.Put(models.RawNotification{ID: "n2", StudentID: "s1", Type: "teacher_message", Message: "Bring crayons", StudentName: "Ana", Timestamp: 2000})

	_, ok := f.entry("s1/n2")
	assert.False(t, ok)
}

func TestDeleteActivityIsLocalOnly(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	seed(f)
	require.NoError(t, f.svc.Start(context.Background()))
	defer f.svc.Stop()

	require.NoError(t, f.svc.Delete(context.Background(), "activity:a1"))

	_, ok := f.entry("activity:a1")
	assert.False(t, ok)
	remote, local := f.store.Deleted()
	assert.False(t, remote.Has("activity:a1"))
	assert.True(t, local.Has("activity:a1"))
	assert.Equal(t, 2, f.svc.UnreadCount())
}

func TestRemoteDeleteFailureKeepsLocalDeletion(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	seed(f)
	require.NoError(t, f.svc.Start(context.Background()))
	defer f.svc.Stop()
	f.channel.set(false, true, false)

	err := f.svc.Delete(context.Background(), "s1/n1")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRemoteDelete))
	_, ok := f.entry("s1/n1")
	assert.False(t, ok)
	assert.Equal(t, 1, f.metrics.RemoteWriteFailures["delete"])
	assert.Equal(t, 1, f.slot(t))
}

func TestRemoteReadFailureRetriedOnNextAction(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	seed(f)
	require.NoError(t, f.svc.Start(context.Background()))
	defer f.svc.Stop()
	f.channel.set(true, false, false)

	require.NoError(t, f.svc.MarkRead(context.Background(), "s1/n1"))
	assert.Equal(t, []string{"s1/n1"}, f.svc.PendingReads())
	assert.Equal(t, 1, f.svc.UnreadCount(), "local read stands")

	f.channel.set(false, false, false)
	_, err := f.svc.MarkAllRead(context.Background())
	require.NoError(t, err)

	assert.Empty(t, f.svc.PendingReads())
	assert.Equal(t, 1, f.metrics.RemoteWriteFailures["read"])
}

func TestUnknownEntry(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	require.NoError(t, f.svc.Start(context.Background()))
	defer f.svc.Stop()

	assert.ErrorIs(t, f.svc.MarkRead(context.Background(), "s1/missing"), ErrUnknownEntry)
	assert.ErrorIs(t, f.svc.Delete(context.Background(), "s1/missing"), ErrUnknownEntry)
	assert.ErrorIs(t, f.svc.Open(context.Background(), "s1/missing"), ErrUnknownEntry)
}

func TestStopIgnoresLateSnapshots(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	seed(f)
	require.NoError(t, f.svc.Start(context.Background()))
	assert.Equal(t, 1, f.channel.Subscribers("s1"))

	f.svc.Stop()
	version := f.svc.Version()
	f.svc.OnNotifications("s1", nil)
	f.channel.Put(models.RawNotification{ID: "n9", StudentID: "s1", Type: "teacher_message", Message: "late", Timestamp: 9000})

	assert.Equal(t, 0, f.channel.Subscribers("s1"))
	assert.Equal(t, version, f.svc.Version())
	assert.Len(t, f.svc.Feed(), 4)
}

func TestRefreshGuardAndThrottle(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	seed(f)
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return now }

	ran, err := f.svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Len(t, f.svc.Feed(), 4)

	ran, err = f.svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, ran, "throttled")

	now = now.Add(4 * time.Second)
	f.svc.refreshing.Store(true)
	ran, _ = f.svc.Refresh(context.Background())
	assert.False(t, ran, "in flight")

	f.svc.refreshing.Store(false)
	ran, err = f.svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestRefreshKeepsLastFeedOnSourceError(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	seed(f)
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return now }

	_, err := f.svc.Refresh(context.Background())
	require.NoError(t, err)

	f.channel.set(false, false, true)
	now = now.Add(time.Minute)
	ran, err := f.svc.Refresh(context.Background())

	assert.True(t, ran)
	assert.ErrorIs(t, err, testutil.ErrInjected)
	assert.Len(t, f.svc.Feed(), 4)
	assert.Equal(t, 1, f.metrics.SourceErrors["notifications"])
	assert.True(t, f.logger.Contains("warn", "Refresh of s1 notifications failed"))
}

func TestRefreshDoesNotOverwriteNewerDelivery(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	seed(f)
	require.NoError(t, f.svc.Start(context.Background()))
	defer f.svc.Stop()

	f.channel.afterSnapshot = func() {
		f.channel.Put(models.RawNotification{ID: "n9", StudentID: "s1", Type: "teacher_message", Message: "Field trip", StudentName: "Ana", Timestamp: 9000})
	}
	ran, err := f.svc.Refresh(context.Background())
	require.NoError(t, err)
	require.True(t, ran)

	e, ok := f.entry("s1/n9")
	require.True(t, ok, "pushed entry survives the older refresh snapshot")
	assert.True(t, e.IsNew)
	assert.Len(t, f.svc.Feed(), 5)
	assert.True(t, f.logger.Contains("debug", "superseded by a newer delivery"))

	f.svc.MarkSeen("s1/n9")
	f.channel.Put(models.RawNotification{ID: "n10", StudentID: "s1", Type: "teacher_message", Message: "Snacks", StudentName: "Ana", Timestamp: 9500})
	e, _ = f.entry("s1/n9")
	assert.False(t, e.IsNew, "n9 is not flagged new a second time")
}

func TestFailedFirstRefreshClearsLoading(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	seed(f)
	f.channel.set(false, false, true)
	assert.True(t, f.svc.Loading())

	ran, err := f.svc.Refresh(context.Background())

	assert.True(t, ran)
	assert.Error(t, err)
	assert.False(t, f.svc.Loading())
	assert.Len(t, f.svc.Feed(), 1, "activities still load")
}

func TestNewFlagAfterBaselineAndOpen(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	seed(f)
	require.NoError(t, f.svc.Start(context.Background()))
	defer f.svc.Stop()

	for _, e := range f.svc.Feed() {
		assert.False(t, e.IsNew, "initial load only records the baseline: %s", e.Ref)
	}

	f.channel.Put(models.RawNotification{ID: "n4", StudentID: "s1", Type: "attendance_scan", Action: "Time Out", StudentName: "Ana", Timestamp: 5000})
	e, ok := f.entry("s1/n4")
	require.True(t, ok)
	assert.True(t, e.IsNew)
	assert.Equal(t, "s1/n4", f.svc.Feed()[0].Ref)

	require.NoError(t, f.svc.Open(context.Background(), "s1/n4"))
	e, _ = f.entry("s1/n4")
	assert.False(t, e.IsNew)
	assert.True(t, e.Read)
}

func TestNewHourlyReminderFlaggedNew(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	seed(f)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	f.channel.Put(models.RawNotification{ID: "h1", StudentID: "s1", Type: "hourly_reminder", StudentName: "Ana", Timestamp: models.TimestampOf(day.Add(13 * time.Hour))})
	require.NoError(t, f.svc.Start(context.Background()))
	defer f.svc.Stop()

	e, ok := f.entry("s1/h1")
	require.True(t, ok)
	assert.False(t, e.IsNew)

	f.channel.Put(models.RawNotification{ID: "h2", StudentID: "s1", Type: "hourly_reminder", StudentName: "Ana", Timestamp: models.TimestampOf(day.Add(14 * time.Hour))})

	_, ok = f.entry("s1/h1")
	assert.False(t, ok, "latest reminder replaces the earlier one")
	e, ok = f.entry("s1/h2")
	require.True(t, ok)
	assert.True(t, e.IsNew)
	assert.False(t, e.Read)
}

func TestSeenClearsNewWithoutReading(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	seed(f)
	require.NoError(t, f.svc.Start(context.Background()))
	defer f.svc.Stop()
	f.channel.Put(models.RawNotification{ID: "n4", StudentID: "s1", Type: "teacher_message", Message: "Field trip", Timestamp: 5000})

	f.svc.MarkSeen("s1/n4")

	e, ok := f.entry("s1/n4")
	require.True(t, ok)
	assert.False(t, e.IsNew)
	assert.False(t, e.Read)
	assert.Equal(t, 3, f.svc.UnreadCount())
}

func TestStateSurvivesRestart(t *testing.T) {
	kv := testutil.NewFlakyKV()
	channel := &flakyChannel{MemoryNotifications: sources.NewMemoryNotifications()}
	activities := sources.NewMemoryActivities()

	first := newFixture(t, kv, channel, activities)
	seed(first)
	require.NoError(t, first.svc.Start(context.Background()))
	channel.set(true, false, false)
	require.NoError(t, first.svc.MarkRead(context.Background(), "s1/n1"))
	require.NoError(t, first.svc.Delete(context.Background(), "s1/n2"))
	first.svc.Stop()

	second := newFixture(t, kv, channel, activities)
	require.NoError(t, second.svc.Start(context.Background()))
	defer second.svc.Stop()

	e, ok := second.entry("s1/n1")
	require.True(t, ok)
	assert.True(t, e.Read, "local read survives even though the remote never saw it")
	_, ok = second.entry("s1/n2")
	assert.False(t, ok)
	assert.Equal(t, 0, second.svc.UnreadCount())
	assert.Equal(t, 0, second.slot(t))
}

func TestStateWriteFailureReconciles(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	seed(f)
	require.NoError(t, f.svc.Start(context.Background()))
	defer f.svc.Stop()

	f.kv.SetFailing(true)
	require.NoError(t, f.svc.MarkRead(context.Background(), "s1/n2"))

	e, _ := f.entry("s1/n2")
	assert.True(t, e.Read)
	assert.True(t, f.store.Dirty())
	assert.Positive(t, f.metrics.StateWriteFailures)

	f.kv.SetFailing(false)
	require.NoError(t, f.store.Flush())
	assert.False(t, f.store.Dirty())
	raw, ok := f.kv.Value(state.KeyRead)
	require.True(t, ok)
	assert.Contains(t, raw, "s1/n2")
}

func TestDuplicateActivitySuppressed(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	f.channel.Put(models.RawNotification{ID: "n1", StudentID: "s1", Type: "attendance_scan", Action: "Time In", StudentName: "Ana", Timestamp: 1000})
	f.activities.Append("g1", models.RawActivity{ID: "a1", Type: "attendance", Action: "arrived", StudentName: "ana", Timestamp: 1000})
	require.NoError(t, f.svc.Start(context.Background()))
	defer f.svc.Stop()

	feed := f.svc.Feed()
	require.Len(t, feed, 1)
	assert.Equal(t, "s1/n1", feed[0].Ref)
	assert.Equal(t, 1, f.metrics.Duplicates["identity"])
}
