package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"

	"inboxd/internal/counter"
	"inboxd/internal/feed"
	"inboxd/internal/models"
	"inboxd/internal/providers"
	"inboxd/internal/sources"
	"inboxd/internal/state"
	"inboxd/internal/structures"
)

var (
	ErrUnknownEntry = errors.New("unknown feed entry")
	ErrRemoteDelete = errors.New("remote delete failed")
)

const defaultRefreshThrottle = 3 * time.Second

type InboxServiceInterface interface {
	Start(ctx context.Context) error
	Stop()
	Refresh(ctx context.Context) (bool, error)
	OnNotifications(studentID string, records []models.RawNotification)
	OnActivities(records []models.RawActivity)
	Open(ctx context.Context, ref string) error
	MarkSeen(refs ...string)
	MarkRead(ctx context.Context, ref string) error
	MarkAllRead(ctx context.Context) (int, error)
	Delete(ctx context.Context, ref string) error
	Feed() []models.FeedEntry
	Snapshot() FeedSnapshot
	UnreadCount() int
	Version() uint64
	Loading() bool
}

// FeedSnapshot is the feed together with the version and loading state it
// was published under.
type FeedSnapshot struct {
	Version uint64
	Loading bool
	Entries []models.FeedEntry
}

type remoteRef struct {
	studentID string
	id        string
}

// InboxService owns the merged feed. Every source update and user transition
// runs a full merge pass; passes are serialised by mu and never call out to
// the remote store, whose writes may re-enter through the subscriptions.
type InboxService struct {
	conf          *structures.Config
	logger        providers.Logger
	metrics       providers.MetricsProviderInterface
	store         *state.Store
	broadcaster   *counter.Broadcaster
	notifications sources.NotificationChannel
	activities    sources.ActivityLog
	window        feed.ReminderWindow
	throttle      time.Duration
	now           func() time.Time

	mu              sync.Mutex
	students        []string
	notifSnap       map[string][]models.RawNotification
	activitySnap    []models.RawActivity
	activitiesReady bool
	notifSeq        map[string]uint64
	activitySeq     uint64
	entries         []models.FeedEntry
	index           map[string]int

	pendingMu   sync.Mutex
	pendingRead map[string]remoteRef

	subsMu sync.Mutex
	subs   []sources.Subscription
	cancel context.CancelFunc

	alive       atomic.Bool
	generation  atomic.Uint64
	version     atomic.Uint64
	refreshing  atomic.Bool
	settled     atomic.Bool
	lastRefresh atomic.Int64
}

func NewInboxService(
	conf *structures.Config,
	logger providers.Logger,
	metrics providers.MetricsProviderInterface,
	store *state.Store,
	broadcaster *counter.Broadcaster,
	notifications sources.NotificationChannel,
	activities sources.ActivityLog,
) (InboxServiceInterface, error) {
	window, err := feed.NewReminderWindow(conf.Inbox.ReminderStart, conf.Inbox.ReminderEnd, conf.Inbox.Timezone)
	if err != nil {
		return nil, fmt.Errorf("reminder window: %w", err)
	}
	throttle := conf.Inbox.RefreshThrottle
	if throttle <= 0 {
		throttle = defaultRefreshThrottle
	}

	s := &InboxService{
		conf:          conf,
		logger:        logger,
		metrics:       metrics,
		store:         store,
		broadcaster:   broadcaster,
		notifications: notifications,
		activities:    activities,
		window:        window,
		throttle:      throttle,
		now:           time.Now,
		students:      append([]string(nil), conf.Remote.StudentIDs...),
		notifSnap:     make(map[string][]models.RawNotification),
		notifSeq:      make(map[string]uint64),
		index:         make(map[string]int),
		pendingRead:   make(map[string]remoteRef),
	}
	s.alive.Store(true)
	return s, nil
}

// Start subscribes every configured student channel and the guardian
// activity log. Callbacks from a previous Start are ignored.
func (s *InboxService) Start(ctx context.Context) error {
	s.Stop()
	s.alive.Store(true)
	gen := s.generation.Load()
	ctx, cancel := context.WithCancel(ctx)

	var subs []sources.Subscription
	release := func() {
		cancel()
		for _, sub := range subs {
			sub.Close()
		}
	}

	for _, sid := range s.conf.Remote.StudentIDs {
		studentID := sid
		sub, err := s.notifications.Subscribe(ctx, studentID, func(records []models.RawNotification) {
			if s.live(gen) {
				s.OnNotifications(studentID, records)
			}
		}, s.sourceError("notifications", gen))
		if err != nil {
			release()
			return fmt.Errorf("subscribe notifications for %s: %w", studentID, err)
		}
		subs = append(subs, sub)
	}

	sub, err := s.activities.Subscribe(ctx, s.conf.Remote.GuardianID, func(records []models.RawActivity) {
		if s.live(gen) {
			s.OnActivities(records)
		}
	}, s.sourceError("activities", gen))
	if err != nil {
		release()
		return fmt.Errorf("subscribe activities for %s: %w", s.conf.Remote.GuardianID, err)
	}
	subs = append(subs, sub)

	s.subsMu.Lock()
	s.subs = subs
	s.cancel = cancel
	s.subsMu.Unlock()

	s.logger.Infof(providers.TypeSource, "Subscribed to %d notification channels and the activity log", len(s.conf.Remote.StudentIDs))
	return nil
}

// Stop releases every subscription. Snapshots delivered afterwards are dropped.
func (s *InboxService) Stop() {
	s.alive.Store(false)
	s.generation.Inc()

	s.subsMu.Lock()
	subs, cancel := s.subs, s.cancel
	s.subs, s.cancel = nil, nil
	s.subsMu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	if cancel != nil {
		cancel()
	}
}

func (s *InboxService) live(gen uint64) bool {
	return s.alive.Load() && s.generation.Load() == gen
}

func (s *InboxService) sourceError(source string, gen uint64) sources.ErrorHandler {
	return func(err error) {
		if !s.live(gen) {
			return
		}
		s.metrics.IncSourceErrors(source)
		s.logger.Warnf(providers.TypeSource, "%s stream error, keeping last feed: %s", source, err)
	}
}

func (s *InboxService) OnNotifications(studentID string, records []models.RawNotification) {
	if !s.alive.Load() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setNotificationsLocked(studentID, records)
	s.rebuildLocked()
}

func (s *InboxService) OnActivities(records []models.RawActivity) {
	if !s.alive.Load() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setActivitiesLocked(records)
	s.rebuildLocked()
}

func (s *InboxService) setNotificationsLocked(studentID string, records []models.RawNotification) {
	if _, seen := s.notifSnap[studentID]; !seen && !containsString(s.students, studentID) {
		s.students = append(s.students, studentID)
	}
	snap := make([]models.RawNotification, len(records))
	copy(snap, records)
	for i := range snap {
		if snap[i].StudentID == "" {
			snap[i].StudentID = studentID
		}
	}
	s.notifSnap[studentID] = snap
	s.notifSeq[studentID]++
}

func (s *InboxService) setActivitiesLocked(records []models.RawActivity) {
	s.activitySnap = append([]models.RawActivity(nil), records...)
	s.activitiesReady = true
	s.activitySeq++
}

// readyLocked reports whether every source has delivered at least once.
func (s *InboxService) readyLocked() bool {
	if !s.activitiesReady {
		return false
	}
	for _, sid := range s.conf.Remote.StudentIDs {
		if _, ok := s.notifSnap[sid]; !ok {
			return false
		}
	}
	return true
}

// rebuildLocked runs one merge pass over the current snapshots and local state
// and publishes the counter.
func (s *InboxService) rebuildLocked() {
	start := time.Now()
	deletedRemote, deletedLocal := s.store.Deleted()

	var notifications []models.RawNotification
	for _, sid := range s.students {
		notifications = append(notifications, s.notifSnap[sid]...)
	}

	res := feed.Merge(feed.Input{
		Notifications: notifications,
		Activities:    s.activitySnap,
		DeletedRemote: deletedRemote,
		DeletedLocal:  deletedLocal,
		Window:        s.window,
	})

	ready := s.readyLocked()
	if ready {
		if fresh := s.store.ObserveKeys(res.Keys()); len(fresh) > 0 {
			s.logger.Infof(providers.TypeFeed, "%d new entries since last pass", len(fresh))
		}
	}

	stamps := make(map[string]models.Timestamp, len(res.Entries))
	for _, e := range res.Entries {
		stamps[e.Ref] = e.Timestamp
	}
	labels := s.store.DisplayTimes(stamps, s.now())

	index := make(map[string]int, len(res.Entries))
	for i := range res.Entries {
		e := &res.Entries[i]
		if !e.IsActivity && !e.Read && s.store.IsRead(e.Ref) {
			e.Read = true
		}
		e.IsNew = ready && s.store.IsNew(e.Ref)
		e.DisplayTime = labels[e.Ref]
		index[e.Ref] = i
	}
	s.entries = res.Entries
	s.index = index

	count := s.broadcaster.Publish(res.Entries)
	s.metrics.SetFeedSize(len(res.Entries))
	s.metrics.ObserveMergeDuration(time.Since(start))
	s.recordDuplicates(res.Duplicates)
	s.version.Inc()

	s.logger.Debugf(providers.TypeFeed, "Merge pass: %d entries, %d unread, %d deleted, %d rejected, %d suppressed",
		len(res.Entries), count, res.Deleted, res.Rejected, res.Suppressed)
}

func (s *InboxService) recordDuplicates(dups []feed.Duplicate) {
	if len(dups) == 0 {
		return
	}
	byRule := make(map[string]int)
	for _, d := range dups {
		byRule[d.Rule]++
		s.logger.Debugf(providers.TypeFeed, "Dropped %s duplicate %s, kept %s", d.Rule, d.Ref, d.KeptRef)
	}
	for rule, n := range byRule {
		s.metrics.AddDuplicatesDropped(rule, n)
	}
}

func (s *InboxService) rebuild() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebuildLocked()
}

// Refresh re-reads every source and runs one merge pass. It returns false
// without doing anything when a refresh is in flight or ran too recently.
// Sources that fail keep their last snapshot, and so do sources whose
// subscription delivered while the refresh was fetching.
func (s *InboxService) Refresh(ctx context.Context) (bool, error) {
	if !s.refreshing.CompareAndSwap(false, true) {
		return false, nil
	}
	defer s.refreshing.Store(false)

	now := s.now()
	if last := s.lastRefresh.Load(); last != 0 && now.Sub(time.Unix(0, last)) < s.throttle {
		return false, nil
	}
	s.lastRefresh.Store(now.UnixNano())
	gen := s.generation.Load()

	s.mu.Lock()
	notifSeq := make(map[string]uint64, len(s.notifSeq))
	for sid, seq := range s.notifSeq {
		notifSeq[sid] = seq
	}
	activitySeq := s.activitySeq
	s.mu.Unlock()

	var errs []error
	fetched := make(map[string][]models.RawNotification, len(s.conf.Remote.StudentIDs))
	for _, sid := range s.conf.Remote.StudentIDs {
		records, err := s.notifications.Snapshot(ctx, sid)
		if err != nil {
			s.metrics.IncSourceErrors("notifications")
			s.logger.Warnf(providers.TypeSource, "Refresh of %s notifications failed: %s", sid, err)
			errs = append(errs, fmt.Errorf("notifications %s: %w", sid, err))
			continue
		}
		fetched[sid] = records
	}
	activities, actErr := s.activities.Snapshot(ctx, s.conf.Remote.GuardianID)
	if actErr != nil {
		s.metrics.IncSourceErrors("activities")
		s.logger.Warnf(providers.TypeSource, "Refresh of activity log failed: %s", actErr)
		errs = append(errs, fmt.Errorf("activities: %w", actErr))
	}

	if !s.live(gen) {
		return false, nil
	}

	s.mu.Lock()
	for sid, records := range fetched {
		if s.notifSeq[sid] != notifSeq[sid] {
			s.logger.Debugf(providers.TypeSource, "Refresh of %s notifications superseded by a newer delivery", sid)
			continue
		}
		s.setNotificationsLocked(sid, records)
	}
	if actErr == nil {
		if s.activitySeq != activitySeq {
			s.logger.Debugf(providers.TypeSource, "Refresh of activity log superseded by a newer delivery")
		} else {
			s.setActivitiesLocked(activities)
		}
	}
	s.rebuildLocked()
	s.mu.Unlock()
	s.settled.Store(true)

	return true, errors.Join(errs...)
}

func (s *InboxService) lookup(ref string) (models.FeedEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[ref]
	if !ok {
		return models.FeedEntry{}, false
	}
	return s.entries[i], true
}

// Open marks an entry seen and read, the way tapping it does.
func (s *InboxService) Open(ctx context.Context, ref string) error {
	e, ok := s.lookup(ref)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntry, ref)
	}
	if e.IsActivity {
		s.MarkSeen(ref)
		s.retryPendingReads(ctx)
		return nil
	}
	return s.MarkRead(ctx, ref)
}

func (s *InboxService) MarkSeen(refs ...string) {
	if len(refs) == 0 {
		return
	}
	s.store.MarkSeen(refs...)
	s.rebuild()
}

// MarkRead records ref as read locally and mirrors the flag to the remote
// store. A failed mirror write is queued for the next user action.
func (s *InboxService) MarkRead(ctx context.Context, ref string) error {
	e, ok := s.lookup(ref)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntry, ref)
	}
	if e.IsActivity {
		s.MarkSeen(ref)
		s.retryPendingReads(ctx)
		return nil
	}

	s.store.MarkRead(ref)
	s.rebuild()
	s.logger.Infof(providers.TypeAction, "Marked %s read", ref)

	s.queueRead(ref, remoteRef{studentID: e.StudentID, id: e.ID})
	s.retryPendingReads(ctx)
	return nil
}

// MarkAllRead marks every unread notification read and returns how many
// changed.
func (s *InboxService) MarkAllRead(ctx context.Context) (int, error) {
	s.mu.Lock()
	var refs []string
	targets := make(map[string]remoteRef)
	for _, e := range s.entries {
		if e.IsActivity || e.Read {
			continue
		}
		refs = append(refs, e.Ref)
		targets[e.Ref] = remoteRef{studentID: e.StudentID, id: e.ID}
	}
	s.mu.Unlock()

	if len(refs) > 0 {
		s.store.MarkRead(refs...)
		s.rebuild()
		s.logger.Infof(providers.TypeAction, "Marked %d entries read", len(refs))
		for ref, target := range targets {
			s.queueRead(ref, target)
		}
	}
	s.retryPendingReads(ctx)
	return len(refs), nil
}

// Delete hides ref permanently. Notifications are also removed remotely; if
// that fails the local deletion stands and ErrRemoteDelete is returned.
func (s *InboxService) Delete(ctx context.Context, ref string) error {
	e, ok := s.lookup(ref)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntry, ref)
	}

	s.store.Delete(ref, !e.IsActivity)
	s.rebuild()
	s.logger.Infof(providers.TypeAction, "Deleted %s", ref)

	s.pendingMu.Lock()
	delete(s.pendingRead, ref)
	s.pendingMu.Unlock()
	s.retryPendingReads(ctx)

	if e.IsActivity {
		return nil
	}
	if err := s.notifications.Delete(ctx, e.StudentID, e.ID); err != nil {
		s.metrics.IncRemoteWriteFailures("delete")
		s.logger.Errorf(providers.TypeAction, "Remote delete of %s failed, hidden locally: %s", ref, err)
		return fmt.Errorf("%w: %s: %v", ErrRemoteDelete, ref, err)
	}
	return nil
}

func (s *InboxService) queueRead(ref string, target remoteRef) {
	s.pendingMu.Lock()
	s.pendingRead[ref] = target
	s.pendingMu.Unlock()
}

// retryPendingReads mirrors queued read flags. Refs that fail stay queued.
func (s *InboxService) retryPendingReads(ctx context.Context) {
	s.pendingMu.Lock()
	refs := make([]string, 0, len(s.pendingRead))
	for ref := range s.pendingRead {
		refs = append(refs, ref)
	}
	pending := make(map[string]remoteRef, len(s.pendingRead))
	for ref, target := range s.pendingRead {
		pending[ref] = target
	}
	s.pendingMu.Unlock()
	sort.Strings(refs)

	for _, ref := range refs {
		target := pending[ref]
		if err := s.notifications.MarkRead(ctx, target.studentID, target.id); err != nil {
			s.metrics.IncRemoteWriteFailures("read")
			s.logger.Warnf(providers.TypeAction, "Remote read of %s failed, will retry: %s", ref, err)
			continue
		}
		s.pendingMu.Lock()
		delete(s.pendingRead, ref)
		s.pendingMu.Unlock()
	}
}

// PendingReads returns the refs whose remote read flag is not yet mirrored.
func (s *InboxService) PendingReads() []string {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	refs := make([]string, 0, len(s.pendingRead))
	for ref := range s.pendingRead {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

func (s *InboxService) Feed() []models.FeedEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.FeedEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Snapshot returns the feed, its version and the loading state read under one
// lock, so the three always describe the same merge pass.
func (s *InboxService) Snapshot() FeedSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.FeedEntry, len(s.entries))
	copy(out, s.entries)
	return FeedSnapshot{
		Version: s.version.Load(),
		Loading: s.loadingLocked(),
		Entries: out,
	}
}

func (s *InboxService) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.UnreadCount(s.entries)
}

func (s *InboxService) Version() uint64 {
	return s.version.Load()
}

// Loading is true while a refresh is running and until either every source
// has delivered once or a refresh has completed, failed sources included.
func (s *InboxService) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadingLocked()
}

func (s *InboxService) loadingLocked() bool {
	if s.refreshing.Load() {
		return true
	}
	if s.settled.Load() {
		return false
	}
	return !s.readyLocked()
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
