// Package state persists the per-item inbox state: which items were deleted,
// read or newly arrived, plus cached display labels. Every transition is
// written to the KV before memory changes; a failed write leaves the key
// dirty and is reconciled by the next successful write or Flush.
package state

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	json "github.com/goccy/go-json"

	"inboxd/internal/models"
	"inboxd/internal/providers"
)

const (
	KeyDeletedRemote = "deleted_remote"
	KeyDeletedLocal  = "deleted_local"
	KeyUnseenNew     = "unseen_new"
	KeyRead          = "read"
	KeyDisplayTime   = "display_time"
	KeyPreviousKeys  = "previous_keys"
)

const relativeLabelHorizon = 7 * 24 * time.Hour

type DisplayLabel struct {
	Label      string    `json:"label"`
	ComputedAt time.Time `json:"computedAt"`
}

type Store struct {
	mu      sync.Mutex
	kv      KV
	logger  providers.Logger
	metrics providers.MetricsProviderInterface

	deletedRemote models.RefSet
	deletedLocal  models.RefSet
	unseenNew     models.RefSet
	read          models.RefSet
	previousKeys  models.RefSet
	hasBaseline   bool
	displayTime   map[string]DisplayLabel
	displayTTL    time.Duration

	dirty map[string]bool
}

func NewStore(kv KV, displayTTL time.Duration, logger providers.Logger, metrics providers.MetricsProviderInterface) *Store {
	if displayTTL <= 0 {
		displayTTL = time.Minute
	}
	return &Store{
		kv:            kv,
		logger:        logger,
		metrics:       metrics,
		deletedRemote: models.NewRefSet(),
		deletedLocal:  models.NewRefSet(),
		unseenNew:     models.NewRefSet(),
		read:          models.NewRefSet(),
		previousKeys:  models.NewRefSet(),
		displayTime:   make(map[string]DisplayLabel),
		displayTTL:    displayTTL,
		dirty:         make(map[string]bool),
	}
}

// Load replaces the in-memory state with what the KV holds. Missing keys load
// as empty sets.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sets := []struct {
		key string
		dst *models.RefSet
	}{
		{KeyDeletedRemote, &s.deletedRemote},
		{KeyDeletedLocal, &s.deletedLocal},
		{KeyUnseenNew, &s.unseenNew},
		{KeyRead, &s.read},
	}
	for _, set := range sets {
		loaded, _, err := s.readSet(set.key)
		if err != nil {
			return err
		}
		*set.dst = loaded
	}

	prev, ok, err := s.readSet(KeyPreviousKeys)
	if err != nil {
		return err
	}
	s.previousKeys, s.hasBaseline = prev, ok

	labels := make(map[string]DisplayLabel)
	raw, ok, err := s.kv.Get(KeyDisplayTime)
	if err != nil {
		return fmt.Errorf("reading %s: %w", KeyDisplayTime, err)
	}
	if ok {
		if err := json.Unmarshal([]byte(raw), &labels); err != nil {
			return fmt.Errorf("decoding %s: %w", KeyDisplayTime, err)
		}
	}
	s.displayTime = labels
	s.dirty = make(map[string]bool)
	return nil
}

// Deleted returns copies of the remote and local deleted sets.
func (s *Store) Deleted() (remote, local models.RefSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletedRemote.Clone(), s.deletedLocal.Clone()
}

func (s *Store) IsRead(ref string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read.Has(ref)
}

func (s *Store) IsNew(ref string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unseenNew.Has(ref)
}

func (s *Store) IsDeleted(ref string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletedRemote.Has(ref) || s.deletedLocal.Has(ref)
}

// MarkSeen clears the new flag of refs.
func (s *Store) MarkSeen(refs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateSet(KeyUnseenNew, &s.unseenNew, false, func(set models.RefSet) {
		for _, r := range refs {
			delete(set, r)
		}
	})
}

// MarkRead records refs as read. Read implies seen.
func (s *Store) MarkRead(refs ...string) {
	if len(refs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateSet(KeyRead, &s.read, true, func(set models.RefSet) {
		for _, r := range refs {
			set[r] = struct{}{}
		}
	})
	s.updateSet(KeyUnseenNew, &s.unseenNew, false, func(set models.RefSet) {
		for _, r := range refs {
			delete(set, r)
		}
	})
}

// Delete marks ref as permanently removed. remote selects the notification
// set; activities are only ever hidden locally.
func (s *Store) Delete(ref string, remote bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if remote {
		s.updateSet(KeyDeletedRemote, &s.deletedRemote, true, func(set models.RefSet) {
			set[ref] = struct{}{}
		})
	} else {
		s.updateSet(KeyDeletedLocal, &s.deletedLocal, true, func(set models.RefSet) {
			set[ref] = struct{}{}
		})
	}
	s.updateSet(KeyUnseenNew, &s.unseenNew, false, func(set models.RefSet) {
		delete(set, ref)
	})
}

// ObserveKeys diffs the keys of the current pass against the previous one and
// flags refs whose key was absent as new. keys maps dedup key to ref. The
// first pass without a persisted baseline only records the baseline.
func (s *Store) ObserveKeys(keys map[string]string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(models.RefSet, len(keys))
	for k := range keys {
		current[k] = struct{}{}
	}

	var fresh []string
	if s.hasBaseline {
		for k, ref := range keys {
			if !s.previousKeys.Has(k) {
				fresh = append(fresh, ref)
			}
		}
		sort.Strings(fresh)
	}

	live := make(models.RefSet, len(keys))
	for _, ref := range keys {
		live[ref] = struct{}{}
	}
	s.updateSet(KeyUnseenNew, &s.unseenNew, false, func(set models.RefSet) {
		for _, ref := range fresh {
			set[ref] = struct{}{}
		}
		for ref := range set {
			if !live.Has(ref) {
				delete(set, ref)
			}
		}
	})

	if !s.hasBaseline || !sameSet(current, s.previousKeys) {
		_ = s.writeSet(KeyPreviousKeys, current)
		s.previousKeys = current
		s.hasBaseline = true
	}
	return fresh
}

// DisplayTimes returns a label for every ref in stamps, reusing a cached label
// until it is older than the display TTL. Labels of refs not in stamps are
// dropped.
func (s *Store) DisplayTimes(stamps map[string]models.Timestamp, now time.Time) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(stamps))
	next := make(map[string]DisplayLabel, len(stamps))
	changed := len(s.displayTime) != len(stamps)
	for ref, ts := range stamps {
		cached, ok := s.displayTime[ref]
		if ok && now.Sub(cached.ComputedAt) < s.displayTTL {
			next[ref] = cached
			out[ref] = cached.Label
			continue
		}
		label := FormatDisplayTime(ts, now)
		next[ref] = DisplayLabel{Label: label, ComputedAt: now}
		out[ref] = label
		changed = true
	}
	if changed {
		data, err := json.Marshal(next)
		if err == nil {
			_ = s.write(KeyDisplayTime, string(data))
		}
		s.displayTime = next
	}
	return out
}

// FormatDisplayTime renders a relative label for recent items and an absolute
// one for older items.
func FormatDisplayTime(ts models.Timestamp, now time.Time) string {
	if !ts.Valid() {
		return ""
	}
	t := ts.Time()
	if now.Sub(t) < relativeLabelHorizon {
		return humanize.RelTime(t, now, "ago", "from now")
	}
	return t.In(now.Location()).Format("Jan 2, 2006 3:04 PM")
}

// Flush writes every dirty key.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushDirty("")
}

func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dirty) > 0
}

// updateSet performs a read-modify-write of a whole persisted set. Grow-only
// sets merge the stored copy with memory so neither side can lose members.
func (s *Store) updateSet(key string, current *models.RefSet, growOnly bool, mutate func(models.RefSet)) {
	base := *current
	if !s.dirty[key] {
		stored, ok, err := s.readSet(key)
		if err != nil {
			s.logger.Warnf(providers.TypeAction, "read-modify-write of %s fell back to memory: %s", key, err)
		} else if ok {
			if growOnly {
				for r := range base {
					stored[r] = struct{}{}
				}
			}
			base = stored
		}
	}
	next := base.Clone()
	mutate(next)
	_ = s.writeSet(key, next)
	*current = next
}

func (s *Store) readSet(key string) (models.RefSet, bool, error) {
	raw, ok, err := s.kv.Get(key)
	if err != nil {
		return models.NewRefSet(), false, fmt.Errorf("reading %s: %w", key, err)
	}
	if !ok {
		return models.NewRefSet(), false, nil
	}
	var refs []string
	if err := json.Unmarshal([]byte(raw), &refs); err != nil {
		return models.NewRefSet(), false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return models.NewRefSet(refs...), true, nil
}

func (s *Store) writeSet(key string, set models.RefSet) error {
	data, err := json.Marshal(sortedRefs(set))
	if err != nil {
		return err
	}
	return s.write(key, string(data))
}

func (s *Store) write(key, value string) error {
	start := time.Now()
	err := s.kv.Set(key, value)
	s.metrics.ObservePersistenceDuration(time.Since(start))
	if err != nil {
		s.dirty[key] = true
		s.metrics.IncStateWriteFailures()
		s.logger.Errorf(providers.TypeAction, "state write %s failed, keeping in memory: %s", key, err)
		return err
	}
	delete(s.dirty, key)
	if len(s.dirty) > 0 {
		_ = s.flushDirty(key)
	}
	return nil
}

// flushDirty rewrites dirty keys from memory, skipping the key just written.
func (s *Store) flushDirty(skip string) error {
	var firstErr error
	for key := range s.dirty {
		if key == skip {
			continue
		}
		value, err := s.encode(key)
		if err != nil {
			return err
		}
		if err := s.kv.Set(key, value); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("flushing %s: %w", key, err)
			}
			continue
		}
		delete(s.dirty, key)
	}
	return firstErr
}

func (s *Store) encode(key string) (string, error) {
	var v interface{}
	switch key {
	case KeyDeletedRemote:
		v = sortedRefs(s.deletedRemote)
	case KeyDeletedLocal:
		v = sortedRefs(s.deletedLocal)
	case KeyUnseenNew:
		v = sortedRefs(s.unseenNew)
	case KeyRead:
		v = sortedRefs(s.read)
	case KeyPreviousKeys:
		v = sortedRefs(s.previousKeys)
	case KeyDisplayTime:
		v = s.displayTime
	default:
		return "", fmt.Errorf("unknown state key %q", key)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func sortedRefs(set models.RefSet) []string {
	refs := make([]string, 0, len(set))
	for r := range set {
		refs = append(refs, r)
	}
	sort.Strings(refs)
	return refs
}

func sameSet(a, b models.RefSet) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b.Has(k) {
			return false
		}
	}
	return true
}
