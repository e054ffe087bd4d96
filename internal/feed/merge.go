// Package feed merges the notification and activity streams into one
// deduplicated, newest-first feed.
package feed

import (
	"sort"

	"inboxd/internal/classifier"
	"inboxd/internal/models"
)

type Input struct {
	Notifications []models.RawNotification
	Activities    []models.RawActivity
	DeletedRemote models.RefSet
	DeletedLocal  models.RefSet
	Window        ReminderWindow
}

// Duplicate records an entry discarded by dedup. It is a trace, not an error.
type Duplicate struct {
	Ref     string
	KeptRef string
	Rule    string
}

type Result struct {
	Entries    []models.FeedEntry
	Duplicates []Duplicate
	Deleted    int
	Rejected   int
	Suppressed int
}

// Keys maps the identity key of every entry to its ref. A reminder that
// replaces an older instance under the same dedup key still gets a key of
// its own here.
func (r Result) Keys() map[string]string {
	keys := make(map[string]string, len(r.Entries))
	for i := range r.Entries {
		keys[IdentityKey(&r.Entries[i])] = r.Entries[i].Ref
	}
	return keys
}

type merger struct {
	in        Input
	pickedUp  map[string]struct{}
	completed map[string]struct{}
	index     map[string]int
	res       Result
}

// Merge runs one full pass over both snapshots. It does not retain or mutate
// its input and yields the same result for the same input.
func Merge(in Input) Result {
	m := &merger{
		in:    in,
		index: make(map[string]int, len(in.Notifications)+len(in.Activities)),
	}
	m.pickedUp, m.completed = m.completions()
	m.res.Entries = make([]models.FeedEntry, 0, len(in.Notifications)+len(in.Activities))

	// notifications first so a remote read flag wins over an activity copy
	for _, n := range in.Notifications {
		if in.DeletedRemote.Has(n.Ref()) {
			m.res.Deleted++
			continue
		}
		content, ok := classifier.Classify(n)
		if !ok {
			m.res.Rejected++
			continue
		}
		m.add(models.FeedEntry{
			Ref:         n.Ref(),
			ID:          n.ID,
			StudentID:   n.StudentID,
			Source:      models.SourceNotification,
			Type:        content.Type,
			Action:      content.Action,
			Status:      n.Status,
			StudentName: n.StudentName,
			Title:       content.Title,
			Body:        content.Body,
			Timestamp:   n.Timestamp,
			Read:        n.Read,
		})
	}
	for _, a := range in.Activities {
		if in.DeletedLocal.Has(a.Ref()) {
			m.res.Deleted++
			continue
		}
		content, ok := classifier.ClassifyActivity(a)
		if !ok {
			m.res.Rejected++
			continue
		}
		m.add(models.FeedEntry{
			Ref:         a.Ref(),
			ID:          a.ID,
			Source:      models.SourceActivity,
			Type:        content.Type,
			Action:      content.Action,
			Status:      a.Status,
			StudentName: a.StudentName,
			Title:       content.Title,
			Body:        content.Body,
			Timestamp:   a.Timestamp,
			Read:        true,
			IsActivity:  true,
		})
	}

	sort.SliceStable(m.res.Entries, func(i, j int) bool {
		a, b := m.res.Entries[i].Timestamp, m.res.Entries[j].Timestamp
		if a.Valid() != b.Valid() {
			return a.Valid()
		}
		return a > b
	})
	return m.res
}

func (m *merger) add(e models.FeedEntry) {
	if classifier.IsReminder(e.Type) && !m.admitReminder(&e) {
		m.res.Suppressed++
		return
	}

	rule := ruleFor(e.Type)
	e.Key = rule.key(&e)
	idx, exists := m.index[e.Key]
	if !exists {
		m.index[e.Key] = len(m.res.Entries)
		m.res.Entries = append(m.res.Entries, e)
		return
	}

	kept := &m.res.Entries[idx]
	if rule.policy == LatestWins && e.Timestamp > kept.Timestamp {
		m.res.Duplicates = append(m.res.Duplicates, Duplicate{Ref: kept.Ref, KeptRef: e.Ref, Rule: rule.name})
		*kept = e
		return
	}
	m.res.Duplicates = append(m.res.Duplicates, Duplicate{Ref: e.Ref, KeptRef: kept.Ref, Rule: rule.name})
}

// admitReminder applies the reminder window and the pickup completion signals.
func (m *merger) admitReminder(e *models.FeedEntry) bool {
	if !e.Timestamp.Valid() {
		return false
	}
	if !m.in.Window.Contains(e.Timestamp.Time()) {
		return false
	}
	if classifier.IsPickedUp(e.Status) {
		return false
	}
	if _, done := m.completed[ReminderKey(e)]; done {
		return false
	}
	_, done := m.pickedUp[m.pickupKey(e.StudentName, e.Timestamp)]
	return !done
}

func (m *merger) pickupKey(name string, ts models.Timestamp) string {
	return normalizeName(name) + "\x1f" + m.in.Window.Day(ts.Time())
}

// completions indexes the pickup signals of both snapshots. pickedUp holds
// students with a recorded pickup per local day. completed holds the reminder
// keys that carried a picked up status at any time. Deleted records still
// count: hiding an item does not undo the pickup.
func (m *merger) completions() (pickedUp, completed map[string]struct{}) {
	pickedUp = make(map[string]struct{})
	completed = make(map[string]struct{})
	mark := func(content models.Content, status, name string, ts models.Timestamp) {
		switch {
		case classifier.IsReminder(content.Type):
			if classifier.IsPickedUp(status) {
				completed[ReminderKey(&models.FeedEntry{Type: content.Type, Action: content.Action, StudentName: name})] = struct{}{}
			}
		case content.Type == classifier.KindPickup:
			if ts.Valid() && content.Action == classifier.ActionPickedUp {
				pickedUp[m.pickupKey(name, ts)] = struct{}{}
			}
		}
	}
	for _, n := range m.in.Notifications {
		if content, ok := classifier.Classify(n); ok {
			mark(content, n.Status, n.StudentName, n.Timestamp)
		}
	}
	for _, a := range m.in.Activities {
		if content, ok := classifier.ClassifyActivity(a); ok {
			mark(content, a.Status, a.StudentName, a.Timestamp)
		}
	}
	return pickedUp, completed
}
