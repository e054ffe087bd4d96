package models

type Source string

const (
	SourceNotification Source = "notification"
	SourceActivity     Source = "activity"
)

// FeedEntry is the merged, classified shape rendered by display surfaces.
// It is recomputed on every merge pass and never persisted.
type FeedEntry struct {
	Ref         string    `json:"ref"`
	ID          string    `json:"id"`
	StudentID   string    `json:"studentId,omitempty"`
	Source      Source    `json:"source"`
	Type        string    `json:"type"`
	Action      string    `json:"action"`
	Status      string    `json:"status,omitempty"`
	StudentName string    `json:"studentName"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Timestamp   Timestamp `json:"timestamp"`
	DisplayTime string    `json:"displayTime"`
	Read        bool      `json:"read"`
	IsActivity  bool      `json:"isActivity"`
	IsNew       bool      `json:"isNew"`
	Key         string    `json:"-"`
}

// Content is the classifier output: display text plus the canonical type and
// action used for dedup.
type Content struct {
	Title  string
	Body   string
	Type   string
	Action string
}

// UnreadCount counts entries that are neither read nor activities.
func UnreadCount(entries []FeedEntry) int {
	n := 0
	for _, e := range entries {
		if !e.Read && !e.IsActivity {
			n++
		}
	}
	return n
}

// RefSet is a set of state identifiers.
type RefSet map[string]struct{}

func NewRefSet(refs ...string) RefSet {
	s := make(RefSet, len(refs))
	for _, r := range refs {
		s[r] = struct{}{}
	}
	return s
}

func (s RefSet) Has(ref string) bool {
	_, ok := s[ref]
	return ok
}

func (s RefSet) Clone() RefSet {
	c := make(RefSet, len(s))
	for r := range s {
		c[r] = struct{}{}
	}
	return c
}
