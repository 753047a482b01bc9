// Package ledger keeps the append-only, capped, versioned history of pipeline steps.
package ledger

import (
	"slices"
	"time"

	"github.com/esnunes/renderpilot/internal/models"

	"github.com/google/uuid"
)

// DefaultCap bounds the persisted history size.
const DefaultCap = 50

// Ledger is not safe for concurrent use; its owner serializes access.
type Ledger struct {
	cap     int
	next    int
	entries []models.Revision
	now     func() time.Time
}

func New(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &Ledger{cap: capacity, next: 1, now: time.Now}
}

// Append stamps the entry with a fresh id, the next version and the current time,
// then evicts from the head when the cap is exceeded. Survivors are never renumbered.
func (l *Ledger) Append(rev models.Revision) models.Revision {
	rev.ID = uuid.New().String()
	rev.Version = l.next
	rev.Timestamp = l.now()
	l.next++

	l.entries = append(l.entries, rev)
	if over := len(l.entries) - l.cap; over > 0 {
		l.entries = slices.Delete(l.entries, 0, over)
	}
	return rev
}

// Restore replaces the entries with persisted history. The next version continues
// from the highest surviving version.
func (l *Ledger) Restore(revs []models.Revision) {
	l.entries = slices.Clone(revs)
	if over := len(l.entries) - l.cap; over > 0 {
		l.entries = slices.Delete(l.entries, 0, over)
	}
	l.next = 1
	for _, r := range l.entries {
		if r.Version >= l.next {
			l.next = r.Version + 1
		}
	}
}

func (l *Ledger) Reset() {
	l.entries = nil
	l.next = 1
}

// NextVersion is the version the next appended entry will receive.
func (l *Ledger) NextVersion() int { return l.next }

func (l *Ledger) Len() int { return len(l.entries) }

// All returns a copy of the entries, oldest first.
func (l *Ledger) All() []models.Revision {
	return slices.Clone(l.entries)
}

func (l *Ledger) Get(id string) (models.Revision, bool) {
	if i := l.index(id); i >= 0 {
		return l.entries[i], true
	}
	return models.Revision{}, false
}

// ToggleConfirmed flips the confirmed gate. Unknown ids are ignored.
func (l *Ledger) ToggleConfirmed(id string) bool {
	return l.Update(id, func(r *models.Revision) { r.Confirmed = !r.Confirmed })
}

// Update applies fn to the entry in place. Identity fields are restored afterwards.
func (l *Ledger) Update(id string, fn func(*models.Revision)) bool {
	i := l.index(id)
	if i < 0 {
		return false
	}
	r := l.entries[i]
	fn(&r)
	r.ID, r.Version, r.Timestamp = l.entries[i].ID, l.entries[i].Version, l.entries[i].Timestamp
	l.entries[i] = r
	return true
}

// QueryByType returns entries of the given kinds, oldest first.
func (l *Ledger) QueryByType(kinds ...models.Kind) []models.Revision {
	var out []models.Revision
	for _, r := range l.entries {
		if slices.Contains(kinds, r.Kind()) {
			out = append(out, r)
		}
	}
	return out
}

// LatestMatching returns the newest entry satisfying pred.
func (l *Ledger) LatestMatching(pred func(models.Revision) bool) (models.Revision, bool) {
	for i := len(l.entries) - 1; i >= 0; i-- {
		if pred(l.entries[i]) {
			return l.entries[i], true
		}
	}
	return models.Revision{}, false
}

func (l *Ledger) index(id string) int {
	return slices.IndexFunc(l.entries, func(r models.Revision) bool { return r.ID == id })
}
