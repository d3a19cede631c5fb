package rowcache

import "fmt"

// Observer receives structural and data change notifications from a
// RowCache. All ranges are inclusive.
type Observer interface {
	RowsAboutToBeInserted(first, last int)
	RowsInserted(first, last int)
	RowsAboutToBeRemoved(first, last int)
	RowsRemoved(first, last int)
	// RowsChanged reports changed data or a changed operation state, such
	// as a write turning pending or failed.
	RowsChanged(first, last int)
}

// NopObserver ignores all notifications. Embed it to implement only the
// notifications of interest.
type NopObserver struct{}

func (NopObserver) RowsAboutToBeInserted(first, last int) {}
func (NopObserver) RowsInserted(first, last int)          {}
func (NopObserver) RowsAboutToBeRemoved(first, last int)  {}
func (NopObserver) RowsRemoved(first, last int)           {}
func (NopObserver) RowsChanged(first, last int)           {}

// Notification is one call recorded by RecordingObserver.
type Notification struct {
	Kind  string
	First int
	Last  int
}

func (n Notification) String() string {
	return fmt.Sprintf("%s(%d,%d)", n.Kind, n.First, n.Last)
}

// Notification kinds.
const (
	NotifyAboutToInsert = "about-to-insert"
	NotifyInserted      = "inserted"
	NotifyAboutToRemove = "about-to-remove"
	NotifyRemoved       = "removed"
	NotifyChanged       = "changed"
)

// RecordingObserver keeps every notification it receives, in order.
type RecordingObserver struct {
	Notifications []Notification
}

func (r *RecordingObserver) add(kind string, first, last int) {
	r.Notifications = append(r.Notifications, Notification{Kind: kind, First: first, Last: last})
}

func (r *RecordingObserver) RowsAboutToBeInserted(first, last int) {
	r.add(NotifyAboutToInsert, first, last)
}

func (r *RecordingObserver) RowsInserted(first, last int) {
	r.add(NotifyInserted, first, last)
}

func (r *RecordingObserver) RowsAboutToBeRemoved(first, last int) {
	r.add(NotifyAboutToRemove, first, last)
}

func (r *RecordingObserver) RowsRemoved(first, last int) {
	r.add(NotifyRemoved, first, last)
}

func (r *RecordingObserver) RowsChanged(first, last int) {
	r.add(NotifyChanged, first, last)
}

// Reset forgets the recorded notifications.
func (r *RecordingObserver) Reset() {
	r.Notifications = nil
}
