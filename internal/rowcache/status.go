package rowcache

// RowStatus is everything the presentation layer needs to mark a row.
type RowStatus struct {
	Operation   Operation
	Transaction TransactionState
	TaskPending bool
	TaskFailed  bool
}

// Row markers returned by RowStatus.Marker.
const (
	MarkerInserted = "inserted"
	MarkerEdited   = "edited"
	MarkerDeleted  = "deleted"
	MarkerPending  = "pending"
	MarkerFailed   = "failed"
	MarkerLoading  = "loading"
)

// Marker returns a short label for the row, or "" for an unmodified row.
// Failures take precedence over in-flight work, which takes precedence
// over the pending operation.
func (s RowStatus) Marker() string {
	switch {
	case s.Transaction == TransactionFailed || s.TaskFailed:
		return MarkerFailed
	case s.Transaction == TransactionPending:
		return MarkerPending
	case s.TaskPending:
		return MarkerLoading
	}

	switch s.Operation {
	case OpInsert:
		return MarkerInserted
	case OpUpdate:
		return MarkerEdited
	case OpDelete, OpInsertDelete, OpUpdateDelete:
		return MarkerDeleted
	}
	return ""
}
