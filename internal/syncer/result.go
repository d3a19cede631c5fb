package syncer

import (
	"fmt"

	"github.com/user/rowcache/internal/model"
	"github.com/user/rowcache/internal/rowcache"
)

// Kind identifies the backend call a Result answers.
type Kind int

const (
	// KindFetched carries one record of a running fetch.
	KindFetched Kind = iota + 1
	// KindFetchDone ends a fetch; Err is set if it stopped early.
	KindFetchDone
	KindInserted
	KindUpdated
	KindDeleted
	KindRefreshed
)

var kindNames = map[Kind]string{
	KindFetched:   "fetch",
	KindFetchDone: "fetch",
	KindInserted:  "insert",
	KindUpdated:   "update",
	KindDeleted:   "delete",
	KindRefreshed: "refresh",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Result is the outcome of one backend call, delivered to the goroutine
// owning the cache. Writes are correlated by Transaction, reads of a single
// row by Task.
type Result struct {
	Kind        Kind
	Batch       string
	Transaction rowcache.Transaction
	Task        rowcache.Task
	// Record is the stored record for fetches, inserts, updates and
	// refreshes.
	Record *model.Record
	// ID is the record a delete removed.
	ID  string
	Err error
}
