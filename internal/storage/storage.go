// Package storage provides the backing tables a row cache is synchronized
// with: a SQLite database holding one table per schema, a config.json per
// table and an append-only journal of synchronized changes.
package storage

import (
	"context"
	"iter"

	"github.com/user/rowcache/internal/model"
)

// FetchOptions configures which records Fetch yields.
type FetchOptions struct {
	// Offset skips the first N records.
	Offset int
	// Limit restricts the number of records (0 = no limit).
	Limit int
	// OrderBy is a user column to sort by (empty = insertion order).
	OrderBy string
	// Descending reverses the sort order.
	Descending bool
}

// Backend is the storage side of a cached table. Every call may block and
// is made from a sync worker, never from the goroutine owning the cache.
type Backend interface {
	// Fetch yields records one at a time. The sequence ends early with a
	// non-nil error if reading fails.
	Fetch(ctx context.Context, opts FetchOptions) iter.Seq2[*model.Record, error]
	Get(ctx context.Context, id string) (*model.Record, error)
	// Insert stores rec and returns it with storage-assigned values such
	// as the ID and timestamps filled in.
	Insert(ctx context.Context, rec *model.Record) (*model.Record, error)
	Update(ctx context.Context, rec *model.Record) (*model.Record, error)
	Delete(ctx context.Context, id string) error
	Close() error
}
