package syncer

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/user/rowcache/internal/model"
	"github.com/user/rowcache/internal/storage"
)

// fakeBackend is an in-memory Backend. Calls wait on gate when it is set,
// fail for the IDs in failIDs and panic for the keys in panics. Fetch
// panics under the key "fetch".
type fakeBackend struct {
	mu      sync.Mutex
	records []*model.Record
	nextID  int
	failIDs map[string]error
	panics  map[string]bool
	gate    chan struct{}
}

var _ storage.Backend = (*fakeBackend)(nil)

func newFakeBackend(names ...string) *fakeBackend {
	f := &fakeBackend{failIDs: make(map[string]error), panics: make(map[string]bool)}
	for _, n := range names {
		f.records = append(f.records, &model.Record{
			ID:     f.newID(),
			Fields: map[string]interface{}{"name": n},
		})
	}
	return f
}

func (f *fakeBackend) newID() string {
	f.nextID++
	return fmt.Sprintf("fk-%06d", f.nextID)
}

func (f *fakeBackend) wait(ctx context.Context) error {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeBackend) hold() {
	f.mu.Lock()
	f.gate = make(chan struct{})
	f.mu.Unlock()
}

func (f *fakeBackend) release() {
	f.mu.Lock()
	close(f.gate)
	f.gate = nil
	f.mu.Unlock()
}

func (f *fakeBackend) failOn(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failIDs, id)
		return
	}
	f.failIDs[id] = err
}

func (f *fakeBackend) panicOn(key string, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panics[key] = on
}

func (f *fakeBackend) mustNotPanic(key string) {
	f.mu.Lock()
	on := f.panics[key]
	f.mu.Unlock()
	if on {
		panic("fake backend: " + key)
	}
}

func (f *fakeBackend) index(id string) int {
	for i, r := range f.records {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func (f *fakeBackend) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.records {
		out = append(out, r.Fields["name"].(string))
	}
	return out
}

func (f *fakeBackend) Fetch(ctx context.Context, opts storage.FetchOptions) iter.Seq2[*model.Record, error] {
	return func(yield func(*model.Record, error) bool) {
		if err := f.wait(ctx); err != nil {
			yield(nil, err)
			return
		}
		f.mustNotPanic("fetch")
		f.mu.Lock()
		snapshot := make([]*model.Record, len(f.records))
		for i, r := range f.records {
			snapshot[i] = r.Clone()
		}
		f.mu.Unlock()

		for _, r := range snapshot {
			if !yield(r, nil) {
				return
			}
		}
	}
}

func (f *fakeBackend) Get(ctx context.Context, id string) (*model.Record, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failIDs[id]; err != nil {
		return nil, err
	}
	i := f.index(id)
	if i < 0 {
		return nil, model.ErrRecordNotFound
	}
	return f.records[i].Clone(), nil
}

func (f *fakeBackend) Insert(ctx context.Context, rec *model.Record) (*model.Record, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if name, ok := rec.Fields["name"].(string); ok {
		if err := f.failIDs[name]; err != nil {
			return nil, err
		}
	}
	stored := rec.Clone()
	stored.ID = f.newID()
	f.records = append(f.records, stored)
	return stored.Clone(), nil
}

func (f *fakeBackend) Update(ctx context.Context, rec *model.Record) (*model.Record, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mustNotPanic(rec.ID)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failIDs[rec.ID]; err != nil {
		return nil, err
	}
	i := f.index(rec.ID)
	if i < 0 {
		return nil, model.ErrRecordNotFound
	}
	f.records[i] = rec.Clone()
	return rec.Clone(), nil
}

func (f *fakeBackend) Delete(ctx context.Context, id string) error {
	if err := f.wait(ctx); err != nil {
		return err
	}
	f.mustNotPanic(id)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failIDs[id]; err != nil {
		return err
	}
	i := f.index(id)
	if i < 0 {
		return model.ErrRecordNotFound
	}
	f.records = append(f.records[:i], f.records[i+1:]...)
	return nil
}

func (f *fakeBackend) Close() error {
	return nil
}
