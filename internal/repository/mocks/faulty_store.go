package mocks

import (
	"context"
	"strings"
	"sync"

	"doccontrol/internal/repository"
)

// Fault makes matching calls of a FaultyStore fail with Err.
// Empty Method, Collection or KeyPrefix match anything. Times limits the
// number of failures; zero fails every matching call.
type Fault struct {
	Method     string
	Collection repository.Collection
	KeyPrefix  string
	Times      int
	Err        error

	hits int
}

// FaultyStore wraps a working EntityStore and injects failures into it.
type FaultyStore struct {
	repository.EntityStore

	mu     sync.Mutex
	faults []*Fault
	calls  map[string]int
}

// NewFaultyStore wraps inner.
func NewFaultyStore(inner repository.EntityStore) *FaultyStore {
	return &FaultyStore{EntityStore: inner, calls: make(map[string]int)}
}

// Inject adds a fault rule.
func (f *FaultyStore) Inject(fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = append(f.faults, &fault)
}

// Calls returns how many times method was called on collection c.
func (f *FaultyStore) Calls(method string, c repository.Collection) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method+" "+string(c)]
}

func (f *FaultyStore) check(method string, c repository.Collection, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method+" "+string(c)]++
	for _, ft := range f.faults {
		if ft.Method != "" && ft.Method != method {
			continue
		}
		if ft.Collection != "" && ft.Collection != c {
			continue
		}
		if !strings.HasPrefix(key, ft.KeyPrefix) {
			continue
		}
		if ft.Times > 0 && ft.hits >= ft.Times {
			continue
		}
		ft.hits++
		return ft.Err
	}
	return nil
}

func (f *FaultyStore) Get(ctx context.Context, c repository.Collection, key string, out any) error {
	if err := f.check("Get", c, key); err != nil {
		return err
	}
	return f.EntityStore.Get(ctx, c, key, out)
}

func (f *FaultyStore) Put(ctx context.Context, c repository.Collection, key string, record any) error {
	if err := f.check("Put", c, key); err != nil {
		return err
	}
	return f.EntityStore.Put(ctx, c, key, record)
}

func (f *FaultyStore) Create(ctx context.Context, c repository.Collection, key string, record any) error {
	if err := f.check("Create", c, key); err != nil {
		return err
	}
	return f.EntityStore.Create(ctx, c, key, record)
}

func (f *FaultyStore) Delete(ctx context.Context, c repository.Collection, key string) error {
	if err := f.check("Delete", c, key); err != nil {
		return err
	}
	return f.EntityStore.Delete(ctx, c, key)
}

func (f *FaultyStore) Query(ctx context.Context, c repository.Collection, q repository.Query, out any) error {
	if err := f.check("Query", c, q.Prefix); err != nil {
		return err
	}
	return f.EntityStore.Query(ctx, c, q, out)
}

func (f *FaultyStore) AppendToArray(ctx context.Context, c repository.Collection, key, field string, value any) error {
	if err := f.check("AppendToArray", c, key); err != nil {
		return err
	}
	return f.EntityStore.AppendToArray(ctx, c, key, field, value)
}

func (f *FaultyStore) RemoveFromArray(ctx context.Context, c repository.Collection, key, field string, value any) error {
	if err := f.check("RemoveFromArray", c, key); err != nil {
		return err
	}
	return f.EntityStore.RemoveFromArray(ctx, c, key, field, value)
}

// BatchWrite fails before applying anything when any op matches a fault.
func (f *FaultyStore) BatchWrite(ctx context.Context, ops []repository.Op) error {
	for i, op := range ops {
		if err := f.check("BatchWrite", op.Collection, op.Key); err != nil {
			return &repository.BatchError{Index: i, Applied: 0, Op: op, Err: err}
		}
	}
	return f.EntityStore.BatchWrite(ctx, ops)
}
