// Package memory provides an in-process implementation of repository.EntityStore
// used by tests and by the memory store driver.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"doccontrol/internal/repository"
)

// Store keeps every record as encoded JSON so callers never share memory with it.
// It is safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	data map[repository.Collection]map[string][]byte
}

var _ repository.EntityStore = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{data: make(map[repository.Collection]map[string][]byte)}
}

func (s *Store) Get(_ context.Context, c repository.Collection, key string, out any) error {
	s.mu.RLock()
	raw, ok := s.data[c][key]
	s.mu.RUnlock()
	if !ok {
		return repository.ErrNotFound
	}
	return json.Unmarshal(raw, out)
}

func (s *Store) Put(_ context.Context, c repository.Collection, key string, record any) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(c, key, raw)
	return nil
}

func (s *Store) Create(_ context.Context, c repository.Collection, key string, record any) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(c, key, raw)
}

func (s *Store) Delete(_ context.Context, c repository.Collection, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(c, key, nil)
}

func (s *Store) Query(_ context.Context, c repository.Collection, q repository.Query, out any) error {
	where, err := normalize(q.Where)
	if err != nil {
		return err
	}

	s.mu.RLock()
	keys := make([]string, 0, len(s.data[c]))
	for k := range s.data[c] {
		if strings.HasPrefix(k, q.Prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('[')
	n := 0
	for _, k := range keys {
		raw := s.data[c][k]
		if q.Where != nil {
			var doc any
			if err := json.Unmarshal(raw, &doc); err != nil {
				s.mu.RUnlock()
				return fmt.Errorf("decode record %s: %w", k, err)
			}
			if !contains(doc, where) {
				continue
			}
		}
		if n > 0 {
			buf.WriteByte(',')
		}
		buf.Write(raw)
		n++
	}
	s.mu.RUnlock()
	buf.WriteByte(']')

	return json.Unmarshal(buf.Bytes(), out)
}

func (s *Store) AppendToArray(_ context.Context, c repository.Collection, key, field string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(c, key, field, value)
}

func (s *Store) RemoveFromArray(_ context.Context, c repository.Collection, key, field string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(c, key, field, value)
}

// BatchWrite applies all ops under one lock and restores the touched records if
// any op fails, so a failed batch is never partially visible.
func (s *Store) BatchWrite(_ context.Context, ops []repository.Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	type saved struct {
		raw    []byte
		exists bool
	}
	snapshot := make(map[repository.Collection]map[string]saved)
	for _, op := range ops {
		if snapshot[op.Collection] == nil {
			snapshot[op.Collection] = make(map[string]saved)
		}
		if _, seen := snapshot[op.Collection][op.Key]; seen {
			continue
		}
		raw, ok := s.data[op.Collection][op.Key]
		snapshot[op.Collection][op.Key] = saved{raw: raw, exists: ok}
	}

	for i, op := range ops {
		if err := s.applyLocked(op); err != nil {
			for c, keys := range snapshot {
				for k, sv := range keys {
					if sv.exists {
						s.setLocked(c, k, sv.raw)
					} else {
						delete(s.data[c], k)
					}
				}
			}
			return &repository.BatchError{Index: i, Applied: 0, Op: op, Err: err}
		}
	}
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) applyLocked(op repository.Op) error {
	switch op.Kind {
	case repository.OpPut:
		raw, err := json.Marshal(op.Record)
		if err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
		if op.Expect != nil {
			if err := s.checkLocked(op.Collection, op.Key, op.Expect); err != nil {
				return err
			}
		}
		s.setLocked(op.Collection, op.Key, raw)
		return nil
	case repository.OpCreate:
		raw, err := json.Marshal(op.Record)
		if err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
		return s.createLocked(op.Collection, op.Key, raw)
	case repository.OpDelete:
		return s.deleteLocked(op.Collection, op.Key, op.Expect)
	case repository.OpPatch:
		return s.patchLocked(op.Collection, op.Key, op.Record, op.Expect)
	case repository.OpAppend:
		return s.appendLocked(op.Collection, op.Key, op.Field, op.Value)
	case repository.OpRemove:
		return s.removeLocked(op.Collection, op.Key, op.Field, op.Value)
	default:
		return fmt.Errorf("unknown op kind %q", op.Kind)
	}
}

func (s *Store) setLocked(c repository.Collection, key string, raw []byte) {
	if s.data[c] == nil {
		s.data[c] = make(map[string][]byte)
	}
	s.data[c][key] = raw
}

func (s *Store) createLocked(c repository.Collection, key string, raw []byte) error {
	if _, ok := s.data[c][key]; ok {
		return repository.ErrAlreadyExists
	}
	s.setLocked(c, key, raw)
	return nil
}

func (s *Store) deleteLocked(c repository.Collection, key string, expect map[string]any) error {
	if _, ok := s.data[c][key]; !ok {
		if expect != nil {
			return repository.ErrPreconditionFailed
		}
		return repository.ErrNotFound
	}
	if expect != nil {
		if err := s.checkLocked(c, key, expect); err != nil {
			return err
		}
	}
	delete(s.data[c], key)
	return nil
}

func (s *Store) checkLocked(c repository.Collection, key string, expect map[string]any) error {
	raw, ok := s.data[c][key]
	if !ok {
		return repository.ErrPreconditionFailed
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	want, err := normalize(expect)
	if err != nil {
		return err
	}
	if !contains(doc, want) {
		return repository.ErrPreconditionFailed
	}
	return nil
}

func (s *Store) appendLocked(c repository.Collection, key, field string, value any) error {
	v, err := normalize(value)
	if err != nil {
		return err
	}
	rec, err := s.loadLocked(c, key)
	if err == repository.ErrNotFound {
		rec = map[string]any{}
	} else if err != nil {
		return err
	}
	arr, err := arrayField(rec, field)
	if err != nil {
		return err
	}
	for _, e := range arr {
		if reflect.DeepEqual(e, v) {
			return nil
		}
	}
	rec[field] = append(arr, v)
	return s.storeLocked(c, key, rec)
}

func (s *Store) removeLocked(c repository.Collection, key, field string, value any) error {
	v, err := normalize(value)
	if err != nil {
		return err
	}
	rec, err := s.loadLocked(c, key)
	if err != nil {
		return err
	}
	arr, err := arrayField(rec, field)
	if err != nil {
		return err
	}
	kept := make([]any, 0, len(arr))
	for _, e := range arr {
		if !reflect.DeepEqual(e, v) {
			kept = append(kept, e)
		}
	}
	rec[field] = kept
	return s.storeLocked(c, key, rec)
}

// patchLocked overwrites the top-level fields of the stored record with those of patch.
func (s *Store) patchLocked(c repository.Collection, key string, patch any, expect map[string]any) error {
	if expect != nil {
		if err := s.checkLocked(c, key, expect); err != nil {
			return err
		}
	}
	rec, err := s.loadLocked(c, key)
	if err != nil {
		return err
	}
	fields, err := normalize(patch)
	if err != nil {
		return err
	}
	m, ok := fields.(map[string]any)
	if !ok {
		return fmt.Errorf("patch for %s/%s is not an object", c, key)
	}
	for k, v := range m {
		rec[k] = v
	}
	return s.storeLocked(c, key, rec)
}

func (s *Store) loadLocked(c repository.Collection, key string) (map[string]any, error) {
	raw, ok := s.data[c][key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	var rec map[string]any
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if rec == nil {
		rec = map[string]any{}
	}
	return rec, nil
}

func (s *Store) storeLocked(c repository.Collection, key string, rec map[string]any) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	s.setLocked(c, key, raw)
	return nil
}

func arrayField(rec map[string]any, field string) ([]any, error) {
	cur, ok := rec[field]
	if !ok || cur == nil {
		return nil, nil
	}
	arr, ok := cur.([]any)
	if !ok {
		return nil, fmt.Errorf("field %q is not an array", field)
	}
	return arr, nil
}

// normalize round-trips v through JSON so it compares like stored data.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return out, nil
}

// contains mirrors Postgres jsonb @> semantics for decoded JSON values.
func contains(doc, sub any) bool {
	switch want := sub.(type) {
	case nil:
		return true
	case map[string]any:
		have, ok := doc.(map[string]any)
		if !ok {
			return false
		}
		for k, wv := range want {
			hv, ok := have[k]
			if !ok || !contains(hv, wv) {
				return false
			}
		}
		return true
	case []any:
		have, ok := doc.([]any)
		if !ok {
			return false
		}
		for _, we := range want {
			found := false
			for _, he := range have {
				if contains(he, we) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(doc, sub)
	}
}
