package repository

import (
	"context"
	"errors"
	"fmt"
)

// Collection names one logical collection of the entity store.
type Collection string

const (
	Organizations    Collection = "org"
	Documents        Collection = "docs"
	DocumentRequests Collection = "docRequests"
	FileNames        Collection = "fileNames"
	Memberships      Collection = "memberships"
	DocumentHistory  Collection = "docHistory"
	Notifications    Collection = "notifications"
	AuditLog         Collection = "history"
)

var (
	// ErrNotFound is returned when no record exists under the key.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists is returned by Create when the key is taken.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrPreconditionFailed is returned when an op's Expect does not match the stored record.
	ErrPreconditionFailed = errors.New("precondition failed")
)

// Query selects records of one collection.
// Prefix scopes by key prefix; Where is a JSON containment filter, so
// {"members": ["u1"]} matches records whose members array contains "u1".
type Query struct {
	Prefix string
	Where  map[string]any
}

// EntityStore is the narrow persistence capability the lifecycle engine consumes.
// Writes are atomic per record only; BatchWrite is a grouping, not a transaction.
type EntityStore interface {
	// Get decodes the record into out or returns ErrNotFound.
	Get(ctx context.Context, c Collection, key string, out any) error

	// Put creates or replaces the record.
	Put(ctx context.Context, c Collection, key string, record any) error

	// Create stores the record only if the key is free, else ErrAlreadyExists.
	Create(ctx context.Context, c Collection, key string, record any) error

	// Delete removes the record or returns ErrNotFound.
	Delete(ctx context.Context, c Collection, key string) error

	// Query decodes every matching record into out, which must point to a slice.
	// Records are returned in key order.
	Query(ctx context.Context, c Collection, q Query, out any) error

	// AppendToArray adds value to the array field unless an equal element is
	// already present. A missing record is created holding only that field.
	AppendToArray(ctx context.Context, c Collection, key, field string, value any) error

	// RemoveFromArray removes every element equal to value from the array field.
	RemoveFromArray(ctx context.Context, c Collection, key, field string, value any) error

	// BatchWrite applies ops in order and stops at the first failure,
	// returning a *BatchError. Callers must not assume atomicity.
	BatchWrite(ctx context.Context, ops []Op) error

	// Ping checks connectivity to the backing store.
	Ping(ctx context.Context) error
}

// OpKind is the kind of a batched write.
type OpKind string

const (
	OpPut    OpKind = "put"
	OpCreate OpKind = "create"
	OpDelete OpKind = "delete"
	OpPatch  OpKind = "patch"
	OpAppend OpKind = "append"
	OpRemove OpKind = "remove"
)

// Op is a single write inside a BatchWrite.
//
// For OpPut, OpPatch and OpDelete a non-nil Expect turns the write into a
// conditional write: the stored record must exist and contain Expect, otherwise
// the op fails with ErrPreconditionFailed. OpPatch merges the top-level fields
// of Record into the stored record and fails with ErrNotFound when there is
// none. Field and Value are used by OpAppend and OpRemove.
type Op struct {
	Kind       OpKind
	Collection Collection
	Key        string
	Record     any
	Expect     map[string]any
	Field      string
	Value      any
}

func (o Op) String() string {
	return fmt.Sprintf("%s %s/%s", o.Kind, o.Collection, o.Key)
}

// BatchError reports which op of a batch failed and how many ops had already
// been applied (and remain applied) when it did.
type BatchError struct {
	Index   int
	Applied int
	Op      Op
	Err     error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch op %d (%s) failed after %d applied: %v", e.Index, e.Op, e.Applied, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }
