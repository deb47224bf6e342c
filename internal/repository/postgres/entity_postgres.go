package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"doccontrol/internal/repository"
)

// EntityPostgres is a PostgreSQL implementation of repository.EntityStore.
// Every collection shares the entities table; records are JSONB documents and
// conditional writes use jsonb containment (@>).
type EntityPostgres struct {
	db *sql.DB
}

// NewEntityPostgres creates a new EntityPostgres store.
func NewEntityPostgres(db *sql.DB) *EntityPostgres {
	return &EntityPostgres{db: db}
}

var _ repository.EntityStore = (*EntityPostgres)(nil)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// arrayExpr yields the array stored under the field named by $3, or an empty
// array when the field is missing or JSON null.
const arrayExpr = `CASE WHEN jsonb_typeof(entities.data -> $3::text) = 'array' THEN entities.data -> $3::text ELSE '[]'::jsonb END`

const (
	qGet = `SELECT data FROM entities WHERE collection = $1 AND key = $2`

	qPut = `
		INSERT INTO entities (collection, key, data, updated_at)
		VALUES ($1, $2, $3::jsonb, now())
		ON CONFLICT (collection, key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`

	qPutIf = `
		UPDATE entities SET data = $3::jsonb, updated_at = now()
		WHERE collection = $1 AND key = $2 AND data @> $4::jsonb
	`

	qCreate = `
		INSERT INTO entities (collection, key, data, updated_at)
		VALUES ($1, $2, $3::jsonb, now())
		ON CONFLICT (collection, key) DO NOTHING
	`

	qDelete = `DELETE FROM entities WHERE collection = $1 AND key = $2`

	qDeleteIf = `DELETE FROM entities WHERE collection = $1 AND key = $2 AND data @> $3::jsonb`

	qPatch = `
		UPDATE entities SET data = data || $3::jsonb, updated_at = now()
		WHERE collection = $1 AND key = $2
	`

	qPatchIf = `
		UPDATE entities SET data = data || $3::jsonb, updated_at = now()
		WHERE collection = $1 AND key = $2 AND data @> $4::jsonb
	`

	qQuery = `
		SELECT data FROM entities
		WHERE collection = $1 AND starts_with(key, $2) AND data @> $3::jsonb
		ORDER BY key
	`

	qAppend = `
		INSERT INTO entities (collection, key, data, updated_at)
		VALUES ($1, $2, jsonb_build_object($3::text, jsonb_build_array($4::jsonb)), now())
		ON CONFLICT (collection, key) DO UPDATE
		SET data = jsonb_set(entities.data, ARRAY[$3::text], ` + arrayExpr + ` || jsonb_build_array($4::jsonb)),
			updated_at = now()
		WHERE NOT ` + arrayExpr + ` @> jsonb_build_array($4::jsonb)
	`

	qRemove = `
		UPDATE entities
		SET data = jsonb_set(entities.data, ARRAY[$3::text], COALESCE(
				(SELECT jsonb_agg(e) FROM jsonb_array_elements(` + arrayExpr + `) AS e WHERE e <> $4::jsonb),
				'[]'::jsonb)),
			updated_at = now()
		WHERE collection = $1 AND key = $2
	`
)

// Get fetches a single record and decodes it into out.
func (r *EntityPostgres) Get(ctx context.Context, c repository.Collection, key string, out any) error {
	var raw []byte
	if err := r.db.QueryRowContext(ctx, qGet, string(c), key).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return repository.ErrNotFound
		}
		return err
	}
	return json.Unmarshal(raw, out)
}

// Put upserts a record.
func (r *EntityPostgres) Put(ctx context.Context, c repository.Collection, key string, record any) error {
	return r.put(ctx, r.db, c, key, record, nil)
}

// Create inserts a record only when the key is free.
func (r *EntityPostgres) Create(ctx context.Context, c repository.Collection, key string, record any) error {
	return r.create(ctx, r.db, c, key, record)
}

// Delete removes a record.
func (r *EntityPostgres) Delete(ctx context.Context, c repository.Collection, key string) error {
	return r.delete(ctx, r.db, c, key, nil)
}

// Query returns every record in the collection matching the prefix and filter, in key order.
func (r *EntityPostgres) Query(ctx context.Context, c repository.Collection, q repository.Query, out any) error {
	where := []byte("{}")
	if q.Where != nil {
		b, err := json.Marshal(q.Where)
		if err != nil {
			return fmt.Errorf("encode filter: %w", err)
		}
		where = b
	}

	rows, err := r.db.QueryContext(ctx, qQuery, string(c), q.Prefix, string(where))
	if err != nil {
		return err
	}
	defer rows.Close()

	var buf bytes.Buffer
	buf.WriteByte('[')
	n := 0
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return err
		}
		if n > 0 {
			buf.WriteByte(',')
		}
		buf.Write(raw)
		n++
	}
	if err := rows.Err(); err != nil {
		return err
	}
	buf.WriteByte(']')

	return json.Unmarshal(buf.Bytes(), out)
}

// AppendToArray adds value to the array field unless already present, creating the record if needed.
func (r *EntityPostgres) AppendToArray(ctx context.Context, c repository.Collection, key, field string, value any) error {
	return r.appendTo(ctx, r.db, c, key, field, value)
}

// RemoveFromArray removes all elements equal to value from the array field.
func (r *EntityPostgres) RemoveFromArray(ctx context.Context, c repository.Collection, key, field string, value any) error {
	return r.remove(ctx, r.db, c, key, field, value)
}

// BatchWrite runs the ops inside one SQL transaction. On failure nothing is
// applied, which BatchError reports with Applied == 0.
func (r *EntityPostgres) BatchWrite(ctx context.Context, ops []repository.Op) error {
	if len(ops) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	for i, op := range ops {
		if err := r.apply(ctx, tx, op); err != nil {
			_ = tx.Rollback()
			return &repository.BatchError{Index: i, Applied: 0, Op: op, Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &repository.BatchError{Index: len(ops) - 1, Applied: 0, Op: ops[len(ops)-1], Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}

// Ping verifies database connectivity.
func (r *EntityPostgres) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *EntityPostgres) apply(ctx context.Context, ex execer, op repository.Op) error {
	switch op.Kind {
	case repository.OpPut:
		return r.put(ctx, ex, op.Collection, op.Key, op.Record, op.Expect)
	case repository.OpCreate:
		return r.create(ctx, ex, op.Collection, op.Key, op.Record)
	case repository.OpDelete:
		return r.delete(ctx, ex, op.Collection, op.Key, op.Expect)
	case repository.OpPatch:
		return r.patch(ctx, ex, op.Collection, op.Key, op.Record, op.Expect)
	case repository.OpAppend:
		return r.appendTo(ctx, ex, op.Collection, op.Key, op.Field, op.Value)
	case repository.OpRemove:
		return r.remove(ctx, ex, op.Collection, op.Key, op.Field, op.Value)
	default:
		return fmt.Errorf("unknown op kind %q", op.Kind)
	}
}

func (r *EntityPostgres) put(ctx context.Context, ex execer, c repository.Collection, key string, record any, expect map[string]any) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if expect == nil {
		_, err := ex.ExecContext(ctx, qPut, string(c), key, string(raw))
		return err
	}
	cond, err := json.Marshal(expect)
	if err != nil {
		return fmt.Errorf("encode precondition: %w", err)
	}
	res, err := ex.ExecContext(ctx, qPutIf, string(c), key, string(raw), string(cond))
	if err != nil {
		return err
	}
	return requireAffected(res, repository.ErrPreconditionFailed)
}

func (r *EntityPostgres) create(ctx context.Context, ex execer, c repository.Collection, key string, record any) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	res, err := ex.ExecContext(ctx, qCreate, string(c), key, string(raw))
	if err != nil {
		return err
	}
	return requireAffected(res, repository.ErrAlreadyExists)
}

func (r *EntityPostgres) delete(ctx context.Context, ex execer, c repository.Collection, key string, expect map[string]any) error {
	if expect == nil {
		res, err := ex.ExecContext(ctx, qDelete, string(c), key)
		if err != nil {
			return err
		}
		return requireAffected(res, repository.ErrNotFound)
	}
	cond, err := json.Marshal(expect)
	if err != nil {
		return fmt.Errorf("encode precondition: %w", err)
	}
	res, err := ex.ExecContext(ctx, qDeleteIf, string(c), key, string(cond))
	if err != nil {
		return err
	}
	return requireAffected(res, repository.ErrPreconditionFailed)
}

func (r *EntityPostgres) appendTo(ctx context.Context, ex execer, c repository.Collection, key, field string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}
	// Zero rows affected means the element was already present.
	_, err = ex.ExecContext(ctx, qAppend, string(c), key, field, string(raw))
	return err
}

func (r *EntityPostgres) patch(ctx context.Context, ex execer, c repository.Collection, key string, fields any, expect map[string]any) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode patch: %w", err)
	}
	if expect == nil {
		res, err := ex.ExecContext(ctx, qPatch, string(c), key, string(raw))
		if err != nil {
			return err
		}
		return requireAffected(res, repository.ErrNotFound)
	}
	cond, err := json.Marshal(expect)
	if err != nil {
		return fmt.Errorf("encode precondition: %w", err)
	}
	res, err := ex.ExecContext(ctx, qPatchIf, string(c), key, string(raw), string(cond))
	if err != nil {
		return err
	}
	return requireAffected(res, repository.ErrPreconditionFailed)
}

func (r *EntityPostgres) remove(ctx context.Context, ex execer, c repository.Collection, key, field string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}
	res, err := ex.ExecContext(ctx, qRemove, string(c), key, field, string(raw))
	if err != nil {
		return err
	}
	return requireAffected(res, repository.ErrNotFound)
}

func requireAffected(res sql.Result, none error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return none
	}
	return nil
}
