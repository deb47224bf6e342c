//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"doccontrol/internal/database/migration"
	"doccontrol/internal/repository"
)

type record struct {
	Status  string   `json:"status"`
	Title   string   `json:"title,omitempty"`
	Members []string `json:"members,omitempty"`
}

func newContainerStore(t *testing.T) *EntityPostgres {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("doccontrol"),
		tcpostgres.WithUsername("doccontrol"),
		tcpostgres.WithPassword("doccontrol"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, migration.EnsureMigrated(ctx, db, nil, "testcontainer"))
	// A second run finds the sentinel table and does nothing.
	require.NoError(t, migration.EnsureMigrated(ctx, db, nil, "testcontainer"))

	return NewEntityPostgres(db)
}

func TestIntegration_EntityPostgres(t *testing.T) {
	store := newContainerStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	t.Run("crud", func(t *testing.T) {
		require.NoError(t, store.Ping(ctx))
		require.NoError(t, store.Create(ctx, repository.Organizations, "o1", record{Status: "active", Members: []string{"u1"}}))
		assert.ErrorIs(t, store.Create(ctx, repository.Organizations, "o1", record{}), repository.ErrAlreadyExists)

		var got record
		require.NoError(t, store.Get(ctx, repository.Organizations, "o1", &got))
		assert.Equal(t, []string{"u1"}, got.Members)

		require.NoError(t, store.AppendToArray(ctx, repository.Organizations, "o1", "members", "u2"))
		require.NoError(t, store.AppendToArray(ctx, repository.Organizations, "o1", "members", "u2"))
		require.NoError(t, store.Get(ctx, repository.Organizations, "o1", &got))
		assert.Equal(t, []string{"u1", "u2"}, got.Members)

		require.NoError(t, store.RemoveFromArray(ctx, repository.Organizations, "o1", "members", "u1"))
		require.NoError(t, store.Get(ctx, repository.Organizations, "o1", &got))
		assert.Equal(t, []string{"u2"}, got.Members)

		require.NoError(t, store.Delete(ctx, repository.Organizations, "o1"))
		assert.ErrorIs(t, store.Get(ctx, repository.Organizations, "o1", &got), repository.ErrNotFound)
	})

	t.Run("query by prefix and containment", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, repository.Documents, "o2/a.pdf", record{Status: "active"}))
		require.NoError(t, store.Put(ctx, repository.Documents, "o2/b.pdf", record{Status: "deleted"}))
		require.NoError(t, store.Put(ctx, repository.Documents, "o3/c.pdf", record{Status: "active"}))

		var got []record
		q := repository.Query{Prefix: "o2/", Where: map[string]any{"status": "active"}}
		require.NoError(t, store.Query(ctx, repository.Documents, q, &got))
		assert.Len(t, got, 1)
	})

	t.Run("failed batch leaves nothing behind", func(t *testing.T) {
		ops := []repository.Op{
			{Kind: repository.OpPut, Collection: repository.Documents, Key: "o4/x.pdf", Record: record{Status: "active"}},
			{Kind: repository.OpDelete, Collection: repository.DocumentRequests, Key: "o4/x.pdf", Expect: map[string]any{"status": "pending"}},
		}
		err := store.BatchWrite(ctx, ops)

		var batchErr *repository.BatchError
		require.True(t, errors.As(err, &batchErr))
		assert.Equal(t, 1, batchErr.Index)
		assert.ErrorIs(t, err, repository.ErrPreconditionFailed)

		var got record
		assert.ErrorIs(t, store.Get(ctx, repository.Documents, "o4/x.pdf", &got), repository.ErrNotFound)
	})

	t.Run("conditional delete has one winner", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, repository.DocumentRequests, "o5/race.pdf", record{Status: "pending"}))

		const racers = 6
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := store.BatchWrite(ctx, []repository.Op{
					{Kind: repository.OpDelete, Collection: repository.DocumentRequests, Key: "o5/race.pdf", Expect: map[string]any{"status": "pending"}},
					{Kind: repository.OpPut, Collection: repository.Documents, Key: "o5/race.pdf", Record: record{Status: "active"}},
				})
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("patch merges fields", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, repository.Documents, "o6/p.pdf", record{Status: "active", Title: "draft"}))
		err := store.BatchWrite(ctx, []repository.Op{{
			Kind:       repository.OpPatch,
			Collection: repository.Documents,
			Key:        "o6/p.pdf",
			Record:     map[string]any{"title": "final"},
			Expect:     map[string]any{"status": "active"},
		}})
		require.NoError(t, err)

		var got record
		require.NoError(t, store.Get(ctx, repository.Documents, "o6/p.pdf", &got))
		assert.Equal(t, "final", got.Title)
		assert.Equal(t, "active", got.Status)
	})
}
