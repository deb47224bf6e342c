package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doccontrol/internal/model"
	"doccontrol/internal/repository"
)

func newMock(t *testing.T) (*EntityPostgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewEntityPostgres(db), mock
}

func TestEntityPostgres_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		repo, mock := newMock(t)
		rows := sqlmock.NewRows([]string{"data"}).
			AddRow([]byte(`{"file_name":"a.pdf","title":"Quarterly","status":"active"}`))
		mock.ExpectQuery("SELECT data FROM entities WHERE collection = (.+) AND key = (.+)").
			WithArgs("docs", "o1/a.pdf").
			WillReturnRows(rows)

		var doc model.Document
		err := repo.Get(ctx, repository.Documents, "o1/a.pdf", &doc)

		assert.NoError(t, err)
		assert.Equal(t, "Quarterly", doc.Title)
		assert.Equal(t, model.StatusActive, doc.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		repo, mock := newMock(t)
		mock.ExpectQuery("SELECT data FROM entities").
			WithArgs("docs", "o1/missing.pdf").
			WillReturnError(sql.ErrNoRows)

		var doc model.Document
		err := repo.Get(ctx, repository.Documents, "o1/missing.pdf", &doc)

		assert.ErrorIs(t, err, repository.ErrNotFound)
	})
}

func TestEntityPostgres_Put(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectExec("INSERT INTO entities (.+) ON CONFLICT \\(collection, key\\) DO UPDATE").
		WithArgs("org", "o1", `{"id":"o1","name":"Acme","description":"","members":null,"docs":null,"created_at":"0001-01-01T00:00:00Z"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Put(context.Background(), repository.Organizations, "o1", model.Organization{ID: "o1", Name: "Acme"})

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityPostgres_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("inserted", func(t *testing.T) {
		repo, mock := newMock(t)
		mock.ExpectExec("INSERT INTO entities (.+) DO NOTHING").
			WithArgs("docRequests", "o1/a.pdf", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.Create(ctx, repository.DocumentRequests, "o1/a.pdf", model.Document{FileName: "a.pdf"})
		assert.NoError(t, err)
	})

	t.Run("key taken", func(t *testing.T) {
		repo, mock := newMock(t)
		mock.ExpectExec("INSERT INTO entities (.+) DO NOTHING").
			WithArgs("docRequests", "o1/a.pdf", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.Create(ctx, repository.DocumentRequests, "o1/a.pdf", model.Document{FileName: "a.pdf"})
		assert.ErrorIs(t, err, repository.ErrAlreadyExists)
	})
}

func TestEntityPostgres_Delete(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectExec("DELETE FROM entities WHERE collection = (.+) AND key = (.+)").
		WithArgs("docs", "o1/a.pdf").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), repository.Documents, "o1/a.pdf")

	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityPostgres_Query(t *testing.T) {
	repo, mock := newMock(t)
	rows := sqlmock.NewRows([]string{"data"}).
		AddRow([]byte(`{"file_name":"a.pdf","status":"active"}`)).
		AddRow([]byte(`{"file_name":"b.pdf","status":"active"}`))
	mock.ExpectQuery("SELECT data FROM entities (.+) starts_with\\(key, \\$2\\) AND data @> \\$3::jsonb").
		WithArgs("docs", "o1/", `{"status":"active"}`).
		WillReturnRows(rows)

	var docs []model.Document
	err := repo.Query(context.Background(), repository.Documents, repository.Query{
		Prefix: "o1/",
		Where:  map[string]any{"status": "active"},
	}, &docs)

	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "b.pdf", docs[1].FileName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityPostgres_AppendToArray(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectExec("INSERT INTO entities (.+) jsonb_build_array").
		WithArgs("org", "o1", "members", `"u1"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.AppendToArray(context.Background(), repository.Organizations, "o1", "members", "u1")

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityPostgres_RemoveFromArray(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectExec("UPDATE entities (.+) jsonb_array_elements").
		WithArgs("docs", "o1/a.pdf", "favorited_by", `"u1"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.RemoveFromArray(context.Background(), repository.Documents, "o1/a.pdf", "favorited_by", "u1")

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityPostgres_BatchWrite(t *testing.T) {
	ctx := context.Background()
	ops := []repository.Op{
		{Kind: repository.OpDelete, Collection: repository.DocumentRequests, Key: "o1/a.pdf", Expect: map[string]any{"status": "pending"}},
		{Kind: repository.OpCreate, Collection: repository.Documents, Key: "o1/a.pdf", Record: model.Document{FileName: "a.pdf"}},
	}

	t.Run("commits", func(t *testing.T) {
		repo, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM entities (.+) data @>").
			WithArgs("docRequests", "o1/a.pdf", `{"status":"pending"}`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO entities (.+) DO NOTHING").
			WithArgs("docs", "o1/a.pdf", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		assert.NoError(t, repo.BatchWrite(ctx, ops))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("precondition failure rolls back", func(t *testing.T) {
		repo, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM entities (.+) data @>").
			WithArgs("docRequests", "o1/a.pdf", `{"status":"pending"}`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := repo.BatchWrite(ctx, ops)

		var batchErr *repository.BatchError
		require.True(t, errors.As(err, &batchErr))
		assert.Equal(t, 0, batchErr.Index)
		assert.Equal(t, 0, batchErr.Applied)
		assert.ErrorIs(t, err, repository.ErrPreconditionFailed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEntityPostgres_BatchPatch(t *testing.T) {
	ctx := context.Background()

	t.Run("conditional patch applied", func(t *testing.T) {
		repo, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE entities SET data = data \\|\\| \\$3::jsonb (.+) data @> \\$4::jsonb").
			WithArgs("docs", "o1/a.pdf", `{"revision":2,"title":"New"}`, `{"revision":1}`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := repo.BatchWrite(ctx, []repository.Op{{
			Kind:       repository.OpPatch,
			Collection: repository.Documents,
			Key:        "o1/a.pdf",
			Record:     map[string]any{"title": "New", "revision": 2},
			Expect:     map[string]any{"revision": 1},
		}})

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unconditional patch on missing record", func(t *testing.T) {
		repo, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE entities SET data = data \\|\\| \\$3::jsonb").
			WithArgs("docs", "o1/missing.pdf", `{"title":"X"}`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := repo.BatchWrite(ctx, []repository.Op{{
			Kind:       repository.OpPatch,
			Collection: repository.Documents,
			Key:        "o1/missing.pdf",
			Record:     map[string]any{"title": "X"},
		}})

		assert.ErrorIs(t, err, repository.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
