package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"doccontrol/internal/model"
	"doccontrol/internal/repository"
	"doccontrol/internal/repository/memory"
	"doccontrol/internal/repository/mocks"
)

type recordingSink struct {
	entries []model.AuditEntry
	err     error
}

func (s *recordingSink) Publish(_ context.Context, e model.AuditEntry) error {
	s.entries = append(s.entries, e)
	return s.err
}

func TestRecorder_Record(t *testing.T) {
	ctx := context.Background()

	t.Run("same id recorded twice keeps the first entry", func(t *testing.T) {
		sink := &recordingSink{}
		rec := NewRecorder(memory.New(), nil, sink)
		entry := model.AuditEntry{ID: "a1", Author: "Dana", Action: model.ActionAccepted, Target: "o1/a.pdf", Result: model.ResultPartial}

		require.NoError(t, rec.Record(ctx, entry))
		entry.Result = model.ResultSuccess
		entry.Author = "Eve"
		require.NoError(t, rec.Record(ctx, entry))

		got, err := rec.List(ctx, 0)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, model.ResultPartial, got[0].Result)
		assert.Equal(t, "Dana", got[0].Author)
		assert.Len(t, sink.entries, 1, "a repeated id is not mirrored again")
	})

	t.Run("generates id when empty", func(t *testing.T) {
		store := memory.New()
		rec := NewRecorder(store, nil)

		require.NoError(t, rec.Record(ctx, model.AuditEntry{Action: model.ActionOrgCreated}))

		got, err := rec.List(ctx, 0)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.NotEmpty(t, got[0].ID)
	})

	t.Run("sink failure is not returned", func(t *testing.T) {
		sink := &recordingSink{err: errors.New("broker down")}
		rec := NewRecorder(memory.New(), nil, sink)

		err := rec.Record(ctx, model.AuditEntry{ID: "a2", Action: model.ActionDeleted})

		assert.NoError(t, err)
		require.Len(t, sink.entries, 1)
		assert.Equal(t, "a2", sink.entries[0].ID)
	})

	t.Run("store failure is returned and sinks are skipped", func(t *testing.T) {
		store := new(mocks.MockEntityStore)
		store.On("Create", ctx, repository.AuditLog, "a3", mock.Anything).Return(errors.New("db down"))
		sink := &recordingSink{}
		rec := NewRecorder(store, nil, sink)

		err := rec.Record(ctx, model.AuditEntry{ID: "a3"})

		assert.ErrorContains(t, err, "db down")
		assert.Empty(t, sink.entries)
		store.AssertExpectations(t)
	})
}

func TestRecorder_List(t *testing.T) {
	ctx := context.Background()
	rec := NewRecorder(memory.New(), nil)
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"c", "a", "b"} {
		require.NoError(t, rec.Record(ctx, model.AuditEntry{ID: id, Timestamp: base.Add(time.Duration(i) * time.Minute)}))
	}

	got, err := rec.List(ctx, 2)

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
}

func TestNewKafkaSink_Validation(t *testing.T) {
	_, err := NewKafkaSink(nil, "audit")
	assert.Error(t, err)

	_, err = NewKafkaSink([]string{"127.0.0.1:9092"}, "")
	assert.Error(t, err)
}

func TestKafkaSink_PublishUnreachable(t *testing.T) {
	sink, err := NewKafkaSink([]string{"127.0.0.1:1"}, "audit")
	require.NoError(t, err)
	defer sink.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	assert.Error(t, sink.Publish(ctx, model.AuditEntry{ID: "x"}))
}
