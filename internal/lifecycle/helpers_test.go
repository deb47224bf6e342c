package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"doccontrol/internal/audit"
	"doccontrol/internal/model"
	"doccontrol/internal/notify"
	"doccontrol/internal/repository"
	"doccontrol/internal/repository/memory"
	"doccontrol/internal/repository/mocks"
	"doccontrol/internal/retry"
)

var (
	requester = model.Actor{UserID: "u1", DisplayName: "Uma"}
	reviewer  = model.Actor{UserID: "rev", DisplayName: "Rex"}
	fast      = retry.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
)

// tickingClock advances by one millisecond per reading so every call without
// an explicit timestamp gets a fresh marker.
type tickingClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

type harness struct {
	mem      *memory.Store
	store    *mocks.FaultyStore
	recorder *audit.Recorder
	machine  *Machine
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	mem := memory.New()
	store := mocks.NewFaultyStore(mem)
	return newHarnessOn(t, mem, store, opts...)
}

func newHarnessOn(t *testing.T, mem *memory.Store, store repository.EntityStore, opts ...Option) *harness {
	t.Helper()
	clock := &tickingClock{t: time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)}
	rec := audit.NewRecorder(store, nil)
	disp := notify.NewDispatcher(store, notify.WithRetryPolicy(fast))
	opts = append([]Option{WithClock(clock.Now), WithRetryPolicy(fast)}, opts...)

	require.NoError(t, mem.Put(context.Background(), repository.Organizations, "o1", model.Organization{
		ID:      "o1",
		Name:    "Acme",
		Members: []string{"u1", "u2", "u3", "rev"},
		Docs:    []string{},
	}))

	h := &harness{mem: mem, recorder: rec, machine: New(store, disp, rec, opts...)}
	if fs, ok := store.(*mocks.FaultyStore); ok {
		h.store = fs
	}
	return h
}

func (h *harness) submit(t *testing.T, fileName string) {
	t.Helper()
	_, err := h.machine.Submit(context.Background(), requester, SubmitRequest{
		OrganizationID: "o1",
		FileName:       fileName,
		Title:          "Quarterly report",
		Label:          model.LabelReport,
		Summary:        "Q2 numbers",
		FileType:       "application/pdf",
		FileURL:        "documents/" + fileName,
	})
	require.NoError(t, err)
}

// active submits, accepts and favorites a document.
func (h *harness) active(t *testing.T, fileName string, favoriters ...string) {
	t.Helper()
	ctx := context.Background()
	h.submit(t, fileName)
	_, err := h.machine.Accept(ctx, reviewer, AcceptRequest{OrganizationID: "o1", FileName: fileName})
	require.NoError(t, err)
	for _, uid := range favoriters {
		_, err := h.machine.Favorite(ctx, model.Actor{UserID: uid}, model.DocumentRef{OrganizationID: "o1", FileName: fileName})
		require.NoError(t, err)
	}
}

func key(fileName string) string {
	return repository.DocumentKey(model.DocumentRef{OrganizationID: "o1", FileName: fileName})
}

func (h *harness) request(t *testing.T, fileName string) (model.Document, bool) {
	t.Helper()
	var d model.Document
	err := h.mem.Get(context.Background(), repository.DocumentRequests, key(fileName), &d)
	if errors.Is(err, repository.ErrNotFound) {
		return d, false
	}
	require.NoError(t, err)
	return d, true
}

func (h *harness) document(t *testing.T, fileName string) (model.Document, bool) {
	t.Helper()
	var d model.Document
	err := h.mem.Get(context.Background(), repository.Documents, key(fileName), &d)
	if errors.Is(err, repository.ErrNotFound) {
		return d, false
	}
	require.NoError(t, err)
	return d, true
}

func (h *harness) history(t *testing.T, fileName string) []model.HistoryEntry {
	t.Helper()
	var hist model.DocumentHistory
	err := h.mem.Get(context.Background(), repository.DocumentHistory, key(fileName), &hist)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	require.NoError(t, err)
	return hist.History
}

func (h *harness) audits(t *testing.T, action model.Action) []model.AuditEntry {
	t.Helper()
	var all []model.AuditEntry
	require.NoError(t, h.mem.Query(context.Background(), repository.AuditLog, repository.Query{}, &all))
	var out []model.AuditEntry
	for _, e := range all {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func (h *harness) notifications(t *testing.T, userID string, action model.Action) []model.Notification {
	t.Helper()
	var all []model.Notification
	require.NoError(t, h.mem.Query(context.Background(), repository.Notifications, repository.Query{Prefix: repository.InboxPrefix(userID)}, &all))
	var out []model.Notification
	for _, n := range all {
		if n.Action == action {
			out = append(out, n)
		}
	}
	return out
}

// requireExclusive asserts the document lives in exactly one of the request
// queue and the document collection.
func (h *harness) requireExclusive(t *testing.T, fileName string) {
	t.Helper()
	_, inRequests := h.request(t, fileName)
	_, inDocuments := h.document(t, fileName)
	require.True(t, inRequests != inDocuments, "request=%v document=%v", inRequests, inDocuments)
}

// partialBatchStore applies only the first op of the next multi-op batch and
// reports the rest as failed, like a store without transactions would.
type partialBatchStore struct {
	repository.EntityStore
	armed bool
}

func (s *partialBatchStore) BatchWrite(ctx context.Context, ops []repository.Op) error {
	if !s.armed || len(ops) < 2 {
		return s.EntityStore.BatchWrite(ctx, ops)
	}
	s.armed = false
	if err := s.EntityStore.BatchWrite(ctx, ops[:1]); err != nil {
		return err
	}
	return &repository.BatchError{Index: 1, Applied: 1, Op: ops[1], Err: errors.New("connection reset")}
}

// cancelAfterWrite cancels the caller's context as soon as a batch commits.
type cancelAfterWrite struct {
	repository.EntityStore
	cancel context.CancelFunc
}

func (s *cancelAfterWrite) BatchWrite(ctx context.Context, ops []repository.Op) error {
	err := s.EntityStore.BatchWrite(ctx, ops)
	if err == nil && s.cancel != nil {
		s.cancel()
	}
	return err
}

// hookOnDocumentLookup runs hook once, right after the first Get on the
// document collection.
type hookOnDocumentLookup struct {
	repository.EntityStore
	once sync.Once
	hook func()
}

func (s *hookOnDocumentLookup) Get(ctx context.Context, c repository.Collection, key string, out any) error {
	err := s.EntityStore.Get(ctx, c, key, out)
	if c == repository.Documents {
		s.once.Do(s.hook)
	}
	return err
}
