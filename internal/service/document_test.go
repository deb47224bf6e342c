package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"doccontrol/internal/apperr"
	"doccontrol/internal/audit"
	"doccontrol/internal/lifecycle"
	"doccontrol/internal/model"
	"doccontrol/internal/notify"
	"doccontrol/internal/repository"
	"doccontrol/internal/repository/memory"
	"doccontrol/internal/storage"
	storeMocks "doccontrol/internal/storage/mocks"
)

var (
	uma = model.Actor{UserID: "u1", DisplayName: "Uma"}
	rex = model.Actor{UserID: "rev", DisplayName: "Rex"}
)

func newMachine(t *testing.T) (*memory.Store, *lifecycle.Machine) {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.Put(context.Background(), repository.Organizations, "o1", model.Organization{
		ID:      "o1",
		Name:    "Acme",
		Members: []string{"u1", "u2", "rev"},
		Docs:    []string{},
	}))
	rec := audit.NewRecorder(store, nil)
	return store, lifecycle.New(store, notify.NewDispatcher(store), rec)
}

func submitRequest(fileName string) lifecycle.SubmitRequest {
	return lifecycle.SubmitRequest{
		OrganizationID: "o1",
		FileName:       fileName,
		Title:          "Invoice March",
		Label:          model.LabelInvoice,
		FileType:       "application/pdf",
	}
}

func TestDocumentService_Submit(t *testing.T) {
	ctx := context.Background()
	uploaded := func(ctx context.Context, key string, r io.Reader, opt storage.PutObjectOptions) storage.ObjectInfo {
		return storage.ObjectInfo{Key: key, Size: opt.Size, ContentType: opt.ContentType}
	}

	tests := []struct {
		name       string
		fileName   string
		file       func() *Upload
		setupMocks func(mStore *storeMocks.MockStorage)
		seed       func(t *testing.T, svc DocumentService)
		wantErr    error
		wantErrMsg string
		wantFile   bool
	}{
		{
			name:     "without file",
			fileName: "a.pdf",
		},
		{
			name:     "happy path",
			fileName: "a.pdf",
			file: func() *Upload {
				return &Upload{Reader: strings.NewReader("%PDF-1.7"), OriginalFilename: "march.pdf", Size: 8}
			},
			setupMocks: func(mStore *storeMocks.MockStorage) {
				mStore.On("Put", ctx, mock.MatchedBy(func(key string) bool {
					return strings.HasPrefix(key, "documents/o1/") && strings.HasSuffix(key, ".pdf")
				}), mock.Anything, mock.MatchedBy(func(opt storage.PutObjectOptions) bool {
					return opt.Size == 8 && opt.ContentType == "application/pdf" && opt.Metadata["original-filename"] == "march.pdf"
				})).Return(uploaded, nil)
			},
			wantFile: true,
		},
		{
			name:     "nil reader",
			fileName: "a.pdf",
			file:     func() *Upload { return &Upload{OriginalFilename: "march.pdf"} },
			wantErr:  apperr.ErrValidation,
		},
		{
			name:     "storage error",
			fileName: "a.pdf",
			file:     func() *Upload { return &Upload{Reader: strings.NewReader("x"), OriginalFilename: "x.pdf", Size: 1} },
			setupMocks: func(mStore *storeMocks.MockStorage) {
				mStore.On("Put", ctx, mock.Anything, mock.Anything, mock.Anything).
					Return(storage.ObjectInfo{}, errors.New("storage fail"))
			},
			wantErrMsg: "upload to storage: storage fail",
		},
		{
			name:     "rejected submission removes the upload",
			fileName: "a.pdf",
			file:     func() *Upload { return &Upload{Reader: strings.NewReader("x"), OriginalFilename: "x.pdf", Size: 1} },
			seed: func(t *testing.T, svc DocumentService) {
				_, err := svc.Submit(ctx, uma, SubmitInput{SubmitRequest: submitRequest("a.pdf")})
				require.NoError(t, err)
			},
			setupMocks: func(mStore *storeMocks.MockStorage) {
				mStore.On("Put", ctx, mock.Anything, mock.Anything, mock.Anything).Return(uploaded, nil)
				mStore.On("Delete", mock.Anything, mock.MatchedBy(func(key string) bool {
					return strings.HasPrefix(key, "documents/o1/")
				})).Return(nil)
			},
			wantErr: apperr.ErrConflict,
		},
		{
			name:     "rejected submission with failed rollback",
			fileName: "a.pdf",
			file:     func() *Upload { return &Upload{Reader: strings.NewReader("x"), OriginalFilename: "x.pdf", Size: 1} },
			seed: func(t *testing.T, svc DocumentService) {
				_, err := svc.Submit(ctx, uma, SubmitInput{SubmitRequest: submitRequest("a.pdf")})
				require.NoError(t, err)
			},
			setupMocks: func(mStore *storeMocks.MockStorage) {
				mStore.On("Put", ctx, mock.Anything, mock.Anything, mock.Anything).Return(uploaded, nil)
				mStore.On("Delete", mock.Anything, mock.Anything).Return(errors.New("delete fail"))
			},
			wantErrMsg: "rollback delete failed: delete fail",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mStore := new(storeMocks.MockStorage)
			if tt.setupMocks != nil {
				tt.setupMocks(mStore)
			}
			_, machine := newMachine(t)
			svc := NewDocumentService(machine, nil, mStore, nil)
			if tt.seed != nil {
				tt.seed(t, svc)
			}

			in := SubmitInput{SubmitRequest: submitRequest(tt.fileName)}
			if tt.file != nil {
				in.File = tt.file()
			}
			out, err := svc.Submit(ctx, uma, in)

			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.wantErrMsg != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErrMsg)
			default:
				require.NoError(t, err)
				assert.Equal(t, model.StatusPending, out.Document.Status)
				if tt.wantFile {
					assert.True(t, strings.HasPrefix(out.Document.FileURL, "documents/o1/"))
				} else {
					assert.Empty(t, out.Document.FileURL)
				}
			}
			mStore.AssertExpectations(t)
		})
	}
}

func TestDocumentService_SubmitWithoutStorage(t *testing.T) {
	_, machine := newMachine(t)
	svc := NewDocumentService(machine, nil, nil, nil)

	_, err := svc.Submit(context.Background(), uma, SubmitInput{
		SubmitRequest: submitRequest("a.pdf"),
		File:          &Upload{Reader: strings.NewReader("x")},
	})

	assert.ErrorIs(t, err, ErrStorageDisabled)
}

func TestDocumentService_Lists(t *testing.T) {
	ctx := context.Background()
	store, machine := newMachine(t)
	svc := NewDocumentService(machine, store, nil, nil)

	for _, name := range []string{"a.pdf", "b.pdf", "c.pdf", "d.pdf"} {
		_, err := svc.Submit(ctx, uma, SubmitInput{SubmitRequest: submitRequest(name)})
		require.NoError(t, err)
	}
	_, err := svc.Accept(ctx, rex, lifecycle.AcceptRequest{OrganizationID: "o1", FileName: "a.pdf"})
	require.NoError(t, err)
	_, err = svc.Accept(ctx, rex, lifecycle.AcceptRequest{OrganizationID: "o1", FileName: "b.pdf"})
	require.NoError(t, err)
	_, err = svc.Delete(ctx, rex, lifecycle.DeleteRequest{OrganizationID: "o1", FileName: "b.pdf"})
	require.NoError(t, err)
	_, err = svc.Return(ctx, rex, lifecycle.ReturnRequest{OrganizationID: "o1", FileName: "c.pdf", Note: "wrong month"})
	require.NoError(t, err)

	docs, err := svc.ListDocuments(ctx, "o1", 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, docs.Total)
	assert.Equal(t, "a.pdf", docs.Items[0].FileName)

	reqs, err := svc.ListRequests(ctx, "o1", "", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, reqs.Total)

	pending, err := svc.ListRequests(ctx, "o1", model.StatusPending, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, pending.Total)
	assert.Equal(t, "d.pdf", pending.Items[0].FileName)

	page, err := svc.ListRequests(ctx, "o1", "", 1, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Empty(t, page.Items)

	_, err = svc.ListRequests(ctx, "o1", model.StatusActive, 10, 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = svc.ListDocuments(ctx, "", 10, 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestDocumentService_GetAndHistory(t *testing.T) {
	ctx := context.Background()
	store, machine := newMachine(t)
	svc := NewDocumentService(machine, store, nil, nil)
	ref := model.DocumentRef{OrganizationID: "o1", FileName: "a.pdf"}

	_, err := svc.Submit(ctx, uma, SubmitInput{SubmitRequest: submitRequest("a.pdf")})
	require.NoError(t, err)

	doc, err := svc.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, doc.Status)

	_, err = svc.History(ctx, ref)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = svc.Accept(ctx, rex, lifecycle.AcceptRequest{OrganizationID: "o1", FileName: "a.pdf"})
	require.NoError(t, err)

	doc, err = svc.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, doc.Status)

	hist, err := svc.History(ctx, ref)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, model.ActionAccepted, hist[0].Action)

	_, err = svc.Get(ctx, model.DocumentRef{OrganizationID: "o1", FileName: "zzz.pdf"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = svc.Get(ctx, model.DocumentRef{OrganizationID: "o1"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestDocumentService_DownloadURL(t *testing.T) {
	ctx := context.Background()
	store, machine := newMachine(t)
	mStore := new(storeMocks.MockStorage)
	svc := NewDocumentService(machine, store, mStore, nil)

	mStore.On("Put", ctx, mock.Anything, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, key string, r io.Reader, opt storage.PutObjectOptions) storage.ObjectInfo {
			return storage.ObjectInfo{Key: key}
		}, nil)
	mStore.On("PresignGet", ctx, mock.MatchedBy(func(key string) bool {
		return strings.HasPrefix(key, "documents/o1/")
	}), DownloadExpiry).Return("https://files.example/signed", nil)

	req := submitRequest("a.pdf")
	_, err := svc.Submit(ctx, uma, SubmitInput{SubmitRequest: req, File: &Upload{Reader: strings.NewReader("x"), OriginalFilename: "a.pdf", Size: 1}})
	require.NoError(t, err)
	_, err = svc.Submit(ctx, uma, SubmitInput{SubmitRequest: submitRequest("b.pdf")})
	require.NoError(t, err)

	u, err := svc.DownloadURL(ctx, model.DocumentRef{OrganizationID: "o1", FileName: "a.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "https://files.example/signed", u)

	_, err = svc.DownloadURL(ctx, model.DocumentRef{OrganizationID: "o1", FileName: "b.pdf"})
	assert.ErrorIs(t, err, ErrNoFile)

	mStore.AssertExpectations(t)

	noFiles := NewDocumentService(machine, store, nil, nil)
	_, err = noFiles.DownloadURL(ctx, model.DocumentRef{OrganizationID: "o1", FileName: "a.pdf"})
	assert.ErrorIs(t, err, ErrStorageDisabled)
}

func TestDocumentService_Favorites(t *testing.T) {
	ctx := context.Background()
	store, machine := newMachine(t)
	svc := NewDocumentService(machine, store, nil, nil)
	ref := model.DocumentRef{OrganizationID: "o1", FileName: "a.pdf"}

	_, err := svc.Submit(ctx, uma, SubmitInput{SubmitRequest: submitRequest("a.pdf")})
	require.NoError(t, err)
	_, err = svc.Accept(ctx, rex, lifecycle.AcceptRequest{OrganizationID: "o1", FileName: "a.pdf"})
	require.NoError(t, err)

	doc, err := svc.Favorite(ctx, model.Actor{UserID: "u2"}, ref)
	require.NoError(t, err)
	assert.True(t, doc.IsFavoritedBy("u2"))

	out, err := svc.Modify(ctx, rex, lifecycle.ModifyRequest{
		OrganizationID: "o1",
		FileName:       "a.pdf",
		Version:        &model.DocumentVersion{Summary: "corrected totals"},
		RequestedAt:    time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, out.Notified)

	doc, err = svc.Unfavorite(ctx, model.Actor{UserID: "u2"}, ref)
	require.NoError(t, err)
	assert.Empty(t, doc.FavoritedBy)
}
