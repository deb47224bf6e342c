package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"time"

	"github.com/google/uuid"

	"doccontrol/internal/apperr"
	"doccontrol/internal/lifecycle"
	"doccontrol/internal/model"
	"doccontrol/internal/repository"
	"doccontrol/internal/storage"
)

// DownloadExpiry is how long a presigned download link stays valid.
const DownloadExpiry = 15 * time.Minute

var (
	// ErrStorageDisabled is returned when a file operation needs object storage
	// and none is configured.
	ErrStorageDisabled = errors.New("object storage is not configured")
	// ErrNoFile is returned for downloads of documents submitted without a file.
	ErrNoFile = errors.New("document has no file")
)

// Upload is the file attached to a submission.
type Upload struct {
	Reader           io.Reader
	OriginalFilename string
	ContentType      string
	Size             int64
}

// SubmitInput is a document request together with its optional file.
type SubmitInput struct {
	lifecycle.SubmitRequest
	File *Upload
}

// DocumentListResult is the service-level DTO for paginated documents.
type DocumentListResult struct {
	Items []model.Document `json:"data"`
	Total int              `json:"total"`
}

// DocumentService defines the document use cases consumed by the HTTP layer.
// Transitions return the Outcome together with a PartialSuccessError when
// dependent steps stayed incomplete.
type DocumentService interface {
	// Submit uploads the file, if any, then files the request. The object is
	// removed again when the request cannot be filed.
	Submit(ctx context.Context, actor model.Actor, in SubmitInput) (*lifecycle.Outcome, error)

	Accept(ctx context.Context, actor model.Actor, req lifecycle.AcceptRequest) (*lifecycle.Outcome, error)
	Return(ctx context.Context, actor model.Actor, req lifecycle.ReturnRequest) (*lifecycle.Outcome, error)
	Modify(ctx context.Context, actor model.Actor, req lifecycle.ModifyRequest) (*lifecycle.Outcome, error)
	Delete(ctx context.Context, actor model.Actor, req lifecycle.DeleteRequest) (*lifecycle.Outcome, error)

	Favorite(ctx context.Context, actor model.Actor, ref model.DocumentRef) (*model.Document, error)
	Unfavorite(ctx context.Context, actor model.Actor, ref model.DocumentRef) (*model.Document, error)

	// ListDocuments returns the organization's active documents.
	ListDocuments(ctx context.Context, orgID string, limit, offset int) (*DocumentListResult, error)

	// ListRequests returns the organization's pending and returned requests.
	ListRequests(ctx context.Context, orgID string, status model.Status, limit, offset int) (*DocumentListResult, error)

	// Get returns a document, including deleted ones.
	Get(ctx context.Context, ref model.DocumentRef) (*model.Document, error)

	History(ctx context.Context, ref model.DocumentRef) ([]model.HistoryEntry, error)

	// DownloadURL returns a presigned link to the document's file.
	DownloadURL(ctx context.Context, ref model.DocumentRef) (string, error)
}

type documentService struct {
	machine *lifecycle.Machine
	store   repository.EntityStore
	files   storage.Storage
	logger  *slog.Logger
}

// NewDocumentService constructs a DocumentService. files may be nil, in which
// case submissions carry no file.
func NewDocumentService(machine *lifecycle.Machine, store repository.EntityStore, files storage.Storage, logger *slog.Logger) DocumentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &documentService{machine: machine, store: store, files: files, logger: logger}
}

func (s *documentService) Submit(ctx context.Context, actor model.Actor, in SubmitInput) (*lifecycle.Outcome, error) {
	req := in.SubmitRequest
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if in.File == nil {
		return s.machine.Submit(ctx, actor, req)
	}
	if in.File.Reader == nil {
		return nil, apperr.Validation("file reader is nil", nil)
	}
	if s.files == nil {
		return nil, ErrStorageDisabled
	}

	// Objects get a generated name so a rejected submission never touches the
	// file of an existing document with the same fileName.
	key := path.Join("documents", req.OrganizationID, uuid.NewString()+path.Ext(in.File.OriginalFilename))
	contentType := in.File.ContentType
	if contentType == "" {
		contentType = req.FileType
	}
	obj, err := s.files.Put(ctx, key, in.File.Reader, storage.PutObjectOptions{
		Size:        in.File.Size,
		ContentType: contentType,
		Metadata: map[string]string{
			"original-filename": in.File.OriginalFilename,
			"organization-id":   req.OrganizationID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("upload to storage: %w", err)
	}

	req.FileURL = obj.Key
	out, err := s.machine.Submit(ctx, actor, req)
	if err != nil && !errors.Is(err, apperr.ErrPartialSuccess) {
		if delErr := s.files.Delete(context.WithoutCancel(ctx), obj.Key); delErr != nil {
			s.logger.Error("rollback upload failed", "key", obj.Key, "error", delErr)
			return nil, fmt.Errorf("submit failed: %w; rollback delete failed: %v", err, delErr)
		}
		return nil, err
	}
	return out, err
}

func (s *documentService) Accept(ctx context.Context, actor model.Actor, req lifecycle.AcceptRequest) (*lifecycle.Outcome, error) {
	return s.machine.Accept(ctx, actor, req)
}

func (s *documentService) Return(ctx context.Context, actor model.Actor, req lifecycle.ReturnRequest) (*lifecycle.Outcome, error) {
	return s.machine.Return(ctx, actor, req)
}

func (s *documentService) Modify(ctx context.Context, actor model.Actor, req lifecycle.ModifyRequest) (*lifecycle.Outcome, error) {
	return s.machine.Modify(ctx, actor, req)
}

func (s *documentService) Delete(ctx context.Context, actor model.Actor, req lifecycle.DeleteRequest) (*lifecycle.Outcome, error) {
	return s.machine.Delete(ctx, actor, req)
}

func (s *documentService) Favorite(ctx context.Context, actor model.Actor, ref model.DocumentRef) (*model.Document, error) {
	return s.machine.Favorite(ctx, actor, ref)
}

func (s *documentService) Unfavorite(ctx context.Context, actor model.Actor, ref model.DocumentRef) (*model.Document, error) {
	return s.machine.Unfavorite(ctx, actor, ref)
}

func (s *documentService) ListDocuments(ctx context.Context, orgID string, limit, offset int) (*DocumentListResult, error) {
	if orgID == "" {
		return nil, apperr.Validation("organization id is required", nil)
	}
	q := repository.Query{
		Prefix: repository.OrgPrefix(orgID),
		Where:  map[string]any{"status": model.StatusActive},
	}
	return s.list(ctx, repository.Documents, q, limit, offset)
}

func (s *documentService) ListRequests(ctx context.Context, orgID string, status model.Status, limit, offset int) (*DocumentListResult, error) {
	if orgID == "" {
		return nil, apperr.Validation("organization id is required", nil)
	}
	q := repository.Query{Prefix: repository.OrgPrefix(orgID)}
	switch status {
	case "":
	case model.StatusPending, model.StatusReturned:
		q.Where = map[string]any{"status": status}
	default:
		return nil, apperr.Validation(fmt.Sprintf("unknown request status %q", status), nil)
	}
	return s.list(ctx, repository.DocumentRequests, q, limit, offset)
}

// list pages the query result, newest change first.
func (s *documentService) list(ctx context.Context, c repository.Collection, q repository.Query, limit, offset int) (*DocumentListResult, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}

	var items []model.Document
	if err := s.store.Query(ctx, c, q, &items); err != nil {
		return nil, fmt.Errorf("list %s: %w", c, err)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].UpdatedAt.After(items[j].UpdatedAt)
	})

	total := len(items)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return &DocumentListResult{Items: items[offset:end], Total: total}, nil
}

func (s *documentService) Get(ctx context.Context, ref model.DocumentRef) (*model.Document, error) {
	if ref.OrganizationID == "" || ref.FileName == "" {
		return nil, apperr.Validation("organization id and file name are required", nil)
	}
	key := repository.DocumentKey(ref)
	var doc model.Document
	err := s.store.Get(ctx, repository.Documents, key, &doc)
	if errors.Is(err, repository.ErrNotFound) {
		err = s.store.Get(ctx, repository.DocumentRequests, key, &doc)
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &apperr.NotFoundError{Resource: "document", Key: ref.FileName}
		}
		return nil, err
	}
	return &doc, nil
}

func (s *documentService) History(ctx context.Context, ref model.DocumentRef) ([]model.HistoryEntry, error) {
	if ref.OrganizationID == "" || ref.FileName == "" {
		return nil, apperr.Validation("organization id and file name are required", nil)
	}
	var h model.DocumentHistory
	if err := s.store.Get(ctx, repository.DocumentHistory, repository.DocumentKey(ref), &h); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &apperr.NotFoundError{Resource: "history", Key: ref.FileName}
		}
		return nil, err
	}
	return h.History, nil
}

func (s *documentService) DownloadURL(ctx context.Context, ref model.DocumentRef) (string, error) {
	if s.files == nil {
		return "", ErrStorageDisabled
	}
	doc, err := s.Get(ctx, ref)
	if err != nil {
		return "", err
	}
	if doc.Status == model.StatusDeleted {
		return "", &apperr.NotFoundError{Resource: "document", Key: ref.FileName}
	}
	if doc.FileURL == "" {
		return "", ErrNoFile
	}
	u, err := s.files.PresignGet(ctx, doc.FileURL, DownloadExpiry)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", doc.FileURL, err)
	}
	return u, nil
}
