package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"doccontrol/internal/lifecycle"
	"doccontrol/internal/model"
	"doccontrol/internal/service"
)

type MockDocumentService struct {
	mock.Mock
}

func outcome(args mock.Arguments) (*lifecycle.Outcome, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*lifecycle.Outcome), args.Error(1)
}

func document(args mock.Arguments) (*model.Document, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Document), args.Error(1)
}

func (m *MockDocumentService) Submit(ctx context.Context, actor model.Actor, in service.SubmitInput) (*lifecycle.Outcome, error) {
	return outcome(m.Called(ctx, actor, in))
}

func (m *MockDocumentService) Accept(ctx context.Context, actor model.Actor, req lifecycle.AcceptRequest) (*lifecycle.Outcome, error) {
	return outcome(m.Called(ctx, actor, req))
}

func (m *MockDocumentService) Return(ctx context.Context, actor model.Actor, req lifecycle.ReturnRequest) (*lifecycle.Outcome, error) {
	return outcome(m.Called(ctx, actor, req))
}

func (m *MockDocumentService) Modify(ctx context.Context, actor model.Actor, req lifecycle.ModifyRequest) (*lifecycle.Outcome, error) {
	return outcome(m.Called(ctx, actor, req))
}

func (m *MockDocumentService) Delete(ctx context.Context, actor model.Actor, req lifecycle.DeleteRequest) (*lifecycle.Outcome, error) {
	return outcome(m.Called(ctx, actor, req))
}

func (m *MockDocumentService) Favorite(ctx context.Context, actor model.Actor, ref model.DocumentRef) (*model.Document, error) {
	return document(m.Called(ctx, actor, ref))
}

func (m *MockDocumentService) Unfavorite(ctx context.Context, actor model.Actor, ref model.DocumentRef) (*model.Document, error) {
	return document(m.Called(ctx, actor, ref))
}

func (m *MockDocumentService) ListDocuments(ctx context.Context, orgID string, limit, offset int) (*service.DocumentListResult, error) {
	args := m.Called(ctx, orgID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.DocumentListResult), args.Error(1)
}

func (m *MockDocumentService) ListRequests(ctx context.Context, orgID string, status model.Status, limit, offset int) (*service.DocumentListResult, error) {
	args := m.Called(ctx, orgID, status, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.DocumentListResult), args.Error(1)
}

func (m *MockDocumentService) Get(ctx context.Context, ref model.DocumentRef) (*model.Document, error) {
	return document(m.Called(ctx, ref))
}

func (m *MockDocumentService) History(ctx context.Context, ref model.DocumentRef) ([]model.HistoryEntry, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.HistoryEntry), args.Error(1)
}

func (m *MockDocumentService) DownloadURL(ctx context.Context, ref model.DocumentRef) (string, error) {
	args := m.Called(ctx, ref)
	return args.String(0), args.Error(1)
}
