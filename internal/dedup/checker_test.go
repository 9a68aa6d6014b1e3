package dedup

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-radar-service/internal/domain"
)

// ---------------------------------------------------------------------------
// Mock: KnowledgeStore
// ---------------------------------------------------------------------------

type mockKnowledgeStore struct {
	mock.Mock
}

func (m *mockKnowledgeStore) FindByExternalID(ctx context.Context, externalID string) (*domain.KnowledgeRecord, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.KnowledgeRecord), args.Error(1)
}

func (m *mockKnowledgeStore) FindByNormalizedTitle(ctx context.Context, title string) (*domain.KnowledgeRecord, error) {
	args := m.Called(ctx, title)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.KnowledgeRecord), args.Error(1)
}

// ---------------------------------------------------------------------------
// Mock: TaskStore
// ---------------------------------------------------------------------------

type mockTaskStore struct {
	mock.Mock
}

func (m *mockTaskStore) FindActiveByExternalID(ctx context.Context, externalID string) (*domain.Task, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Task), args.Error(1)
}

func (m *mockTaskStore) FindActiveByNormalizedTitle(ctx context.Context, title string) (*domain.Task, error) {
	args := m.Called(ctx, title)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Task), args.Error(1)
}

func (m *mockTaskStore) FindActiveByFilename(ctx context.Context, filename string) (*domain.Task, error) {
	args := m.Called(ctx, filename)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Task), args.Error(1)
}

var notFound = domain.NewNotFoundError("record", "x")

func testCandidate() domain.Candidate {
	return domain.Candidate{
		ExternalID: "arxiv:2410.01234",
		Title:      "Sparse Attention: for Long Contexts!",
		Source:     domain.SourceTypeArXiv,
	}
}

// allClear wires mocks that find nothing for the test candidate.
func allClear() (*mockKnowledgeStore, *mockTaskStore) {
	kb := &mockKnowledgeStore{}
	tasks := &mockTaskStore{}
	kb.On("FindByExternalID", mock.Anything, "arxiv:2410.01234").Return(nil, notFound)
	kb.On("FindByNormalizedTitle", mock.Anything, "sparse attention for long contexts").Return(nil, notFound)
	tasks.On("FindActiveByExternalID", mock.Anything, "arxiv:2410.01234").Return(nil, notFound)
	tasks.On("FindActiveByNormalizedTitle", mock.Anything, "sparse attention for long contexts").Return(nil, notFound)
	tasks.On("FindActiveByFilename", mock.Anything, "sparse_attention_for_long_contexts.pdf").Return(nil, notFound)
	return kb, tasks
}

func TestChecker_AdmitsAndReserves(t *testing.T) {
	kb, tasks := allClear()
	cache := NewSessionCache(100)
	checker := NewChecker(kb, tasks, cache)

	result, err := checker.Check(context.Background(), testCandidate())
	require.NoError(t, err)
	assert.False(t, result.IsDuplicate)
	assert.Equal(t, []string{
		"id:arxiv:2410.01234",
		"title:sparse attention for long contexts",
		"file:sparse_attention_for_long_contexts.pdf",
	}, result.Keys)
	assert.Equal(t, 3, cache.Len(), "keys are reserved before the caller creates the task")

	second, err := checker.Check(context.Background(), testCandidate())
	require.NoError(t, err)
	assert.True(t, second.IsDuplicate)
	assert.Equal(t, CheckSession, second.MatchedBy)

	kb.AssertNumberOfCalls(t, "FindByExternalID", 1)
}

func TestChecker_StoreMatches(t *testing.T) {
	recordID := uuid.New()
	taskID := uuid.New()

	tests := []struct {
		name      string
		setup     func(kb *mockKnowledgeStore, tasks *mockTaskStore)
		wantCheck string
		wantRef   string
	}{
		{
			name: "knowledge base external id",
			setup: func(kb *mockKnowledgeStore, _ *mockTaskStore) {
				kb.On("FindByExternalID", mock.Anything, "arxiv:2410.01234").Return(&domain.KnowledgeRecord{ID: recordID}, nil)
			},
			wantCheck: CheckKnowledgeExternalID,
			wantRef:   recordID.String(),
		},
		{
			name: "active task external id",
			setup: func(kb *mockKnowledgeStore, tasks *mockTaskStore) {
				kb.On("FindByExternalID", mock.Anything, mock.Anything).Return(nil, notFound)
				tasks.On("FindActiveByExternalID", mock.Anything, "arxiv:2410.01234").Return(&domain.Task{ID: taskID}, nil)
			},
			wantCheck: CheckTaskExternalID,
			wantRef:   taskID.String(),
		},
		{
			name: "knowledge base normalized title",
			setup: func(kb *mockKnowledgeStore, tasks *mockTaskStore) {
				kb.On("FindByExternalID", mock.Anything, mock.Anything).Return(nil, notFound)
				tasks.On("FindActiveByExternalID", mock.Anything, mock.Anything).Return(nil, notFound)
				kb.On("FindByNormalizedTitle", mock.Anything, "sparse attention for long contexts").Return(&domain.KnowledgeRecord{ID: recordID}, nil)
			},
			wantCheck: CheckKnowledgeTitle,
			wantRef:   recordID.String(),
		},
		{
			name: "active task normalized title",
			setup: func(kb *mockKnowledgeStore, tasks *mockTaskStore) {
				kb.On("FindByExternalID", mock.Anything, mock.Anything).Return(nil, notFound)
				tasks.On("FindActiveByExternalID", mock.Anything, mock.Anything).Return(nil, notFound)
				kb.On("FindByNormalizedTitle", mock.Anything, mock.Anything).Return(nil, notFound)
				tasks.On("FindActiveByNormalizedTitle", mock.Anything, mock.Anything).Return(&domain.Task{ID: taskID}, nil)
			},
			wantCheck: CheckTaskTitle,
			wantRef:   taskID.String(),
		},
		{
			name: "active task filename",
			setup: func(kb *mockKnowledgeStore, tasks *mockTaskStore) {
				kb.On("FindByExternalID", mock.Anything, mock.Anything).Return(nil, notFound)
				tasks.On("FindActiveByExternalID", mock.Anything, mock.Anything).Return(nil, notFound)
				kb.On("FindByNormalizedTitle", mock.Anything, mock.Anything).Return(nil, notFound)
				tasks.On("FindActiveByNormalizedTitle", mock.Anything, mock.Anything).Return(nil, notFound)
				tasks.On("FindActiveByFilename", mock.Anything, "sparse_attention_for_long_contexts.pdf").Return(&domain.Task{ID: taskID}, nil)
			},
			wantCheck: CheckTaskFilename,
			wantRef:   taskID.String(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kb := &mockKnowledgeStore{}
			tasks := &mockTaskStore{}
			tt.setup(kb, tasks)
			cache := NewSessionCache(100)

			result, err := NewChecker(kb, tasks, cache).Check(context.Background(), testCandidate())
			require.NoError(t, err)
			assert.True(t, result.IsDuplicate)
			assert.Equal(t, tt.wantCheck, result.MatchedBy)
			assert.Equal(t, tt.wantRef, result.DuplicateOf)
			assert.Empty(t, result.Keys)
			assert.Zero(t, cache.Len(), "duplicates reserve nothing")
		})
	}
}

func TestChecker_StoreErrorAborts(t *testing.T) {
	kb := &mockKnowledgeStore{}
	tasks := &mockTaskStore{}
	kb.On("FindByExternalID", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))
	cache := NewSessionCache(100)

	result, err := NewChecker(kb, tasks, cache).Check(context.Background(), testCandidate())
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), CheckKnowledgeExternalID)
	assert.Zero(t, cache.Len())
	tasks.AssertNotCalled(t, "FindActiveByExternalID", mock.Anything, mock.Anything)
}

func TestChecker_NilStores(t *testing.T) {
	checker := NewChecker(nil, nil, nil)

	result, err := checker.Check(context.Background(), testCandidate())
	require.NoError(t, err)
	assert.False(t, result.IsDuplicate)

	result, err = checker.Check(context.Background(), domain.Candidate{ExternalID: "arxiv:2410.01234", Title: "Different title"})
	require.NoError(t, err)
	assert.True(t, result.IsDuplicate, "external id alone matches the session cache")
}

func TestChecker_RememberAndRelease(t *testing.T) {
	checker := NewChecker(nil, nil, NewSessionCache(100))

	checker.Remember(Identity{NormalizedTitle: "sparse attention for long contexts"})
	result, err := checker.Check(context.Background(), testCandidate())
	require.NoError(t, err)
	assert.True(t, result.IsDuplicate)

	other := domain.Candidate{ExternalID: "arxiv:1", Title: "Other"}
	result, err = checker.Check(context.Background(), other)
	require.NoError(t, err)
	require.False(t, result.IsDuplicate)

	checker.Release(result.Keys)
	result, err = checker.Check(context.Background(), other)
	require.NoError(t, err)
	assert.False(t, result.IsDuplicate, "released reservation can be taken again")
}

func TestChecker_CandidateWithoutIdentity(t *testing.T) {
	checker := NewChecker(nil, nil, nil)

	_, err := checker.Check(context.Background(), domain.Candidate{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}
