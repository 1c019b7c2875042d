package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"story-engine/internal/consistency"
	"story-engine/internal/models"
	"story-engine/internal/workflow"
)

// MockCheckpointStore is a mock type for the workflow.CheckpointStore type
type MockCheckpointStore struct {
	mock.Mock
}

func (_m *MockCheckpointStore) Load(ctx context.Context, sessionID string) (*models.SessionState, error) {
	ret := _m.Called(ctx, sessionID)
	state, _ := ret.Get(0).(*models.SessionState)
	return state, ret.Error(1)
}

func (_m *MockCheckpointStore) Save(ctx context.Context, state *models.SessionState) error {
	ret := _m.Called(ctx, state)
	return ret.Error(0)
}

func (_m *MockCheckpointStore) Delete(ctx context.Context, sessionID string) error {
	ret := _m.Called(ctx, sessionID)
	return ret.Error(0)
}

// NewMockCheckpointStore creates a new instance of MockCheckpointStore.
func NewMockCheckpointStore(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockCheckpointStore {
	m := &MockCheckpointStore{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// MockCreditStore is a mock type for the workflow.CreditStore type
type MockCreditStore struct {
	mock.Mock
}

func (_m *MockCreditStore) Balance(ctx context.Context, userID string) (int, error) {
	ret := _m.Called(ctx, userID)
	return ret.Int(0), ret.Error(1)
}

func (_m *MockCreditStore) Deduct(ctx context.Context, userID string, amount int) (int, error) {
	ret := _m.Called(ctx, userID, amount)
	return ret.Int(0), ret.Error(1)
}

func (_m *MockCreditStore) Refund(ctx context.Context, userID string, amount int) (int, error) {
	ret := _m.Called(ctx, userID, amount)
	return ret.Int(0), ret.Error(1)
}

// NewMockCreditStore creates a new instance of MockCreditStore.
func NewMockCreditStore(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockCreditStore {
	m := &MockCreditStore{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// MockSimilarityIndex is a mock type for the consistency.SimilarityIndex type
type MockSimilarityIndex struct {
	mock.Mock
}

func (_m *MockSimilarityIndex) Upsert(ctx context.Context, collectionID string, passages []consistency.Passage) error {
	ret := _m.Called(ctx, collectionID, passages)
	return ret.Error(0)
}

func (_m *MockSimilarityIndex) Query(ctx context.Context, collectionID, text string, k int, filter map[string]any) ([]consistency.Match, error) {
	ret := _m.Called(ctx, collectionID, text, k, filter)
	matches, _ := ret.Get(0).([]consistency.Match)
	return matches, ret.Error(1)
}

func (_m *MockSimilarityIndex) DeleteCollection(ctx context.Context, collectionID string) error {
	ret := _m.Called(ctx, collectionID)
	return ret.Error(0)
}

// NewMockSimilarityIndex creates a new instance of MockSimilarityIndex.
func NewMockSimilarityIndex(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockSimilarityIndex {
	m := &MockSimilarityIndex{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

var (
	_ workflow.CheckpointStore    = (*MockCheckpointStore)(nil)
	_ workflow.CreditStore        = (*MockCreditStore)(nil)
	_ consistency.SimilarityIndex = (*MockSimilarityIndex)(nil)
)
