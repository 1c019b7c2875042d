package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"story-engine/internal/models"
	"story-engine/internal/pipeline"
)

// MockBibleStore is a mock type for the pipeline.BibleStore type
type MockBibleStore struct {
	mock.Mock
}

var _ pipeline.BibleStore = (*MockBibleStore)(nil)

func (_m *MockBibleStore) Create(ctx context.Context, bible *models.StoryBible) error {
	ret := _m.Called(ctx, bible)
	return ret.Error(0)
}

func (_m *MockBibleStore) Get(ctx context.Context, id string) (*models.StoryBible, error) {
	ret := _m.Called(ctx, id)
	bible, _ := ret.Get(0).(*models.StoryBible)
	return bible, ret.Error(1)
}

func (_m *MockBibleStore) Update(ctx context.Context, id string, fn func(*models.StoryBible) error) (*models.StoryBible, error) {
	ret := _m.Called(ctx, id, fn)
	bible, _ := ret.Get(0).(*models.StoryBible)
	return bible, ret.Error(1)
}

// NewMockBibleStore creates a new instance of MockBibleStore.
func NewMockBibleStore(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockBibleStore {
	m := &MockBibleStore{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}
