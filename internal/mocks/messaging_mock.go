package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"story-engine/internal/messaging"
)

// MockResultPublisher is a mock type for the messaging.ResultPublisher type
type MockResultPublisher struct {
	mock.Mock
}

var _ messaging.ResultPublisher = (*MockResultPublisher)(nil)

// PublishResult provides a mock function with given fields: ctx, result
func (_m *MockResultPublisher) PublishResult(ctx context.Context, result messaging.TaskResult) error {
	ret := _m.Called(ctx, result)
	return ret.Error(0)
}

// NewMockResultPublisher creates a new instance of MockResultPublisher.
func NewMockResultPublisher(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockResultPublisher {
	m := &MockResultPublisher{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}
