package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"story-engine/internal/media"
)

// MockImageGenerator is a mock type for the media.ImageGenerator type
type MockImageGenerator struct {
	mock.Mock
}

// GenerateImage provides a mock function with given fields: ctx, req
func (_m *MockImageGenerator) GenerateImage(ctx context.Context, req media.ImageRequest) (string, error) {
	ret := _m.Called(ctx, req)
	return ret.String(0), ret.Error(1)
}

// NewMockImageGenerator creates a new instance of MockImageGenerator.
func NewMockImageGenerator(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockImageGenerator {
	m := &MockImageGenerator{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// MockAudioGenerator is a mock type for the media.AudioGenerator type
type MockAudioGenerator struct {
	mock.Mock
}

// GenerateAudio provides a mock function with given fields: ctx, req
func (_m *MockAudioGenerator) GenerateAudio(ctx context.Context, req media.AudioRequest) (string, error) {
	ret := _m.Called(ctx, req)
	return ret.String(0), ret.Error(1)
}

// NewMockAudioGenerator creates a new instance of MockAudioGenerator.
func NewMockAudioGenerator(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockAudioGenerator {
	m := &MockAudioGenerator{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// MockVideoGenerator is a mock type for the media.VideoGenerator type
type MockVideoGenerator struct {
	mock.Mock
}

// ComposeVideo provides a mock function with given fields: ctx, req
func (_m *MockVideoGenerator) ComposeVideo(ctx context.Context, req media.VideoRequest) (string, error) {
	ret := _m.Called(ctx, req)
	return ret.String(0), ret.Error(1)
}

// NewMockVideoGenerator creates a new instance of MockVideoGenerator.
func NewMockVideoGenerator(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockVideoGenerator {
	m := &MockVideoGenerator{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

var (
	_ media.ImageGenerator = (*MockImageGenerator)(nil)
	_ media.AudioGenerator = (*MockAudioGenerator)(nil)
	_ media.VideoGenerator = (*MockVideoGenerator)(nil)
)
