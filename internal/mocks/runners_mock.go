package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"story-engine/internal/models"
	"story-engine/internal/pipeline"
	"story-engine/internal/worker"
)

// MockTurnRunner is a mock type for the worker.TurnRunner type
type MockTurnRunner struct {
	mock.Mock
}

var _ worker.TurnRunner = (*MockTurnRunner)(nil)

func (_m *MockTurnRunner) StartSession(ctx context.Context, userID, worldID string, tier models.Tier, credits int, mediaEnabled bool) (*models.SessionState, error) {
	ret := _m.Called(ctx, userID, worldID, tier, credits, mediaEnabled)
	state, _ := ret.Get(0).(*models.SessionState)
	return state, ret.Error(1)
}

func (_m *MockTurnRunner) RunTurn(ctx context.Context, userInput, sessionID string, state *models.SessionState) (*models.SessionState, models.TurnOutput, error) {
	ret := _m.Called(ctx, userInput, sessionID, state)
	next, _ := ret.Get(0).(*models.SessionState)
	out, _ := ret.Get(1).(models.TurnOutput)
	return next, out, ret.Error(2)
}

// NewMockTurnRunner creates a new instance of MockTurnRunner.
func NewMockTurnRunner(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockTurnRunner {
	m := &MockTurnRunner{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// MockStoryRunner is a mock type for the worker.StoryRunner type
type MockStoryRunner struct {
	mock.Mock
}

var _ worker.StoryRunner = (*MockStoryRunner)(nil)

func (_m *MockStoryRunner) Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error) {
	ret := _m.Called(ctx, req)
	res, _ := ret.Get(0).(pipeline.Result)
	return res, ret.Error(1)
}

func (_m *MockStoryRunner) Rate(ctx context.Context, bibleID string, rating int, feedback []string) (*models.StoryBible, error) {
	ret := _m.Called(ctx, bibleID, rating, feedback)
	bible, _ := ret.Get(0).(*models.StoryBible)
	return bible, ret.Error(1)
}

func (_m *MockStoryRunner) CreateBible(ctx context.Context, req pipeline.BibleRequest) (pipeline.BibleResult, error) {
	ret := _m.Called(ctx, req)
	res, _ := ret.Get(0).(pipeline.BibleResult)
	return res, ret.Error(1)
}

// NewMockStoryRunner creates a new instance of MockStoryRunner.
func NewMockStoryRunner(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockStoryRunner {
	m := &MockStoryRunner{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}
