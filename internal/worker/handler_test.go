package worker_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"story-engine/internal/messaging"
	"story-engine/internal/mocks"
	"story-engine/internal/models"
	"story-engine/internal/pipeline"
	"story-engine/internal/worker"
)

type fixture struct {
	engine    *mocks.MockTurnRunner
	stories   *mocks.MockStoryRunner
	publisher *mocks.MockResultPublisher
	handler   *worker.TaskHandler
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		engine:    mocks.NewMockTurnRunner(t),
		stories:   mocks.NewMockStoryRunner(t),
		publisher: mocks.NewMockResultPublisher(t),
	}
	f.handler = worker.NewTaskHandler(f.engine, f.stories, f.publisher, 0, zap.NewNop())
	return f
}

func body(t *testing.T, v any) []byte {
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func (f *fixture) captureResult() *messaging.TaskResult {
	var got messaging.TaskResult
	f.publisher.On("PublishResult", mock.Anything, mock.AnythingOfType("messaging.TaskResult")).
		Run(func(args mock.Arguments) { got = args.Get(1).(messaging.TaskResult) }).
		Return(nil).Once()
	return &got
}

func TestHandleTurnTask_Success(t *testing.T) {
	f := newFixture(t)
	out := models.TurnOutput{SessionID: "s1", Narrative: "The fog lifted.", CurrentBeat: 2}
	f.engine.On("RunTurn", mock.Anything, "2", "s1", (*models.SessionState)(nil)).
		Return(&models.SessionState{SessionID: "s1"}, out, nil).Once()
	got := f.captureResult()

	err := f.handler.HandleTurnTask(context.Background(),
		body(t, messaging.TurnTaskPayload{TaskID: "t1", SessionID: "s1", UserID: "u1", UserInput: "2"}), false)
	require.NoError(t, err)

	assert.Equal(t, messaging.StatusSuccess, got.Status)
	assert.Equal(t, messaging.KindTurn, got.Kind)
	var payload worker.TurnResultPayload
	require.NoError(t, json.Unmarshal(got.Payload, &payload))
	assert.Equal(t, "s1", payload.SessionID)
	assert.Equal(t, "The fog lifted.", payload.Output.Narrative)
}

func TestHandleTurnTask_StartsSessionWhenMissing(t *testing.T) {
	f := newFixture(t)
	f.engine.On("StartSession", mock.Anything, "u1", "harbor", models.TierPremium, 10, true).
		Return(&models.SessionState{SessionID: "new"}, nil).Once()
	f.engine.On("RunTurn", mock.Anything, "", "new", (*models.SessionState)(nil)).
		Return(&models.SessionState{SessionID: "new"}, models.TurnOutput{SessionID: "new"}, nil).Once()
	got := f.captureResult()

	err := f.handler.HandleTurnTask(context.Background(), body(t, messaging.TurnTaskPayload{
		TaskID: "t1", UserID: "u1", WorldID: "harbor", Tier: "premium", Credits: 10, MediaEnabled: true,
	}), false)
	require.NoError(t, err)
	assert.Equal(t, messaging.StatusSuccess, got.Status)
}

func TestHandleTurnTask_Malformed(t *testing.T) {
	f := newFixture(t)
	err := f.handler.HandleTurnTask(context.Background(), []byte("{not json"), false)
	assert.ErrorIs(t, err, messaging.ErrMalformedTask)

	err = f.handler.HandleTurnTask(context.Background(), body(t, messaging.TurnTaskPayload{TaskID: "t1", UserID: "u1"}), false)
	assert.ErrorIs(t, err, messaging.ErrMalformedTask)
	f.publisher.AssertNotCalled(t, "PublishResult", mock.Anything, mock.Anything)
}

func TestHandleTurnTask_RetriableFirstDeliveryNotPublished(t *testing.T) {
	f := newFixture(t)
	genErr := fmt.Errorf("%w: timeout", models.ErrGeneratorFailure)
	f.engine.On("RunTurn", mock.Anything, "1", "s1", (*models.SessionState)(nil)).
		Return(&models.SessionState{SessionID: "s1"}, models.TurnOutput{Narrative: "fallback"}, genErr).Once()

	err := f.handler.HandleTurnTask(context.Background(),
		body(t, messaging.TurnTaskPayload{TaskID: "t1", SessionID: "s1", UserID: "u1", UserInput: "1"}), false)
	assert.ErrorIs(t, err, models.ErrGeneratorFailure)
	assert.True(t, messaging.ShouldRequeue(err))
	f.publisher.AssertNotCalled(t, "PublishResult", mock.Anything, mock.Anything)
}

func TestHandleTurnTask_RetriableRedeliveredPublishesError(t *testing.T) {
	f := newFixture(t)
	genErr := fmt.Errorf("%w: timeout", models.ErrGeneratorFailure)
	f.engine.On("RunTurn", mock.Anything, "1", "s1", (*models.SessionState)(nil)).
		Return(&models.SessionState{SessionID: "s1"}, models.TurnOutput{Narrative: "fallback"}, genErr).Once()
	got := f.captureResult()

	err := f.handler.HandleTurnTask(context.Background(),
		body(t, messaging.TurnTaskPayload{TaskID: "t1", SessionID: "s1", UserID: "u1", UserInput: "1"}), true)
	require.NoError(t, err)
	assert.Equal(t, messaging.StatusError, got.Status)
	assert.Equal(t, "generator_failure", got.ErrorCode)

	var payload worker.TurnResultPayload
	require.NoError(t, json.Unmarshal(got.Payload, &payload))
	assert.Equal(t, "fallback", payload.Output.Narrative)
}

func TestHandleTurnTask_InsufficientCreditsPublishedOnce(t *testing.T) {
	f := newFixture(t)
	f.engine.On("RunTurn", mock.Anything, "1", "s1", (*models.SessionState)(nil)).
		Return(&models.SessionState{SessionID: "s1"}, models.TurnOutput{}, models.ErrInsufficientCredits).Once()
	got := f.captureResult()

	err := f.handler.HandleTurnTask(context.Background(),
		body(t, messaging.TurnTaskPayload{TaskID: "t1", SessionID: "s1", UserID: "u1", UserInput: "1"}), false)
	require.NoError(t, err)
	assert.Equal(t, "insufficient_credits", got.ErrorCode)
}

func TestHandleTurnTask_PublishFailureRequeued(t *testing.T) {
	f := newFixture(t)
	f.engine.On("RunTurn", mock.Anything, "1", "s1", (*models.SessionState)(nil)).
		Return(&models.SessionState{SessionID: "s1"}, models.TurnOutput{}, nil).Once()
	f.publisher.On("PublishResult", mock.Anything, mock.Anything).
		Return(fmt.Errorf("%w: channel closed", messaging.ErrPublishFailed)).Once()

	err := f.handler.HandleTurnTask(context.Background(),
		body(t, messaging.TurnTaskPayload{TaskID: "t1", SessionID: "s1", UserID: "u1", UserInput: "1"}), false)
	assert.ErrorIs(t, err, messaging.ErrPublishFailed)
	assert.True(t, messaging.ShouldRequeue(err))
}

func TestHandleStoryTask_Success(t *testing.T) {
	f := newFixture(t)
	force := true
	f.stories.On("Run", mock.Anything, pipeline.Request{
		BibleID: "b1", UserID: "u1", Tier: models.TierFree, Genre: "romance", TargetWords: 3000,
		ForceCliffhanger: &force, GenerateMedia: true,
	}).Return(pipeline.Result{Success: true, Story: &pipeline.Story{Title: "Tides"}}, nil).Once()
	got := f.captureResult()

	err := f.handler.HandleStoryTask(context.Background(), body(t, messaging.StoryTaskPayload{
		TaskID: "t2", BibleID: "b1", UserID: "u1", Genre: "romance", TargetWords: 3000,
		ForceCliffhanger: &force, GenerateMedia: true,
	}), false)
	require.NoError(t, err)
	assert.Equal(t, messaging.KindStory, got.Kind)
	assert.Equal(t, messaging.StatusSuccess, got.Status)

	var res pipeline.Result
	require.NoError(t, json.Unmarshal(got.Payload, &res))
	assert.Equal(t, "Tides", res.Story.Title)
}

func TestHandleStoryTask_UnsuccessfulResultIsFinal(t *testing.T) {
	f := newFixture(t)
	f.stories.On("Run", mock.Anything, mock.Anything).
		Return(pipeline.Result{Success: false, Error: "beat planner: timeout"}, nil).Once()
	got := f.captureResult()

	err := f.handler.HandleStoryTask(context.Background(),
		body(t, messaging.StoryTaskPayload{TaskID: "t2", BibleID: "b1", UserID: "u1"}), false)
	require.NoError(t, err)
	assert.Equal(t, messaging.StatusError, got.Status)
	assert.Equal(t, "generator_failure", got.ErrorCode)
}

func TestHandleStoryTask_UnknownBible(t *testing.T) {
	f := newFixture(t)
	f.stories.On("Run", mock.Anything, mock.Anything).
		Return(pipeline.Result{}, fmt.Errorf("%w: bible b9 not found", models.ErrConfiguration)).Once()
	got := f.captureResult()

	err := f.handler.HandleStoryTask(context.Background(),
		body(t, messaging.StoryTaskPayload{TaskID: "t2", BibleID: "b9", UserID: "u1"}), false)
	require.NoError(t, err)
	assert.Equal(t, "configuration_error", got.ErrorCode)
}

func TestHandleStoryTask_Rate(t *testing.T) {
	f := newFixture(t)
	f.stories.On("Rate", mock.Anything, "b1", 5, []string{"great_pacing"}).
		Return(&models.StoryBible{UserPreferences: models.Preferences{LikedElements: []string{"fast_pacing"}}}, nil).Once()
	got := f.captureResult()

	err := f.handler.HandleStoryTask(context.Background(), body(t, messaging.StoryTaskPayload{
		TaskID: "t3", Action: messaging.KindRate, BibleID: "b1", UserID: "u1", Rating: 5, Feedback: []string{"great_pacing"},
	}), false)
	require.NoError(t, err)
	assert.Equal(t, messaging.KindRate, got.Kind)

	var payload worker.RateResultPayload
	require.NoError(t, json.Unmarshal(got.Payload, &payload))
	assert.Equal(t, []string{"fast_pacing"}, payload.Preferences.LikedElements)
}

func TestHandleStoryTask_InvalidRatingPublished(t *testing.T) {
	f := newFixture(t)
	f.stories.On("Rate", mock.Anything, "b1", 9, []string(nil)).Return(nil, pipeline.ErrInvalidRating).Once()
	got := f.captureResult()

	err := f.handler.HandleStoryTask(context.Background(), body(t, messaging.StoryTaskPayload{
		TaskID: "t3", Action: messaging.KindRate, BibleID: "b1", UserID: "u1", Rating: 9,
	}), false)
	require.NoError(t, err)
	assert.Equal(t, messaging.StatusError, got.Status)
	assert.Contains(t, got.Error, "rating")
}

func TestHandleStoryTask_UnknownAction(t *testing.T) {
	f := newFixture(t)
	err := f.handler.HandleStoryTask(context.Background(), body(t, messaging.StoryTaskPayload{
		TaskID: "t3", Action: "delete", BibleID: "b1", UserID: "u1",
	}), false)
	assert.ErrorIs(t, err, messaging.ErrMalformedTask)
}

func TestHandleStoryTask_CreateBible(t *testing.T) {
	f := newFixture(t)
	cameos := []models.CameoSeed{{Name: "Grandma Rose", Frequency: models.CameoRarely}}
	f.stories.On("CreateBible", mock.Anything, pipeline.BibleRequest{
		UserID: "u1", Genre: "detective", Setting: "Rainy harbour city", Premise: "A missing ledger",
		Intensity: 4, StoryLength: "long", Cameos: cameos,
	}).Return(pipeline.BibleResult{
		Bible:    &models.StoryBible{ID: "b-new", UserID: "u1", Genre: "detective"},
		Fallback: true, FallbackReason: "parse failure",
	}, nil).Once()
	got := f.captureResult()

	err := f.handler.HandleStoryTask(context.Background(), body(t, messaging.StoryTaskPayload{
		TaskID: "t4", Action: messaging.KindCreate, UserID: "u1", Genre: "detective",
		Setting: "Rainy harbour city", Premise: "A missing ledger", Intensity: 4, StoryLength: "long", Cameos: cameos,
	}), false)
	require.NoError(t, err)
	assert.Equal(t, messaging.KindCreate, got.Kind)
	assert.Equal(t, messaging.StatusSuccess, got.Status)

	var res pipeline.BibleResult
	require.NoError(t, json.Unmarshal(got.Payload, &res))
	require.NotNil(t, res.Bible)
	assert.Equal(t, "b-new", res.Bible.ID)
	assert.True(t, res.Fallback)
}

func TestHandleStoryTask_CreateRequiresSetting(t *testing.T) {
	f := newFixture(t)
	err := f.handler.HandleStoryTask(context.Background(), body(t, messaging.StoryTaskPayload{
		TaskID: "t4", Action: messaging.KindCreate, UserID: "u1", Genre: "detective",
	}), false)
	assert.ErrorIs(t, err, messaging.ErrMalformedTask)
}

func TestHandleStoryTask_CreateGeneratorFailureRequeued(t *testing.T) {
	f := newFixture(t)
	cause := fmt.Errorf("%w: upstream timeout", models.ErrGeneratorFailure)
	f.stories.On("CreateBible", mock.Anything, mock.Anything).Return(pipeline.BibleResult{}, cause).Once()

	err := f.handler.HandleStoryTask(context.Background(), body(t, messaging.StoryTaskPayload{
		TaskID: "t4", Action: messaging.KindCreate, UserID: "u1", Genre: "cozy", Setting: "A village bakery",
	}), false)
	assert.ErrorIs(t, err, models.ErrGeneratorFailure)
	f.publisher.AssertNotCalled(t, "PublishResult", mock.Anything, mock.Anything)
}
