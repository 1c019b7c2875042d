package messaging_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"story-engine/internal/messaging"
	"story-engine/internal/models"
)

type ackCall struct {
	acked   bool
	requeue bool
}

type fakeAcknowledger struct {
	mu    sync.Mutex
	calls []ackCall
}

func (a *fakeAcknowledger) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, ackCall{acked: true})
	return nil
}

func (a *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, ackCall{requeue: requeue})
	return nil
}

func (a *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	return a.Nack(0, false, requeue)
}

func delivery(ack amqp.Acknowledger, body string, redelivered bool) amqp.Delivery {
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte(body), Redelivered: redelivered}
}

func TestConsumer_AckDecisions(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		redelivered bool
		want        ackCall
	}{
		{"success", nil, false, ackCall{acked: true}},
		{"malformed", fmt.Errorf("%w: bad json", messaging.ErrMalformedTask), false, ackCall{}},
		{"retriable first delivery", fmt.Errorf("%w: timeout", models.ErrGeneratorFailure), false, ackCall{requeue: true}},
		{"retriable redelivered", fmt.Errorf("%w: timeout", models.ErrGeneratorFailure), true, ackCall{}},
		{"lock contention", models.ErrLockNotAcquired, false, ackCall{requeue: true}},
		{"publish failure", fmt.Errorf("%w: closed", messaging.ErrPublishFailed), false, ackCall{requeue: true}},
		{"non retriable", errors.New("boom"), false, ackCall{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := &fakeAcknowledger{}
			var gotRedelivered bool
			c := messaging.NewConsumer(nil, "q", func(_ context.Context, _ []byte, redelivered bool) error {
				gotRedelivered = redelivered
				return tt.err
			}, zap.NewNop())

			c.HandleDelivery(context.Background(), delivery(ack, "{}", tt.redelivered))
			require.Len(t, ack.calls, 1)
			assert.Equal(t, tt.want, ack.calls[0])
			assert.Equal(t, tt.redelivered, gotRedelivered)
		})
	}
}

func TestConsumer_PanicIsDeadLettered(t *testing.T) {
	ack := &fakeAcknowledger{}
	c := messaging.NewConsumer(nil, "q", func(context.Context, []byte, bool) error {
		panic("nil map")
	}, zap.NewNop())

	c.HandleDelivery(context.Background(), delivery(ack, "{}", false))
	require.Len(t, ack.calls, 1)
	assert.Equal(t, ackCall{}, ack.calls[0])
}

func TestConsumer_RunStopsOnClosedChannel(t *testing.T) {
	ack := &fakeAcknowledger{}
	var bodies []string
	c := messaging.NewConsumer(nil, "q", func(_ context.Context, body []byte, _ bool) error {
		bodies = append(bodies, string(body))
		return nil
	}, zap.NewNop())

	msgs := make(chan amqp.Delivery, 2)
	msgs <- delivery(ack, "a", false)
	msgs <- delivery(ack, "b", false)
	close(msgs)

	c.Run(context.Background(), msgs)
	assert.Equal(t, []string{"a", "b"}, bodies)
	assert.Len(t, ack.calls, 2)
}

type capturedPublish struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakePublishChannel struct {
	published []capturedPublish
	err       error
}

func (f *fakePublishChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, capturedPublish{exchange: exchange, key: key, msg: msg})
	return nil
}

func TestPublisher_PublishResult(t *testing.T) {
	ch := &fakePublishChannel{}
	p := messaging.NewRabbitMQPublisher(ch, "story_results", zap.NewNop())

	result := messaging.TaskResult{
		TaskID:  "t1",
		UserID:  "u1",
		Kind:    messaging.KindTurn,
		Status:  messaging.StatusSuccess,
		Payload: json.RawMessage(`{"narrative":"x"}`),
	}
	require.NoError(t, p.PublishResult(context.Background(), result))
	require.Len(t, ch.published, 1)

	got := ch.published[0]
	assert.Equal(t, "", got.exchange)
	assert.Equal(t, "story_results", got.key)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	assert.Equal(t, "t1", got.msg.CorrelationId)
	assert.Equal(t, "turn", got.msg.Type)

	var decoded messaging.TaskResult
	require.NoError(t, json.Unmarshal(got.msg.Body, &decoded))
	assert.Equal(t, result.TaskID, decoded.TaskID)
	assert.JSONEq(t, `{"narrative":"x"}`, string(decoded.Payload))
}

func TestPublisher_ErrorWrapped(t *testing.T) {
	ch := &fakePublishChannel{err: amqp.ErrClosed}
	p := messaging.NewRabbitMQPublisher(ch, "story_results", zap.NewNop())

	err := p.PublishResult(context.Background(), messaging.TaskResult{TaskID: "t1"})
	assert.ErrorIs(t, err, messaging.ErrPublishFailed)
	assert.True(t, messaging.ShouldRequeue(err))
}

type declared struct {
	name string
	args amqp.Table
}

type fakeTopologyChannel struct {
	exchanges []string
	queues    []declared
	binds     [][3]string
	prefetch  int
}

func (f *fakeTopologyChannel) ExchangeDeclare(name, _ string, _, _, _, _ bool, _ amqp.Table) error {
	f.exchanges = append(f.exchanges, name)
	return nil
}

func (f *fakeTopologyChannel) QueueDeclare(name string, _, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	f.queues = append(f.queues, declared{name: name, args: args})
	return amqp.Queue{Name: name}, nil
}

func (f *fakeTopologyChannel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	f.binds = append(f.binds, [3]string{name, key, exchange})
	return nil
}

func (f *fakeTopologyChannel) Qos(prefetchCount, _ int, _ bool) error {
	f.prefetch = prefetchCount
	return nil
}

func TestDeclareTopology(t *testing.T) {
	ch := &fakeTopologyChannel{}
	err := messaging.DeclareTopology(ch, messaging.Topology{
		TaskQueues:         []string{"story_turn_tasks", "standalone_story_tasks"},
		ResultQueue:        "story_results",
		DeadLetterExchange: "story_tasks_dlx",
	}, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, []string{"story_tasks_dlx"}, ch.exchanges)
	assert.Equal(t, 1, ch.prefetch)

	byName := map[string]amqp.Table{}
	for _, q := range ch.queues {
		byName[q.name] = q.args
	}
	require.Contains(t, byName, "story_turn_tasks_dlq")
	require.Contains(t, byName, "standalone_story_tasks_dlq")
	require.Contains(t, byName, "story_results")
	assert.Equal(t, "story_tasks_dlx", byName["story_turn_tasks"]["x-dead-letter-exchange"])
	assert.Equal(t, "story_turn_tasks.dlq", byName["story_turn_tasks"]["x-dead-letter-routing-key"])
	assert.Contains(t, ch.binds, [3]string{"standalone_story_tasks_dlq", "standalone_story_tasks.dlq", "story_tasks_dlx"})
}
