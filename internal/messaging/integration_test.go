//go:build integration

package messaging_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"story-engine/internal/messaging"
	"story-engine/internal/models"
)

const (
	itTaskQueue   = "story_engine_it_tasks"
	itResultQueue = "story_engine_it_results"
	itDLX         = "story_engine_it_dlx"
)

// BrokerIntegrationSuite гоняет топологию, потребителя и публикатор через настоящий RabbitMQ.
type BrokerIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *rabbitmq.RabbitMQContainer
	conn      *amqp.Connection
	logger    *zap.Logger
}

func TestBrokerIntegration(t *testing.T) {
	suite.Run(t, new(BrokerIntegrationSuite))
}

func (s *BrokerIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	s.logger = zap.NewNop()
	var err error

	s.container, err = rabbitmq.Run(s.ctx,
		"rabbitmq:3-management-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server startup complete").WithStartupTimeout(3*time.Minute),
		),
	)
	require.NoError(s.T(), err, "Failed to start rabbitmq container")

	url, err := s.container.AmqpURL(s.ctx)
	require.NoError(s.T(), err)
	s.conn, err = amqp.Dial(url)
	require.NoError(s.T(), err)

	ch, err := s.conn.Channel()
	require.NoError(s.T(), err)
	defer ch.Close()
	require.NoError(s.T(), messaging.DeclareTopology(ch, messaging.Topology{
		TaskQueues:         []string{itTaskQueue},
		ResultQueue:        itResultQueue,
		DeadLetterExchange: itDLX,
	}, s.logger))
}

func (s *BrokerIntegrationSuite) TearDownSuite() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	if s.container != nil {
		require.NoError(s.T(), s.container.Terminate(s.ctx))
	}
}

func (s *BrokerIntegrationSuite) publishTask(body string) {
	ch, err := s.conn.Channel()
	s.Require().NoError(err)
	defer ch.Close()
	s.Require().NoError(ch.PublishWithContext(s.ctx, "", itTaskQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         []byte(body),
	}))
}

func (s *BrokerIntegrationSuite) getOne(queue string) (amqp.Delivery, bool) {
	ch, err := s.conn.Channel()
	s.Require().NoError(err)
	defer ch.Close()

	var (
		msg amqp.Delivery
		ok  bool
	)
	s.Require().Eventually(func() bool {
		msg, ok, err = ch.Get(queue, true)
		return err == nil && ok
	}, 10*time.Second, 100*time.Millisecond)
	return msg, ok
}

func (s *BrokerIntegrationSuite) TestPublishResult_RoundTrip() {
	ch, err := s.conn.Channel()
	s.Require().NoError(err)
	defer ch.Close()

	pub := messaging.NewRabbitMQPublisher(ch, itResultQueue, s.logger)
	s.Require().NoError(pub.PublishResult(s.ctx, messaging.TaskResult{
		TaskID: "task-rt",
		UserID: "user-1",
		Kind:   messaging.KindStory,
		Status: messaging.StatusSuccess,
	}))

	msg, _ := s.getOne(itResultQueue)
	s.Equal("task-rt", msg.CorrelationId)
	s.Equal(string(messaging.KindStory), msg.Type)

	var got messaging.TaskResult
	s.Require().NoError(json.Unmarshal(msg.Body, &got))
	s.Equal("user-1", got.UserID)
}

func (s *BrokerIntegrationSuite) TestConsumer_RetryThenDeadLetter() {
	var calls atomic.Int32
	handle := func(_ context.Context, _ []byte, _ bool) error {
		calls.Add(1)
		return fmt.Errorf("%w: generator busy", models.ErrGeneratorFailure)
	}

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	consumer := messaging.NewConsumer(s.conn, itTaskQueue, handle, s.logger)
	s.Require().NoError(consumer.Start(ctx))
	defer consumer.Stop()

	s.publishTask(`{"task_id":"t-dlq"}`)

	msg, _ := s.getOne(messaging.DeadLetterQueue(itTaskQueue))
	assert.JSONEq(s.T(), `{"task_id":"t-dlq"}`, string(msg.Body))
	s.Equal(int32(2), calls.Load(), "first delivery requeued, redelivery dead-lettered")
}
