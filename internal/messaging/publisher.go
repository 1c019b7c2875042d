package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const appID = "story-engine"

// ResultPublisher отправляет результаты задач.
type ResultPublisher interface {
	PublishResult(ctx context.Context, result TaskResult) error
}

// PublishChannel - часть *amqp.Channel, нужная для публикации.
type PublishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

var _ PublishChannel = (*amqp.Channel)(nil)

// RabbitMQPublisher публикует результаты в очередь через default exchange.
// Канал открывается и закрывается снаружи.
type RabbitMQPublisher struct {
	channel   PublishChannel
	queueName string
	logger    *zap.Logger
}

var _ ResultPublisher = (*RabbitMQPublisher)(nil)

// NewRabbitMQPublisher создаёт публикатор результатов.
func NewRabbitMQPublisher(ch PublishChannel, queueName string, logger *zap.Logger) *RabbitMQPublisher {
	return &RabbitMQPublisher{channel: ch, queueName: queueName, logger: logger.Named("ResultPublisher")}
}

// PublishResult сериализует результат и публикует его как persistent сообщение.
func (p *RabbitMQPublisher) PublishResult(ctx context.Context, result TaskResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("%w: marshal result %s: %v", ErrPublishFailed, result.TaskID, err)
	}

	err = p.channel.PublishWithContext(ctx,
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			Body:          body,
			Timestamp:     time.Now(),
			AppId:         appID,
			MessageId:     uuid.NewString(),
			CorrelationId: result.TaskID,
			Type:          string(result.Kind),
		},
	)
	if err != nil {
		p.logger.Error("Failed to publish task result",
			zap.String("task_id", result.TaskID), zap.String("queue", p.queueName), zap.Error(err))
		return fmt.Errorf("%w: task %s: %v", ErrPublishFailed, result.TaskID, err)
	}

	p.logger.Debug("Task result published",
		zap.String("task_id", result.TaskID),
		zap.String("kind", string(result.Kind)),
		zap.String("status", string(result.Status)))
	return nil
}
