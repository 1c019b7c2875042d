package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"story-engine/internal/models"
)

const stopTimeout = 30 * time.Second

// HandlerFunc обрабатывает тело задачи. redelivered - признак повторной доставки.
type HandlerFunc func(ctx context.Context, body []byte, redelivered bool) error

// Consumer читает задачи из одной очереди и подтверждает их по итогу обработки:
// успех - Ack; временная ошибка при первой доставке - Nack с возвратом в очередь;
// всё остальное - Nack без возврата, сообщение уходит в DLQ.
type Consumer struct {
	conn      *amqp.Connection
	queueName string
	handle    HandlerFunc
	logger    *zap.Logger

	channel *amqp.Channel
	tag     string
	done    chan struct{}
}

// NewConsumer создаёт потребителя очереди.
func NewConsumer(conn *amqp.Connection, queueName string, handle HandlerFunc, logger *zap.Logger) *Consumer {
	return &Consumer{
		conn:      conn,
		queueName: queueName,
		handle:    handle,
		logger:    logger.Named("TaskConsumer").With(zap.String("queue", queueName)),
		tag:       appID + "-" + queueName,
		done:      make(chan struct{}),
	}
}

// Start открывает собственный канал с prefetch 1 и запускает цикл обработки.
func (c *Consumer) Start(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel for %s: %w", c.queueName, err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("set qos for %s: %w", c.queueName, err)
	}
	msgs, err := ch.Consume(c.queueName, c.tag, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("register consumer for %s: %w", c.queueName, err)
	}
	c.channel = ch

	go func() {
		defer close(c.done)
		c.Run(ctx, msgs)
	}()
	c.logger.Info("Task consumer started")
	return nil
}

// Run обрабатывает доставки до закрытия канала или отмены контекста.
func (c *Consumer) Run(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Info("Delivery channel closed")
				return
			}
			c.HandleDelivery(ctx, msg)
		case <-ctx.Done():
			c.logger.Info("Context cancelled, consumer loop stopping")
			return
		}
	}
}

// HandleDelivery обрабатывает одно сообщение и подтверждает его.
func (c *Consumer) HandleDelivery(ctx context.Context, msg amqp.Delivery) {
	log := c.logger.With(zap.String("message_id", msg.MessageId), zap.Bool("redelivered", msg.Redelivered))

	err := c.safeHandle(ctx, msg)
	if err == nil {
		if ackErr := msg.Ack(false); ackErr != nil {
			log.Error("Failed to ack message", zap.Error(ackErr))
		}
		return
	}

	requeue := !msg.Redelivered && ShouldRequeue(err)
	log.Warn("Task failed, rejecting message", zap.Bool("requeue", requeue), zap.Error(err))
	if nackErr := msg.Nack(false, requeue); nackErr != nil {
		log.Error("Failed to nack message", zap.Error(nackErr))
	}
}

func (c *Consumer) safeHandle(ctx context.Context, msg amqp.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Panic recovered in task handler", zap.Any("panic", r))
			err = fmt.Errorf("%w: handler panic: %v", ErrMalformedTask, r)
		}
	}()
	return c.handle(ctx, msg.Body, msg.Redelivered)
}

// ShouldRequeue сообщает, стоит ли вернуть задачу в очередь для повтора.
func ShouldRequeue(err error) bool {
	if errors.Is(err, ErrMalformedTask) {
		return false
	}
	return models.IsRetriable(err) || errors.Is(err, ErrPublishFailed)
}

// Stop отменяет подписку и ждёт завершения текущей задачи.
func (c *Consumer) Stop() error {
	if c.channel == nil {
		return nil
	}
	if err := c.channel.Cancel(c.tag, false); err != nil {
		c.logger.Error("Error cancelling consumer", zap.Error(err))
	}
	select {
	case <-c.done:
	case <-time.After(stopTimeout):
		c.logger.Warn("Timeout waiting for consumer loop to stop")
	}
	if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("close channel for %s: %w", c.queueName, err)
	}
	c.logger.Info("Task consumer stopped")
	return nil
}
