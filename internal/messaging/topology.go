package messaging

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const dlqRoutingKey = "dlq"

// Topology - имена очередей и обменника для dead letter.
type Topology struct {
	TaskQueues         []string
	ResultQueue        string
	DeadLetterExchange string
	PrefetchCount      int
}

// TopologyChannel - часть *amqp.Channel, нужная для объявления топологии.
type TopologyChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
}

var _ TopologyChannel = (*amqp.Channel)(nil)

// DeadLetterQueue - имя dead letter очереди для очереди задач.
func DeadLetterQueue(queue string) string {
	return queue + "_dlq"
}

// DeclareTopology объявляет DLX, для каждой очереди задач её DLQ и саму очередь
// с аргументами dead-letter, затем очередь результатов и QoS.
func DeclareTopology(ch TopologyChannel, t Topology, logger *zap.Logger) error {
	if err := ch.ExchangeDeclare(t.DeadLetterExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead letter exchange %s: %w", t.DeadLetterExchange, err)
	}

	for _, queue := range t.TaskQueues {
		dlq := DeadLetterQueue(queue)
		if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare dead letter queue %s: %w", dlq, err)
		}
		// У каждой DLQ свой ключ маршрутизации.
		if err := ch.QueueBind(dlq, queue+"."+dlqRoutingKey, t.DeadLetterExchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", dlq, t.DeadLetterExchange, err)
		}

		args := amqp.Table{
			"x-queue-mode":              "lazy",
			"x-dead-letter-exchange":    t.DeadLetterExchange,
			"x-dead-letter-routing-key": queue + "." + dlqRoutingKey,
		}
		if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
			return fmt.Errorf("declare task queue %s: %w", queue, err)
		}
		logger.Info("Task queue declared", zap.String("queue", queue), zap.String("dlq", dlq))
	}

	if t.ResultQueue != "" {
		if _, err := ch.QueueDeclare(t.ResultQueue, true, false, false, false, amqp.Table{"x-queue-mode": "lazy"}); err != nil {
			return fmt.Errorf("declare result queue %s: %w", t.ResultQueue, err)
		}
	}

	prefetch := t.PrefetchCount
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	logger.Info("RabbitMQ topology declared",
		zap.Strings("task_queues", t.TaskQueues),
		zap.String("result_queue", t.ResultQueue),
		zap.Int("prefetch", prefetch))
	return nil
}
