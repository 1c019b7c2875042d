package worker

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

const jobName = "story_engine_worker"

var (
	tasksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "story_engine_tasks_received_total",
		Help: "Total number of tasks received by kind.",
	}, []string{"kind"})

	tasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "story_engine_tasks_completed_total",
		Help: "Total number of processed tasks by kind and status.",
	}, []string{"kind", "status"})

	tasksFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "story_engine_tasks_failed_total",
		Help: "Total number of failed tasks partitioned by kind and error code.",
	}, []string{"kind", "code"})

	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "story_engine_task_duration_seconds",
		Help:    "Task processing duration by kind.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"kind"})
)

// MetricsPusher периодически отправляет метрики процесса в Pushgateway.
type MetricsPusher struct {
	pusher *push.Pusher
	logger *zap.Logger
}

// NewMetricsPusher создаёт клиент Pushgateway и сразу проверяет соединение первой отправкой.
func NewMetricsPusher(pushgatewayURL string, logger *zap.Logger) (*MetricsPusher, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	instanceID := fmt.Sprintf("%s-%d", hostname, os.Getpid())

	p := &MetricsPusher{
		pusher: push.New(pushgatewayURL, jobName).
			Gatherer(prometheus.DefaultGatherer).
			Grouping("instance", instanceID),
		logger: logger.Named("MetricsPusher"),
	}
	if err := p.pusher.Push(); err != nil {
		return nil, fmt.Errorf("initial push to %s: %w", pushgatewayURL, err)
	}
	p.logger.Info("Pushgateway pusher initialized",
		zap.String("url", pushgatewayURL), zap.String("instance", instanceID))
	return p, nil
}

// Run отправляет метрики каждые interval до отмены контекста.
func (p *MetricsPusher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := p.pusher.Push(); err != nil {
				p.logger.Warn("Final metrics push failed", zap.Error(err))
			}
			return
		case <-ticker.C:
			if err := p.pusher.Push(); err != nil {
				p.logger.Warn("Metrics push failed", zap.Error(err))
			}
		}
	}
}
