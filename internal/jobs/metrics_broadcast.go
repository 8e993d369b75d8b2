package jobs

import (
	"context"
	"time"

	"lifeline/internal/models"
	"lifeline/internal/registry"
	"lifeline/internal/services"
)

// MetricsBroadcastJob pushes a counter snapshot to monitoring subscribers on
// a fixed cadence. Snapshots carry aggregate numbers only, never session
// content or participant identity.
type MetricsBroadcastJob struct {
	registry *registry.Registry
	pubsub   *services.PubSubService // nil in single-instance mode
	interval time.Duration
}

func NewMetricsBroadcastJob(reg *registry.Registry, pubsub *services.PubSubService, interval time.Duration) *MetricsBroadcastJob {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &MetricsBroadcastJob{
		registry: reg,
		pubsub:   pubsub,
		interval: interval,
	}
}

func (j *MetricsBroadcastJob) Name() string { return "metrics-broadcast" }

func (j *MetricsBroadcastJob) Interval() time.Duration { return j.interval }

func (j *MetricsBroadcastJob) Run(ctx context.Context) error {
	snapshot := j.registry.Snapshot()
	ev := models.ServerEvent{
		Type:    models.EventMetricsUpdate,
		Metrics: &snapshot,
	}

	for _, sub := range j.registry.MonitoringSubscribers() {
		sub.SafeSend(ev)
	}

	if j.pubsub != nil {
		return j.pubsub.PublishMonitoring(ctx, ev)
	}
	return nil
}
