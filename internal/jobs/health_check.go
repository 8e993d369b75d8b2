package jobs

import (
	"context"
	"log/slog"
	"time"

	"lifeline/internal/registry"
)

// HealthCheckJob probes connections that have been idle past the threshold.
// Crisis users often go quiet for long stretches, so an unanswered probe is
// only logged: the transport's own read deadline decides when a connection is
// actually dead. This job never force-disconnects anyone.
type HealthCheckJob struct {
	registry      *registry.Registry
	interval      time.Duration
	idleThreshold time.Duration
	logger        *slog.Logger
}

func NewHealthCheckJob(reg *registry.Registry, interval, idleThreshold time.Duration, logger *slog.Logger) *HealthCheckJob {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if idleThreshold <= 0 {
		idleThreshold = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthCheckJob{
		registry:      reg,
		interval:      interval,
		idleThreshold: idleThreshold,
		logger:        logger,
	}
}

func (j *HealthCheckJob) Name() string { return "health-check" }

func (j *HealthCheckJob) Interval() time.Duration { return j.interval }

func (j *HealthCheckJob) Run(ctx context.Context) error {
	idle := j.registry.IdleConnections(j.idleThreshold)
	for _, conn := range idle {
		if err := conn.Ping(10 * time.Second); err != nil {
			j.logger.Warn("idle connection probe failed",
				"conn_id", conn.ConnID,
				"role", string(conn.Role),
				"idle_since", conn.LastActivity,
				"error", err)
		}
	}
	if len(idle) > 0 {
		j.logger.Debug("probed idle connections", "count", len(idle))
	}
	return nil
}
