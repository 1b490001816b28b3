package services

import (
	"context"

	"github.com/google/uuid"

	types "github.com/yungbote/dubbing-backend/internal/domain"
	"github.com/yungbote/dubbing-backend/internal/platform/logger"
	"github.com/yungbote/dubbing-backend/internal/realtime"
	"github.com/yungbote/dubbing-backend/internal/realtime/bus"
)

// JobNotifier publishes job and balance changes to the user's realtime channel.
// Delivery is best effort; failures are logged and never fail the caller.
type JobNotifier interface {
	JobCreated(ctx context.Context, userID uuid.UUID, job *types.Job)
	JobUpdated(ctx context.Context, userID uuid.UUID, job *types.Job)
	BalanceChanged(ctx context.Context, userID uuid.UUID, balance int64)
}

type jobNotifier struct {
	bus bus.Bus
	log *logger.Logger
}

func NewJobNotifier(b bus.Bus, baseLog *logger.Logger) JobNotifier {
	return &jobNotifier{bus: b, log: baseLog.With("service", "JobNotifier")}
}

func (n *jobNotifier) JobCreated(ctx context.Context, userID uuid.UUID, job *types.Job) {
	n.publish(ctx, realtime.Message{
		Channel: userID.String(),
		Event:   realtime.EventJobCreated,
		Data:    map[string]any{"job_id": job.ID, "job": job},
	})
}

func (n *jobNotifier) JobUpdated(ctx context.Context, userID uuid.UUID, job *types.Job) {
	n.publish(ctx, realtime.Message{
		Channel: userID.String(),
		Event:   realtime.EventJobUpdated,
		Data: map[string]any{
			"job_id": job.ID,
			"status": job.Status,
			"job":    job,
		},
	})
}

func (n *jobNotifier) BalanceChanged(ctx context.Context, userID uuid.UUID, balance int64) {
	n.publish(ctx, realtime.Message{
		Channel: userID.String(),
		Event:   realtime.EventBalanceChanged,
		Data:    map[string]any{"balance": balance},
	})
}

func (n *jobNotifier) publish(ctx context.Context, msg realtime.Message) {
	if n == nil || n.bus == nil {
		return
	}
	if err := n.bus.Publish(context.WithoutCancel(ctx), msg); err != nil {
		n.log.Warn("publish realtime event failed", "event", msg.Event, "channel", msg.Channel, "error", err)
	}
}
