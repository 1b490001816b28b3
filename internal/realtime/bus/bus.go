package bus

import (
	"context"

	"github.com/yungbote/dubbing-backend/internal/realtime"
)

// Bus carries realtime messages between API instances so a client connected
// to any instance sees events raised on another.
type Bus interface {
	Publish(ctx context.Context, msg realtime.Message) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.Message)) error
	Close() error
}

// localBus delivers straight to the in-process hub when no Redis is configured.
type localBus struct {
	hub *realtime.Hub
}

func NewLocalBus(hub *realtime.Hub) Bus {
	return &localBus{hub: hub}
}

func (b *localBus) Publish(ctx context.Context, msg realtime.Message) error {
	if b.hub != nil {
		b.hub.Broadcast(msg)
	}
	return nil
}

func (b *localBus) StartForwarder(ctx context.Context, onMsg func(m realtime.Message)) error {
	return nil
}

func (b *localBus) Close() error { return nil }
