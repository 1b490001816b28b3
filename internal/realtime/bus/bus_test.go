package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/dubbing-backend/internal/platform/logger"
	"github.com/yungbote/dubbing-backend/internal/realtime"
)

func TestRedisBusRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	b, err := NewRedisBus(logger.Nop(), rdb, "")
	if err != nil {
		t.Fatalf("NewRedisBus: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan realtime.Message, 1)
	if err := b.StartForwarder(ctx, func(m realtime.Message) { got <- m }); err != nil {
		t.Fatalf("StartForwarder: %v", err)
	}

	want := realtime.Message{Channel: "user-1", Event: realtime.EventJobUpdated, Data: map[string]any{"status": "succeeded"}}
	if err := b.Publish(ctx, want); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-got:
		if msg.Channel != want.Channel || msg.Event != want.Event {
			t.Fatalf("got %+v", msg)
		}
		data, _ := msg.Data.(map[string]any)
		if data["status"] != "succeeded" {
			t.Fatalf("data: %+v", msg.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for forwarded message")
	}
}

func TestLocalBusBroadcastsToHub(t *testing.T) {
	hub := realtime.NewHub(logger.Nop())
	client := hub.NewClient(uuid.New())
	hub.AddChannel(client, "chan")

	b := NewLocalBus(hub)
	if err := b.Publish(context.Background(), realtime.Message{Channel: "chan", Event: realtime.EventJobCreated}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case msg := <-client.Outbound:
		if msg.Event != realtime.EventJobCreated {
			t.Fatalf("event: %s", msg.Event)
		}
	default:
		t.Fatalf("expected message on hub client")
	}
}
