//go:build integration

package bus

import (
	"context"
	"testing"
	"time"

	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("redis endpoint: %v", err)
	}
	return "redis://" + endpoint
}

func TestRedisArchiverReplayAndTail(t *testing.T) {
	arch, err := NewRedisArchiver(startRedis(t), zap.NewNop())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer arch.Close()

	b := newTestBus(5)
	b.SetArchiver(arch)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	tail := arch.Tail(ctx, "worker")
	time.Sleep(200 * time.Millisecond)

	b.SendStatus("orch", "worker", "first")
	b.SendStatus("orch", "worker", "second")
	b.Flush(ctx)

	msgs, err := arch.Replay(ctx, "worker", 10)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("replayed %d, want 2", len(msgs))
	}
	var first string
	msgs[0].Decode(&first)
	if first != "first" {
		t.Errorf("oldest = %q, want first", first)
	}

	select {
	case m := <-tail:
		if m.To != "worker" {
			t.Errorf("tailed message to %s", m.To)
		}
	case <-ctx.Done():
		t.Fatal("tail received nothing")
	}
}
