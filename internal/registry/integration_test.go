package registry_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sentrakit/agentcore/config"
	"github.com/sentrakit/agentcore/internal/registry"
)

// Two registry instances sharing one redis must agree on cache hits and
// cooldowns; this is what lets multiple orchestrator replicas serve the same
// tool pool.
func TestSharedStateAcrossInstances(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	redisC, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	defer func() { _ = redisC.Terminate(ctx) }()

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}

	client := goredis.NewClient(&goredis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	defer func() { _ = client.Close() }()
	shared := registry.NewRedisStore(client)

	var invocations int64
	plugin := registry.LocalPlugin{
		Name:        "fetch_rate",
		Description: "Fetch the current rate",
		InputSchema: map[string]interface{}{"type": "object"},
		Cooldown:    3 * time.Second,
		Build: func(env map[string]string) registry.Handler {
			return func(ctx context.Context, args map[string]interface{}, opts registry.CallOptions) (interface{}, error) {
				atomic.AddInt64(&invocations, 1)
				return map[string]interface{}{"rate": 1.25}, nil
			}
		},
	}

	cfg := config.RegistryConfig{
		DefaultTimeout: 5 * time.Second,
		CacheEnabled:   true,
		CacheTTL:       time.Minute,
	}
	regA := registry.New(cfg, registry.Options{Store: shared})
	regA.RegisterPlugins(plugin)
	regB := registry.New(cfg, registry.Options{Store: shared})
	regB.RegisterPlugins(plugin)

	args := map[string]interface{}{"pair": "EUR/USD"}
	first := regA.CallByAIName(ctx, "local__fetch_rate", args, registry.CallOptions{})
	if !first.Success {
		t.Fatalf("first call failed: %+v", first)
	}

	// Instance B sees instance A's cached result without invoking the tool.
	second := regB.CallByAIName(ctx, "local__fetch_rate", args, registry.CallOptions{})
	if !second.Success {
		t.Fatalf("second call failed: %+v", second)
	}
	if n := atomic.LoadInt64(&invocations); n != 1 {
		t.Fatalf("expected one invocation across instances, got %d", n)
	}

	// Bypassing the cache, instance B still respects the cooldown instance A
	// started.
	third := regB.CallByAIName(ctx, "local__fetch_rate", map[string]interface{}{"pair": "GBP/USD"}, registry.CallOptions{NoCache: true})
	if third.Success || third.Code != registry.CodeCooldownActive {
		t.Fatalf("expected COOLDOWN_ACTIVE from the other instance, got %+v", third)
	}
}
