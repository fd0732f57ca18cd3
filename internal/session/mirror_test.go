package session

import (
	"context"
	"os"
	"testing"
	"time"

	"docchatgo/internal/redis"

	goredis "github.com/redis/go-redis/v9"
)

func newTestMirror(t *testing.T) *Mirror {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed session tests")
	}
	t.Setenv(KeyEncryptionEnv, "0123456789abcdef0123456789abcdef")
	client, err := redis.Dial(&goredis.Options{Addr: addr})
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	m, err := NewMirror(client, time.Minute, nil)
	if err != nil {
		t.Fatalf("mirror: %v", err)
	}
	return m
}

func TestMirrorRestoresSettingsAndKeys(t *testing.T) {
	m := newTestMirror(t)
	policy := NewPolicy(true, false, "")
	ctx := context.Background()
	id := "mirror-" + time.Now().Format("150405.000000")

	first := NewStore(policy, time.Hour, m, nil)
	st := first.Get(ctx, id)
	st.Settings.Temperature = 0.7
	st.Keys["openai"] = "sk-mirrored"
	st.PromptHistory = []string{"How many rows?"}
	first.Save(ctx, st)

	second := NewStore(policy, time.Hour, m, nil)
	got := second.Get(ctx, id)
	if got.Settings.Temperature != 0.7 {
		t.Fatalf("settings not restored: %+v", got.Settings)
	}
	if got.Keys["openai"] != "sk-mirrored" {
		t.Fatalf("api key not restored")
	}
	if len(got.PromptHistory) != 1 {
		t.Fatalf("prompt history not restored: %v", got.PromptHistory)
	}

	first.Delete(ctx, id)
	third := NewStore(policy, time.Hour, m, nil)
	if third.Get(ctx, id).Settings.Temperature != 0.0 {
		t.Fatalf("deleted session should start from defaults")
	}
}

func TestMirrorInvalidationDropsRemoteCopy(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	policy := NewPolicy(true, false, "")

	local := NewStore(policy, time.Hour, newTestMirror(t), nil)
	remote := NewStore(policy, time.Hour, newTestMirror(t), nil)
	if err := remote.Listen(ctx); err != nil {
		t.Fatalf("listen: %v", err)
	}
	dropped := make(chan string, 1)
	remote.OnEvict(func(id string) { dropped <- id })

	id := "invalidate-" + time.Now().Format("150405.000000")
	remote.Get(ctx, id)
	local.Get(ctx, id)
	local.Delete(ctx, id)

	select {
	case got := <-dropped:
		if got != id {
			t.Fatalf("unexpected invalidation for %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("remote copy not invalidated")
	}
}
