package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiterWaitThrottlesPerDomain(t *testing.T) {
	t.Parallel()

	// 10 RPS = one token every 100ms, burst 1.
	l := New(Config{DefaultRPS: 10, DefaultBurst: 1}, nil)
	ctx := context.Background()

	// Consume the initial token.
	if err := l.Wait(ctx, "https://mp.weixin.qq.com/s/a1"); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := l.Wait(ctx, "https://mp.weixin.qq.com/s/a2"); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiterDifferentDomains(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1}, nil)
	ctx := context.Background()

	if err := l.Wait(ctx, "https://a.com/1"); err != nil {
		t.Fatal(err)
	}

	// Domain B must not be blocked by A.
	start := time.Now()
	if err := l.Wait(ctx, "https://b.com/1"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("domain B blocked unexpectedly")
	}
}

func TestLimiterWaitHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1}, nil)
	ctx := context.Background()

	if err := l.Wait(ctx, "https://c.com/1"); err != nil {
		t.Fatal(err)
	}

	cancelCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(cancelCtx, "https://c.com/2"); err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestLimiterZeroRPSIsUnlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{}, nil)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := l.Wait(ctx, "https://d.com/page"); err != nil {
			t.Fatal(err)
		}
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("unlimited limiter should not block")
	}
}
