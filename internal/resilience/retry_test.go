package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func TestDoVal_SuccessAfterRetry(t *testing.T) {
	var calls int
	val, err := DoVal(context.Background(), fastRetry(), func(_ context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewTransientError(errors.New("temporary"), 503)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "ok" || calls != 3 {
		t.Errorf("got val=%q calls=%d", val, calls)
	}
}

func TestDoVal_NonTransientNoRetry(t *testing.T) {
	var calls int
	_, err := DoVal(context.Background(), fastRetry(), func(_ context.Context) (int, error) {
		calls++
		return 0, errors.New("bad request")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoVal_RateLimitNoRetry(t *testing.T) {
	var calls int
	_, err := DoVal(context.Background(), fastRetry(), func(_ context.Context) (int, error) {
		calls++
		return 0, &RateLimitError{Service: "crm"}
	})
	if !IsRateLimited(err) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoVal_ExhaustsAttempts(t *testing.T) {
	var calls int
	var retries []int
	cfg := fastRetry()
	cfg.OnRetry = func(attempt int, _ error) { retries = append(retries, attempt) }

	_, err := DoVal(context.Background(), cfg, func(_ context.Context) (int, error) {
		calls++
		return 0, NewTransientError(errors.New("always"), 500)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
		t.Errorf("unexpected retry callbacks: %v", retries)
	}
}

func TestDoVal_ContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	_, err := DoVal(ctx, RetryConfig{MaxAttempts: 5, InitialBackoff: time.Second}, func(_ context.Context) (int, error) {
		calls++
		cancel()
		return 0, NewTransientError(errors.New("temporary"), 503)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestBackoffCapped(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: time.Second, MaxBackoff: 2 * time.Second}
	if d := backoff(10, cfg); d != 2*time.Second {
		t.Errorf("expected capped backoff, got %s", d)
	}
}
