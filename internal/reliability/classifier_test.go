package reliability

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		got := IsRetryableHTTPStatus(tc.code)
		if got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestExponentialBackoffCap(t *testing.T) {
	base := 100 * time.Millisecond
	capDur := 700 * time.Millisecond
	if got := ExponentialBackoff(0, base, capDur); got != base {
		t.Fatalf("attempt 0 = %v, want %v", got, base)
	}
	if got := ExponentialBackoff(2, base, capDur); got != 400*time.Millisecond {
		t.Fatalf("attempt 2 = %v, want %v", got, 400*time.Millisecond)
	}
	if got := ExponentialBackoff(10, base, capDur); got != capDur {
		t.Fatalf("attempt 10 = %v, want %v", got, capDur)
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	var retries []int
	n, err := Retry(context.Background(), 3, time.Millisecond, 5*time.Millisecond, func(attempt int) error {
		if attempt < 2 {
			return errors.New("transient")
		}
		return nil
	}, func(attempt int, _ error) { retries = append(retries, attempt) })
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if n != 3 {
		t.Fatalf("attempts = %d, want 3", n)
	}
	if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
		t.Fatalf("retries = %v, want [1 2]", retries)
	}
}

func TestRetryGivesUpAfterBudget(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	n, err := Retry(context.Background(), 3, time.Millisecond, time.Millisecond, func(int) error {
		calls++
		return boom
	}, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("Retry() error = %v, want boom", err)
	}
	if n != 3 || calls != 3 {
		t.Fatalf("attempts = %d calls = %d, want 3 and 3", n, calls)
	}
}

func TestRetryStopsOnPermanent(t *testing.T) {
	conflict := errors.New("conflict")
	calls := 0
	n, err := Retry(context.Background(), 5, time.Millisecond, time.Millisecond, func(int) error {
		calls++
		return Permanent(conflict)
	}, nil)
	if !errors.Is(err, conflict) {
		t.Fatalf("Retry() error = %v, want conflict", err)
	}
	if n != 1 || calls != 1 {
		t.Fatalf("attempts = %d calls = %d, want 1 and 1", n, calls)
	}
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Retry(ctx, 3, time.Hour, time.Hour, func(int) error { return errors.New("x") }, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Retry() error = %v, want context.Canceled", err)
	}
}
