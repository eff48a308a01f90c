package nats

import (
	"testing"
	"time"
)

func TestRetryPolicyFixedDelay(t *testing.T) {
	policy := NewRetryPolicy(time.Minute).SetFixedDelay(45 * time.Second)

	for attempt := 1; attempt <= 5; attempt++ {
		if delay := policy.NextDelay(attempt); delay != 45*time.Second {
			t.Fatalf("attempt %d: expected 45s, got %v", attempt, delay)
		}
	}
}

func TestRetryPolicyDelaySequence(t *testing.T) {
	policy := NewRetryPolicy(time.Minute).
		SetDelaySequence([]time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second})

	cases := []struct {
		attempt int
		delay   time.Duration
	}{
		{1, 10 * time.Second},
		{2, 30 * time.Second},
		{3, 60 * time.Second},
		{4, 60 * time.Second},
		{100, 60 * time.Second},
	}
	for _, c := range cases {
		if delay := policy.NextDelay(c.attempt); delay != c.delay {
			t.Fatalf("attempt %d: expected %v, got %v", c.attempt, c.delay, delay)
		}
	}
}

func TestRetryPolicyDefaultFallback(t *testing.T) {
	policy := NewRetryPolicy(90 * time.Second)
	if delay := policy.NextDelay(1); delay != 90*time.Second {
		t.Fatalf("expected the default retry-after, got %v", delay)
	}

	// An empty sequence clears the backoff entirely.
	policy.SetDelaySequence([]time.Duration{10 * time.Second}).SetDelaySequence(nil)
	if delay := policy.NextDelay(2); delay != 90*time.Second {
		t.Fatalf("expected fallback after clearing the sequence, got %v", delay)
	}
}

func TestRetryPolicyConfigurationsAreExclusive(t *testing.T) {
	policy := NewRetryPolicy(time.Minute).
		SetDelaySequence([]time.Duration{10 * time.Second, 20 * time.Second}).
		SetFixedDelay(5 * time.Second)
	if delay := policy.NextDelay(2); delay != 5*time.Second {
		t.Fatalf("fixed delay must replace the sequence, got %v", delay)
	}

	policy.SetDelaySequence([]time.Duration{7 * time.Second})
	if delay := policy.NextDelay(1); delay != 7*time.Second {
		t.Fatalf("sequence must replace the fixed delay, got %v", delay)
	}
}

func TestRetryPolicyClampsAttemptNumber(t *testing.T) {
	policy := NewRetryPolicy(time.Minute).
		SetDelaySequence([]time.Duration{10 * time.Second, 30 * time.Second})

	if delay := policy.NextDelay(0); delay != 10*time.Second {
		t.Fatalf("attempt 0 must behave like attempt 1, got %v", delay)
	}
	if delay := policy.NextDelay(-3); delay != 10*time.Second {
		t.Fatalf("negative attempts must behave like attempt 1, got %v", delay)
	}
}

func TestRetryPolicySequenceIsCopied(t *testing.T) {
	delays := []time.Duration{10 * time.Second, 30 * time.Second}
	policy := NewRetryPolicy(time.Minute).SetDelaySequence(delays)

	delays[0] = time.Hour
	if delay := policy.NextDelay(1); delay != 10*time.Second {
		t.Fatalf("caller mutation leaked into the policy, got %v", delay)
	}
}

func TestRetryPolicyMaxAttempts(t *testing.T) {
	policy := NewRetryPolicy(time.Minute).SetMaxAttempts(3)

	if policy.HasExceededMaxAttempts(3) {
		t.Fatalf("attempt 3 of 3 must still be allowed")
	}
	if !policy.HasExceededMaxAttempts(4) {
		t.Fatalf("attempt 4 of 3 must be exhausted")
	}

	unlimited := NewRetryPolicy(time.Minute)
	if unlimited.HasExceededMaxAttempts(1 << 20) {
		t.Fatalf("attempts must never exhaust by count without a configured maximum")
	}
}

func TestRetryPolicyRetryDeadline(t *testing.T) {
	now := time.Now()
	policy := NewRetryPolicy(time.Minute).SetRetryUntil(now.Add(time.Hour))

	if policy.HasPassedRetryDeadline(now) {
		t.Fatalf("deadline in the future must not stop retries")
	}
	if !policy.HasPassedRetryDeadline(now.Add(2 * time.Hour)) {
		t.Fatalf("deadline in the past must stop retries")
	}

	unbounded := NewRetryPolicy(time.Minute)
	if unbounded.HasPassedRetryDeadline(now.Add(1000 * time.Hour)) {
		t.Fatalf("unset deadline must never stop retries")
	}
}
