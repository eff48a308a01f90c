package nats

import "time"

// RetryPolicy computes the delay before the next delivery attempt for the
// queue-worker adapter that consumes this client. A policy carries either a
// fixed delay, an ordered delay sequence, or neither, in which case the
// adapter's default retry-after applies.
//
// Attempts are numbered from 1: NextDelay(1) is the delay after the first
// failed attempt. With a sequence configured the delay is the sequence entry
// for that attempt, clamped to the last entry once attempts run past the end
// of the sequence.
type RetryPolicy struct {
	fixedDelay    time.Duration
	hasFixedDelay bool
	delaySequence []time.Duration
	defaultDelay  time.Duration

	// maxAttempts of 0 means attempts never exhaust by count alone.
	maxAttempts int
	retryUntil  time.Time
}

// NewRetryPolicy returns a policy with no backoff configured and the given
// default retry-after.
func NewRetryPolicy(defaultDelay time.Duration) *RetryPolicy {
	return &RetryPolicy{defaultDelay: defaultDelay}
}

// SetFixedDelay sets a constant delay on the receiver, clearing any delay
// sequence.
func (policy *RetryPolicy) SetFixedDelay(delay time.Duration) *RetryPolicy {
	if delay < 0 {
		delay = 0
	}
	policy.fixedDelay = delay
	policy.hasFixedDelay = true
	policy.delaySequence = nil
	return policy
}

// SetDelaySequence sets an ordered delay sequence on the receiver, clearing
// any fixed delay. An empty sequence clears the backoff entirely.
func (policy *RetryPolicy) SetDelaySequence(delays []time.Duration) *RetryPolicy {
	policy.hasFixedDelay = false
	if len(delays) == 0 {
		policy.delaySequence = nil
		return policy
	}
	policy.delaySequence = make([]time.Duration, len(delays))
	copy(policy.delaySequence, delays)
	return policy
}

// SetMaxAttempts sets the attempt-count limit on the receiver (0 disables
// count-based exhaustion).
func (policy *RetryPolicy) SetMaxAttempts(maxAttempts int) *RetryPolicy {
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	policy.maxAttempts = maxAttempts
	return policy
}

// SetRetryUntil sets a wall-clock deadline after which retries stop
// regardless of attempt count.
func (policy *RetryPolicy) SetRetryUntil(deadline time.Time) *RetryPolicy {
	policy.retryUntil = deadline
	return policy
}

// NextDelay computes the delay before the attempt following the given
// failed attempt number (1-based). With no backoff configured it falls back
// to the policy's default retry-after.
func (policy *RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	if policy.hasFixedDelay {
		return policy.fixedDelay
	}

	if len(policy.delaySequence) > 0 {
		index := attempt - 1
		if index >= len(policy.delaySequence) {
			index = len(policy.delaySequence) - 1
		}
		return policy.delaySequence[index]
	}

	return policy.defaultDelay
}

// HasExceededMaxAttempts reports whether the attempt count passed the
// configured maximum. Without a configured maximum, attempts never exhaust
// by count alone.
func (policy *RetryPolicy) HasExceededMaxAttempts(attempt int) bool {
	return policy.maxAttempts > 0 && attempt > policy.maxAttempts
}

// HasPassedRetryDeadline reports whether the retry-until deadline, when
// configured, lies in the past. This check is separate from the delay
// computation.
func (policy *RetryPolicy) HasPassedRetryDeadline(now time.Time) bool {
	return !policy.retryUntil.IsZero() && now.After(policy.retryUntil)
}
