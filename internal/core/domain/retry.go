package domain

import (
	"strings"
	"time"
)

// retryBackoff is the delay applied before the n-th retry (1-based attempt count
// after the failure). The last step repeats for any further failures.
var retryBackoff = []time.Duration{
	30 * time.Second,
	120 * time.Second,
	600 * time.Second,
}

// BackoffDelay returns the wait imposed after a failed attempt. attempts is the
// item's attempt counter after the failure has been recorded.
func BackoffDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > len(retryBackoff) {
		attempts = len(retryBackoff)
	}
	return retryBackoff[attempts-1]
}

// FailureOutcome describes where a failed attempt leaves the item.
type FailureOutcome struct {
	Status      ItemStatus
	Attempts    int
	NextRetryAt *time.Time
}

// NextFailureState applies the retry policy to an item that just failed an
// attempt. Once the attempt budget is spent the item is terminally errored and
// never retried again.
func NextFailureState(item *QueueItem, now time.Time) FailureOutcome {
	attempts := item.Attempts + 1
	maxAttempts := item.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	if attempts >= maxAttempts {
		return FailureOutcome{
			Status:   StatusError,
			Attempts: attempts,
		}
	}

	next := now.Add(BackoffDelay(attempts))
	return FailureOutcome{
		Status:      StatusQueued,
		Attempts:    attempts,
		NextRetryAt: &next,
	}
}

// SuccessStatus classifies a completed extraction. A non-video item that
// finished without error but produced no usable text goes to needs_review so a
// human can tell "nothing to find" from "something went wrong".
func SuccessStatus(mediaType MediaType, text string) ItemStatus {
	if mediaType != MediaVideo && strings.TrimSpace(text) == "" {
		return StatusNeedsReview
	}
	return StatusDone
}

// Eligible reports whether a queued item may be claimed at the given instant.
func (i *QueueItem) Eligible(now time.Time) bool {
	if i.Status != StatusQueued {
		return false
	}
	if i.NextRetryAt != nil && i.NextRetryAt.After(now) {
		return false
	}
	return true
}
