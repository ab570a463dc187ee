package remote

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/go-github/v57/github"
)

// RateLimitError reports that the credential's API quota is exhausted. The
// limit is global to the credential, so callers abort the whole pass and
// reschedule after ResetTime instead of retrying per item.
type RateLimitError struct {
	ResetTime time.Time
	Remaining int
	Limit     int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("GitHub API rate limit exceeded, try again %s (resets at %s)",
		humanize.Time(e.ResetTime), e.ResetTime.Format(time.RFC3339))
}

// IsRateLimit reports whether err is (or wraps) a rate-limit error, returning
// it when so.
func IsRateLimit(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}

// wrapAPIError converts go-github errors into this package's error types,
// keeping the original in the chain.
func wrapAPIError(op string, err error) error {
	var rle *github.RateLimitError
	if errors.As(err, &rle) {
		return fmt.Errorf("%s: %w", op, &RateLimitError{
			ResetTime: rle.Rate.Reset.Time,
			Remaining: rle.Rate.Remaining,
			Limit:     rle.Rate.Limit,
		})
	}

	var abuse *github.AbuseRateLimitError
	if errors.As(err, &abuse) {
		reset := time.Now().Add(time.Minute)
		if abuse.RetryAfter != nil {
			reset = time.Now().Add(*abuse.RetryAfter)
		}
		return fmt.Errorf("%s: %w", op, &RateLimitError{ResetTime: reset})
	}

	return fmt.Errorf("%s: %w", op, err)
}
