package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
)

var (
	// ErrQuotaExceeded means the API refused the call because the daily or per-user quota is spent.
	ErrQuotaExceeded = errors.New("youtube API quota exceeded")
	// ErrTransient covers timeouts, 5xx responses and transport failures.
	ErrTransient = errors.New("youtube API transient error")
	// ErrInvalidReference means the referenced channel does not resolve.
	ErrInvalidReference = errors.New("youtube reference does not resolve")
)

var quotaReasons = map[string]bool{
	"quotaExceeded":         true,
	"dailyLimitExceeded":    true,
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
}

// Classify maps an API call error onto the package sentinels, keeping the original in the chain.
// Errors that fit none of them (bad request, auth) are returned wrapped but unclassified.
// Cancellation of ctx is passed through untouched.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %w", ErrQuotaExceeded, err)
		case gerr.Code == http.StatusForbidden && hasQuotaReason(gerr):
			return fmt.Errorf("%w: %w", ErrQuotaExceeded, err)
		case gerr.Code == http.StatusNotFound:
			return fmt.Errorf("%w: %w", ErrInvalidReference, err)
		case gerr.Code >= 500:
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}
		return fmt.Errorf("youtube API %d: %w", gerr.Code, err)
	}

	// Timeouts and anything else from the HTTP client are transport failures.
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

func hasQuotaReason(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		if quotaReasons[item.Reason] {
			return true
		}
	}
	return false
}
