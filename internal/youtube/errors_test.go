package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
)

func TestClassify(t *testing.T) {
	quota := &googleapi.Error{Code: http.StatusForbidden, Errors: []googleapi.ErrorItem{{Reason: "quotaExceeded"}}}
	forbidden := &googleapi.Error{Code: http.StatusForbidden, Errors: []googleapi.ErrorItem{{Reason: "forbidden"}}}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"quota 403", quota, ErrQuotaExceeded},
		{"daily limit", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "dailyLimitExceeded"}}}, ErrQuotaExceeded},
		{"too many requests", &googleapi.Error{Code: http.StatusTooManyRequests}, ErrQuotaExceeded},
		{"server error", &googleapi.Error{Code: http.StatusServiceUnavailable}, ErrTransient},
		{"not found", &googleapi.Error{Code: http.StatusNotFound}, ErrInvalidReference},
		{"deadline", fmt.Errorf("do: %w", context.DeadlineExceeded), ErrTransient},
		{"transport", errors.New("connection reset by peer"), ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.ErrorIs(t, got, tt.want)
			assert.ErrorIs(t, got, tt.err)
		})
	}

	t.Run("forbidden without quota reason", func(t *testing.T) {
		got := Classify(forbidden)
		assert.NotErrorIs(t, got, ErrQuotaExceeded)
		assert.NotErrorIs(t, got, ErrTransient)
		assert.ErrorIs(t, got, forbidden)
	})

	t.Run("canceled passes through", func(t *testing.T) {
		assert.Equal(t, context.Canceled, Classify(context.Canceled))
	})

	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, Classify(nil))
	})
}
