package pipeline

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ajitpratap0/tablesync/pkg/config"
	"github.com/ajitpratap0/tablesync/pkg/errors"
)

func TestRetryControllerDecide(t *testing.T) {
	s := config.DefaultSettings()
	s.RetryTimes = 3
	s.RetryInterval = 2
	rc := NewRetryController(s)

	transient := errors.New(errors.ErrorTypeTransient, "deadlock detected")
	connection := errors.New(errors.ErrorTypeConnection, "connection reset")
	fatal := errors.New(errors.ErrorTypeFatal, "column does not exist")

	tests := []struct {
		name      string
		err       error
		attempt   int
		wantRetry bool
		reason    string
	}{
		{name: "transient first attempt", err: transient, attempt: 0, wantRetry: true},
		{name: "connection last retry", err: connection, attempt: 2, wantRetry: true},
		{name: "retries exhausted", err: transient, attempt: 3, reason: "retries exhausted"},
		{name: "fatal", err: fatal, attempt: 0, reason: "fatal error"},
		{name: "unclassified is fatal", err: fmt.Errorf("boom"), attempt: 0, reason: "fatal error"},
		{name: "wrapped transient", err: fmt.Errorf("batch 3: %w", transient), attempt: 1, wantRetry: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := rc.Decide(tt.err, tt.attempt)
			assert.Equal(t, tt.wantRetry, d.Retry)
			assert.Equal(t, tt.reason, d.Reason)
			if tt.wantRetry {
				assert.Equal(t, 2*time.Second, d.Delay)
			}
		})
	}
}

func TestRetryControllerExponential(t *testing.T) {
	s := config.DefaultSettings()
	s.RetryTimes = 5
	s.RetryInterval = 1
	s.RetryBackoff = config.BackoffExponential
	s.RetryMultiplier = 2
	s.RetryMaxInterval = 5
	rc := NewRetryController(s)

	err := errors.New(errors.ErrorTypeTransient, "timeout")
	var delays []time.Duration
	for attempt := 0; attempt < 5; attempt++ {
		d := rc.Decide(err, attempt)
		assert.True(t, d.Retry)
		delays = append(delays, d.Delay)
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}, delays)
	assert.False(t, rc.Decide(err, 5).Retry)
}

func TestRetryControllerJitter(t *testing.T) {
	s := config.DefaultSettings()
	s.RetryInterval = 4
	s.RetryJitter = 0.25
	rc := NewRetryController(s)
	assert.Equal(t, 0.25, rc.Policy().RandomizeFactor)

	err := errors.New(errors.ErrorTypeConnection, "connection reset")
	for i := 0; i < 20; i++ {
		d := rc.Decide(err, 0)
		assert.True(t, d.Retry)
		assert.GreaterOrEqual(t, d.Delay, 3*time.Second)
		assert.LessOrEqual(t, d.Delay, 5*time.Second)
	}
}
