package pipeline

import (
	"time"

	"github.com/ajitpratap0/tablesync/pkg/config"
	"github.com/ajitpratap0/tablesync/pkg/connector/base"
	"github.com/ajitpratap0/tablesync/pkg/errors"
)

// Decision is the retry controller's verdict on a failed attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
	// Reason explains an abort
	Reason string
}

// RetryController decides whether a failed batch is reattempted or aborts
// its table. It is the only place that makes this decision.
type RetryController struct {
	policy *base.RetryPolicy
}

// NewRetryController builds the policy described by settings.
func NewRetryController(s config.Settings) *RetryController {
	var policy *base.RetryPolicy
	switch s.RetryBackoff {
	case config.BackoffExponential:
		policy = base.NewExponentialPolicy(s.RetryTimes, s.RetryIntervalDuration(), s.RetryMaxIntervalDuration(), s.RetryMultiplier)
	default:
		policy = base.NewFixedPolicy(s.RetryTimes, s.RetryIntervalDuration())
	}
	if s.RetryJitter > 0 {
		policy = policy.WithRandomization(s.RetryJitter)
	}
	return &RetryController{policy: policy}
}

// NewRetryControllerWithPolicy uses policy as is.
func NewRetryControllerWithPolicy(policy *base.RetryPolicy) *RetryController {
	return &RetryController{policy: policy}
}

// Policy returns the retry policy
func (rc *RetryController) Policy() *base.RetryPolicy {
	return rc.policy
}

// Decide judges the failure err of attempt (zero based).
func (rc *RetryController) Decide(err error, attempt int) Decision {
	if !errors.IsRetryable(err) {
		return Decision{Reason: "fatal error"}
	}
	if attempt >= rc.policy.MaxRetries {
		return Decision{Reason: "retries exhausted"}
	}
	return Decision{Retry: true, Delay: rc.policy.Delay(attempt)}
}
