package backoff

import (
	"time"

	cenkalti "github.com/cenkalti/backoff/v4"
)

// AsBackOff adapts a Policy to cenkalti/backoff/v4's BackOff interface, so
// callers can drive it with backoff.Retry/backoff.RetryNotify instead of
// hand-rolling a retry loop around NextDelay.
type AsBackOff struct{ policy *Policy }

// NewBackOff wraps policy for use with cenkalti/backoff/v4.
func NewBackOff(policy *Policy) *AsBackOff { return &AsBackOff{policy: policy} }

// NextBackOff implements cenkalti/backoff.BackOff. It returns
// cenkalti backoff.Stop once the wrapped Policy's attempts are exhausted.
func (b *AsBackOff) NextBackOff() time.Duration {
	d, ok := b.policy.NextDelay()
	if !ok {
		return cenkalti.Stop
	}
	return d
}

// Reset implements cenkalti/backoff.BackOff.
func (b *AsBackOff) Reset() { b.policy.Reset() }
