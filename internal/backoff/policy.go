// Package backoff implements the bounded exponential-backoff policy used by
// the audit projector's retry loop (spec component C9). The specification-string grammar and nextDelay/reset
// semantics are ported from the original BackoffPolicy implementation
// (ARQUtils/backoff_policy.h/.cpp); only the spelling is Go's.
package backoff

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// HelpText documents the specification-string format accepted by Parse.
const HelpText = `Format: "initial-multiplier-maxDelay[-maxAttempts]"
  initial, maxDelay: a duration with suffix ms/s/m (default ms if no suffix)
  multiplier: a floating point number, or the literal CONSTANT (meaning 1.0)
  maxAttempts: optional; if omitted, attempts are unbounded
Examples:
  "100ms-4-5s"      initial=100ms, multiplier=4, maxDelay=5s, unbounded attempts
  "1s-3-1m-5"       initial=1s, multiplier=3, maxDelay=1m, maxAttempts=5
  "50ms-CONSTANT-1s" fixed 50ms delay (multiplier 1.0), maxDelay 1s`

// Policy is a stateful bounded exponential-backoff counter. A zero Policy is
// not usable; construct one with Parse or New.
type Policy struct {
	initial     time.Duration
	multiplier  float64
	maxDelay    time.Duration
	maxAttempts *uint32 // nil means unbounded

	attempts uint32
}

// New constructs a Policy directly from its parsed fields.
func New(initial time.Duration, multiplier float64, maxDelay time.Duration, maxAttempts *uint32) *Policy {
	return &Policy{initial: initial, multiplier: multiplier, maxDelay: maxDelay, maxAttempts: maxAttempts}
}

// Parse parses a specification string of the form
// "initial-multiplier-maxDelay[-maxAttempts]" as documented in HelpText.
func Parse(spec string) (*Policy, error) {
	tokens := strings.Split(spec, "-")
	if len(tokens) < 3 {
		return nil, fmt.Errorf("backoff: invalid spec %q: need at least 3 fields separated by '-'", spec)
	}

	initial, err := parseDuration(tokens[0])
	if err != nil {
		return nil, fmt.Errorf("backoff: invalid initial delay %q: %w", tokens[0], err)
	}

	multiplier, err := parseMultiplier(tokens[1])
	if err != nil {
		return nil, fmt.Errorf("backoff: invalid multiplier %q: %w", tokens[1], err)
	}

	maxDelay, err := parseDuration(tokens[2])
	if err != nil {
		return nil, fmt.Errorf("backoff: invalid max delay %q: %w", tokens[2], err)
	}

	var maxAttempts *uint32
	if len(tokens) > 3 {
		n, err := strconv.ParseUint(tokens[3], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("backoff: invalid max attempts %q: %w", tokens[3], err)
		}
		v := uint32(n)
		maxAttempts = &v
	}

	return New(initial, multiplier, maxDelay, maxAttempts), nil
}

func parseMultiplier(tok string) (float64, error) {
	if strings.EqualFold(tok, "CONSTANT") {
		return 1.0, nil
	}
	return strconv.ParseFloat(tok, 64)
}

// parseDuration parses a leading non-negative integer followed by an
// optional unit suffix: "s" (seconds), "m" (minutes), "ms" or no suffix
// (milliseconds). Any other suffix is an error.
func parseDuration(tok string) (time.Duration, error) {
	i := 0
	for i < len(tok) && tok[i] >= '0' && tok[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, fmt.Errorf("no leading integer in %q", tok)
	}
	n, err := strconv.ParseInt(tok[:i], 10, 64)
	if err != nil {
		return 0, err
	}
	switch suffix := tok[i:]; suffix {
	case "s":
		return time.Duration(n) * time.Second, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "", "ms":
		return time.Duration(n) * time.Millisecond, nil
	default:
		return 0, fmt.Errorf("unrecognized duration suffix %q", suffix)
	}
}

// NextDelay returns the delay before the next attempt, or false if
// maxAttempts has been reached. Each call increments the internal attempt
// counter, so NextDelay is not idempotent — call it once per retry.
func (p *Policy) NextDelay() (time.Duration, bool) {
	if p.maxAttempts != nil && p.attempts >= *p.maxAttempts {
		return 0, false
	}

	delay := float64(p.initial) * math.Pow(p.multiplier, float64(p.attempts))
	p.attempts++
	if d := time.Duration(delay); d < p.maxDelay {
		return d, true
	}
	return p.maxDelay, true
}

// Reset zeroes the attempt counter.
func (p *Policy) Reset() { p.attempts = 0 }

// Attempts returns the number of NextDelay calls made since construction or
// the last Reset.
func (p *Policy) Attempts() uint32 { return p.attempts }

// AttemptStr renders the current attempt as "Attempt N/M" or "Attempt N/Inf"
// for logging, matching the original implementation's wording.
func (p *Policy) AttemptStr() string {
	if p.maxAttempts == nil {
		return fmt.Sprintf("Attempt %d/Inf", p.attempts)
	}
	return fmt.Sprintf("Attempt %d/%d", p.attempts, *p.maxAttempts)
}
