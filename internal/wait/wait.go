// Package wait polls a growing text source until it shows a pattern.
package wait

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

const (
	DefaultPollInterval = 50 * time.Millisecond
	DefaultTimeout      = 10 * time.Second
)

var ErrTimeout = errors.New("timeout waiting for pattern")

// ReadFunc returns everything the source produced so far. A non-nil error
// means the source is finished and will not grow any more.
type ReadFunc func() (output string, err error)

type Config struct {
	Pattern      *regexp.Regexp
	Timeout      time.Duration
	PollInterval time.Duration
}

// ForPattern polls readFn until its output matches cfg.Pattern. The match
// is checked before the read error, so a source that prints the pattern and
// then ends still counts as matched. It returns the output seen last.
func ForPattern(ctx context.Context, readFn ReadFunc, cfg Config) (string, error) {
	if cfg.Pattern == nil {
		return "", errors.New("wait: nil pattern")
	}

	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = DefaultPollInterval
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		output, err := readFn()
		if cfg.Pattern.MatchString(output) {
			return output, nil
		}
		if err != nil {
			return output, err
		}

		select {
		case <-ctx.Done():
			return output, ctx.Err()
		case <-deadline.C:
			output, _ = readFn()
			if cfg.Pattern.MatchString(output) {
				return output, nil
			}
			return output, fmt.Errorf("%w %q after %s", ErrTimeout, cfg.Pattern.String(), timeout)
		case <-ticker.C:
		}
	}
}
