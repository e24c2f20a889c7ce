package engine

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// RetryConfig defines the backoff between attempts at a failed window.
// Attempts are unbounded; only the delay is capped.
type RetryConfig struct {
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffMultiple float64
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.InitialDelay <= 0 {
		c.InitialDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = time.Minute
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.BackoffMultiple < 1 {
		c.BackoffMultiple = 2.0
	}
	return c
}

func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	delay := float64(config.InitialDelay) * math.Pow(config.BackoffMultiple, float64(attempt))
	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}
	return time.Duration(delay)
}

// resolveStartHeight turns a configured start block ("", "N" or "latest-N")
// into a height, relative to the confirmed target for the latest form.
func resolveStartHeight(start string, safeHeight uint64) (uint64, error) {
	if start == "" || start == "0" {
		return 0, nil
	}
	if strings.HasPrefix(start, "latest-") {
		offsetStr := strings.TrimPrefix(start, "latest-")
		n, err := strconv.ParseUint(offsetStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse start_block %q: %w", start, err)
		}
		if n > safeHeight {
			return 0, nil
		}
		return safeHeight - n, nil
	}

	n, err := strconv.ParseUint(start, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse start_block %q: %w", start, err)
	}
	return n, nil
}
