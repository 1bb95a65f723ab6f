// Package retry runs calls to external model APIs with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Policy controls how often and how long a call is retried.
type Policy struct {
	// MaxAttempts counts the first call; 1 disables retries.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Multiplier is applied to the backoff after every attempt (default 2).
	Multiplier float64
}

// Backoff returns the wait before retry number attempt (0-based). A positive apiDelay,
// as suggested by the server, replaces the initial backoff as the base.
func (p Policy) Backoff(attempt int, apiDelay time.Duration) time.Duration {
	base := p.InitialBackoff
	if apiDelay > 0 {
		base = apiDelay
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	d := float64(base)
	for i := 0; i < attempt; i++ {
		d *= mult
		if p.MaxBackoff > 0 && time.Duration(d) >= p.MaxBackoff {
			break
		}
	}
	backoff := time.Duration(d)
	if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
		backoff = p.MaxBackoff
	}
	return backoff
}

// HTTPError carries the status code of a failed API call so Transient can classify it.
type HTTPError struct {
	StatusCode int
	Err        error
}

func (e *HTTPError) Error() string { return fmt.Sprintf("status %d: %v", e.StatusCode, e.Err) }

func (e *HTTPError) Unwrap() error { return e.Err }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Transient reports whether err is worth retrying: rate limits, timeouts, 5xx responses
// and network failures. Context errors, Permanent errors and other 4xx responses are not.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	var herr *HTTPError
	if errors.As(err, &herr) {
		switch {
		case herr.StatusCode == 429, herr.StatusCode == 408:
			return true
		case herr.StatusCode >= 500:
			return true
		case herr.StatusCode >= 400:
			return false
		}
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	if IsRateLimit(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"timeout", "temporarily", "overloaded", "connection reset", "connection refused"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// IsRateLimit matches 429 responses and quota errors.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var herr *HTTPError
	if errors.As(err, &herr) && herr.StatusCode == 429 {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "429") ||
		strings.Contains(s, "RESOURCE_EXHAUSTED") ||
		strings.Contains(strings.ToLower(s), "rate limit") ||
		strings.Contains(strings.ToLower(s), "quota")
}

var retryDelayRe = regexp.MustCompile(`(?i)(?:retry in |retryDelay[:\s"]+|retry-after[:\s]+)(\d+(?:\.\d+)?)\s*s`)

// SuggestedDelay parses a server-suggested wait such as "Please retry in 4.5s".
// It returns 0 when none is present.
func SuggestedDelay(err error) time.Duration {
	if err == nil {
		return 0
	}
	m := retryDelayRe.FindStringSubmatch(err.Error())
	if len(m) < 2 {
		return 0
	}
	secs, perr := strconv.ParseFloat(m[1], 64)
	if perr != nil {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// Notify is called before each wait with the attempt that failed (1-based).
type Notify func(attempt int, err error, wait time.Duration)

// Do calls fn until it succeeds, returns a non-transient error, or the policy runs out
// of attempts. The last error is returned. Cancelling ctx stops immediately with ctx.Err().
func Do(ctx context.Context, p Policy, notify Notify, fn func(ctx context.Context) error) error {
	attempts := max(p.MaxAttempts, 1)
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if !Transient(err) || attempt == attempts-1 {
			break
		}
		wait := p.Backoff(attempt, SuggestedDelay(err))
		if notify != nil {
			notify(attempt+1, err, wait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	if perm, ok := err.(*permanentError); ok {
		return perm.err
	}
	return err
}
