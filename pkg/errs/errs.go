// Package errs provides the error-kind taxonomy shared across components.
// Kinds are tags, not types: wrap an underlying error with the matching
// sentinel via fmt.Errorf("%w: ...", ErrTransient, err) and test with
// errors.Is.
package errs

import "errors"

var (
	// ErrTransient covers exchange disconnects, reasoning-service timeouts,
	// and storage write retries. Recovered locally: retry with backoff or
	// drop-this-cycle-and-retry-next.
	ErrTransient = errors.New("transient")

	// ErrInputValidity covers malformed upstream messages, unparseable
	// reasoning-service output, and proposals failing sanity checks.
	// Recovered locally: skip the offending record.
	ErrInputValidity = errors.New("input validity")

	// ErrStateViolation covers a KnowledgeStore invariant check failing.
	// Fatal: indicates a bug.
	ErrStateViolation = errors.New("state violation")

	// ErrResourceExhaustion covers bounded queue overflow.
	ErrResourceExhaustion = errors.New("resource exhaustion")

	// ErrServiceUnavailable covers the reasoning service being down.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrStale is returned by MarketFeed reads when the cached price is
	// older than the configured staleness threshold.
	ErrStale = errors.New("stale price")

	// ErrInsufficientHistory is returned by MarketFeed.Klines when fewer
	// closed candles are cached than requested.
	ErrInsufficientHistory = errors.New("insufficient history")
)

// Is reports whether err is tagged with kind.
func Is(err, kind error) bool {
	return errors.Is(err, kind)
}
