package markov

import "errors"

var (
	// ErrInvalidInput marks a broken caller contract, such as ingesting an
	// empty sentence or sampling from no candidates.
	ErrInvalidInput = errors.New("markov: invalid input")

	// ErrNoData is returned by generation when the tenant has no starter
	// words. It is an expected condition, not a failure.
	ErrNoData = errors.New("markov: no indexed data for tenant")

	// ErrStorageUnavailable wraps store failures the caller may retry.
	ErrStorageUnavailable = errors.New("markov: storage unavailable")
)
