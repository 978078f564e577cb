package market

import "errors"

// Error taxonomy of the market-data pipeline. None of these is fatal: callers
// show a warning and keep rendering the last good data or an empty state.
var (
	// ErrUpstreamUnavailable means the upstream could not be reached or kept
	// failing until the retry budget ran out.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrUpstreamMalformed means the upstream answered with a payload that does
	// not match the expected schema or breaks an OHLC invariant.
	ErrUpstreamMalformed = errors.New("upstream response malformed")
	// ErrEmptySeries means no valid rows survived normalization.
	ErrEmptySeries = errors.New("empty series")
	// ErrValidation marks an unsupported window, symbol or feature value.
	ErrValidation = errors.New("validation error")
	// ErrPredictionUnavailable means the inference endpoint was unreachable or
	// answered with an error status.
	ErrPredictionUnavailable = errors.New("prediction unavailable")
	// ErrCooldown means the action was refused because its cooldown is running.
	ErrCooldown = errors.New("cooldown active")
)
