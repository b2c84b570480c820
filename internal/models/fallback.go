// Package models implements a per-agent model fallback chain: given a
// primary model and an ordered list of fallbacks, walk the chain on any
// failover-eligible error (timeout, rate limit, server error) and surface
// the full attempt history alongside whichever candidate finally succeeded.
package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ModelCandidate is a provider/model pair to try.
type ModelCandidate struct {
	Provider string
	Model    string
}

// String returns the "provider/model" key for this candidate.
func (c ModelCandidate) String() string {
	return ModelKey(c.Provider, c.Model)
}

// FallbackAttempt records one failed candidate in a fallback walk.
type FallbackAttempt struct {
	Provider string
	Model    string
	Error    string
	Reason   string // e.g. ReasonRateLimit, ReasonTimeout
}

// FallbackResult carries the successful candidate plus every attempt that
// preceded it.
type FallbackResult[T any] struct {
	Result   T
	Provider string
	Model    string
	Attempts []FallbackAttempt
}

// FallbackConfig configures one fallback walk: a primary model and an
// ordered list of fallbacks, each either "provider/model" or a bare model
// name (resolved against PrimaryProvider).
type FallbackConfig struct {
	PrimaryProvider string
	PrimaryModel    string
	Fallbacks       []string
}

// RunFunc performs the operation being retried against one candidate.
type RunFunc[T any] func(ctx context.Context, provider, model string) (T, error)

// OnErrorFunc is called after each failed attempt, before moving to the
// next candidate.
type OnErrorFunc func(provider, model string, err error, attempt, total int)

// FailoverError marks an error as eligible (or not, for ReasonAbort) to
// trigger a fallback to the next candidate.
type FailoverError struct {
	Err      error
	Provider string
	Model    string
	Reason   string
}

func (e *FailoverError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Reason)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, " ")
}

func (e *FailoverError) Unwrap() error {
	return e.Err
}

// Error reasons classifyErrorReason assigns from error content.
const (
	ReasonRateLimit    = "rate_limit"
	ReasonAuthError    = "auth_error"
	ReasonTimeout      = "timeout"
	ReasonServerError  = "server_error"
	ReasonBilling      = "billing"
	ReasonUnavailable  = "model_unavailable"
	ReasonAbort        = "abort"
	ReasonInvalid      = "invalid_request"
	ReasonContentBlock = "content_blocked"
	ReasonUnknown      = "unknown"
)

var (
	// ErrAborted indicates user- or context-initiated abort; never retried.
	ErrAborted = errors.New("operation aborted")

	// ErrAllCandidatesFailed wraps the aggregated error when every
	// candidate in a fallback chain failed.
	ErrAllCandidatesFailed = errors.New("all model candidates failed")
)

// IsFailoverError reports whether err should advance a fallback walk to the
// next candidate rather than aborting it.
func IsFailoverError(err error) bool {
	if err == nil {
		return false
	}
	var failoverErr *FailoverError
	if errors.As(err, &failoverErr) {
		return failoverErr.Reason != ReasonAbort
	}
	if IsAbortError(err) {
		return false
	}
	switch classifyErrorReason(err) {
	case ReasonRateLimit, ReasonServerError, ReasonTimeout, ReasonBilling,
		ReasonAuthError, ReasonUnavailable:
		return true
	default:
		return false
	}
}

// IsAbortError reports whether err represents a user- or context-initiated
// abort, which must not trigger a fallback retry.
func IsAbortError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrAborted) {
		return true
	}
	var failoverErr *FailoverError
	if errors.As(err, &failoverErr) {
		return failoverErr.Reason == ReasonAbort
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "aborted") ||
		strings.Contains(errStr, "cancelled") ||
		strings.Contains(errStr, "user abort")
}

// IsTimeoutError reports whether err represents a deadline or timeout,
// which is failover-eligible even though it also satisfies the abort-like
// phrasing a server might use.
func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var failoverErr *FailoverError
	if errors.As(err, &failoverErr) {
		return failoverErr.Reason == ReasonTimeout
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context deadline") ||
		strings.Contains(errStr, "etimedout")
}

// CoerceToFailoverError wraps err as a FailoverError, classifying its
// reason from its content unless it already carries one.
func CoerceToFailoverError(err error, provider, model string) *FailoverError {
	if err == nil {
		return nil
	}
	var existing *FailoverError
	if errors.As(err, &existing) {
		if existing.Provider == "" {
			existing.Provider = provider
		}
		if existing.Model == "" {
			existing.Model = model
		}
		return existing
	}
	return &FailoverError{Err: err, Provider: provider, Model: model, Reason: classifyErrorReason(err)}
}

// classifyErrorReason infers a Reason from an error's message, for
// providers that don't give us a structured error type.
func classifyErrorReason(err error) string {
	if err == nil {
		return ReasonUnknown
	}
	if errors.Is(err, context.Canceled) {
		return ReasonAbort
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "aborted"), strings.Contains(errStr, "cancelled"), strings.Contains(errStr, "user abort"):
		return ReasonAbort
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"),
		strings.Contains(errStr, "context deadline"), strings.Contains(errStr, "etimedout"):
		return ReasonTimeout
	case strings.Contains(errStr, "rate limit"), strings.Contains(errStr, "rate_limit"),
		strings.Contains(errStr, "too many requests"), strings.Contains(errStr, "429"):
		return ReasonRateLimit
	case strings.Contains(errStr, "unauthorized"), strings.Contains(errStr, "invalid api key"),
		strings.Contains(errStr, "invalid_api_key"), strings.Contains(errStr, "authentication"),
		strings.Contains(errStr, "401"), strings.Contains(errStr, "403"):
		return ReasonAuthError
	case strings.Contains(errStr, "billing"), strings.Contains(errStr, "payment"),
		strings.Contains(errStr, "quota"), strings.Contains(errStr, "insufficient"), strings.Contains(errStr, "402"):
		return ReasonBilling
	case strings.Contains(errStr, "model not found"), strings.Contains(errStr, "model_not_found"),
		strings.Contains(errStr, "does not exist"), strings.Contains(errStr, "unavailable"):
		return ReasonUnavailable
	case strings.Contains(errStr, "content_filter"), strings.Contains(errStr, "content policy"),
		strings.Contains(errStr, "safety"), strings.Contains(errStr, "blocked"):
		return ReasonContentBlock
	case strings.Contains(errStr, "internal server"), strings.Contains(errStr, "server error"),
		strings.Contains(errStr, "500"), strings.Contains(errStr, "502"),
		strings.Contains(errStr, "503"), strings.Contains(errStr, "504"):
		return ReasonServerError
	case strings.Contains(errStr, "invalid"), strings.Contains(errStr, "bad request"), strings.Contains(errStr, "400"):
		return ReasonInvalid
	default:
		return ReasonUnknown
	}
}

// RunWithModelFallback walks config's candidates in order, calling run
// against each until one succeeds or every candidate has failed with a
// failover-eligible error. A non-failover error, or an abort, returns
// immediately without trying the remaining candidates.
func RunWithModelFallback[T any](ctx context.Context, config *FallbackConfig, run RunFunc[T], onError OnErrorFunc) (*FallbackResult[T], error) {
	candidates := BuildFallbackCandidates(config)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no model candidates configured")
	}

	var attempts []FallbackAttempt
	total := len(candidates)

	for i, candidate := range candidates {
		if ctx.Err() != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil, ErrAborted
			}
			return nil, ctx.Err()
		}

		result, err := run(ctx, candidate.Provider, candidate.Model)
		if err == nil {
			return &FallbackResult[T]{Result: result, Provider: candidate.Provider, Model: candidate.Model, Attempts: attempts}, nil
		}

		failoverErr := CoerceToFailoverError(err, candidate.Provider, candidate.Model)
		attempts = append(attempts, FallbackAttempt{
			Provider: candidate.Provider,
			Model:    candidate.Model,
			Error:    err.Error(),
			Reason:   failoverErr.Reason,
		})
		if onError != nil {
			onError(candidate.Provider, candidate.Model, err, i+1, total)
		}

		if IsAbortError(err) && !IsTimeoutError(err) {
			return nil, err
		}
		if i == len(candidates)-1 {
			break
		}
		if !IsFailoverError(err) {
			return nil, err
		}
	}

	return nil, buildAggregatedError(attempts)
}

// ModelKey lower-cases and joins a provider/model pair into the canonical
// key used for comparisons.
func ModelKey(provider, model string) string {
	return fmt.Sprintf("%s/%s", strings.ToLower(provider), strings.ToLower(model))
}

// ParseModelRef parses a "provider/model" string, or a bare model name
// resolved against defaultProvider. Returns nil for a blank ref.
func ParseModelRef(ref, defaultProvider string) *ModelCandidate {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil
	}
	parts := strings.SplitN(ref, "/", 2)
	if len(parts) == 1 {
		return &ModelCandidate{Provider: defaultProvider, Model: parts[0]}
	}
	return &ModelCandidate{Provider: parts[0], Model: parts[1]}
}

// BuildFallbackCandidates expands config into an ordered candidate list:
// the primary model first, then each fallback, skipping any fallback that
// duplicates the primary.
func BuildFallbackCandidates(config *FallbackConfig) []ModelCandidate {
	if config == nil {
		return nil
	}
	candidates := make([]ModelCandidate, 0, 1+len(config.Fallbacks))
	if config.PrimaryProvider != "" && config.PrimaryModel != "" {
		candidates = append(candidates, ModelCandidate{Provider: config.PrimaryProvider, Model: config.PrimaryModel})
	}
	for _, ref := range config.Fallbacks {
		candidate := ParseModelRef(ref, config.PrimaryProvider)
		if candidate == nil {
			continue
		}
		if candidate.Provider == config.PrimaryProvider && candidate.Model == config.PrimaryModel {
			continue
		}
		candidates = append(candidates, *candidate)
	}
	return candidates
}

// buildAggregatedError summarizes every failed attempt into one error
// wrapping ErrAllCandidatesFailed.
func buildAggregatedError(attempts []FallbackAttempt) error {
	if len(attempts) == 0 {
		return ErrAllCandidatesFailed
	}
	var sb strings.Builder
	sb.WriteString("all model candidates failed:\n")
	for i, a := range attempts {
		fmt.Fprintf(&sb, "  %d. %s/%s: [%s] %s", i+1, a.Provider, a.Model, a.Reason, a.Error)
		if i < len(attempts)-1 {
			sb.WriteString("\n")
		}
	}
	return fmt.Errorf("%w: %s", ErrAllCandidatesFailed, sb.String())
}
