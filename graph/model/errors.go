package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ProviderError is an LLM API failure with a classification.
//
// Codes: "invalid_api_key", "rate_limited", "quota_exceeded", "timeout",
// "blocked", "api_error".
type ProviderError struct {
	Provider  string
	Code      string
	Message   string
	Retryable bool
	Cause     error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Code, e.Message)
}

// Unwrap returns the underlying SDK error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// ClassifyError wraps an SDK error from provider into a *ProviderError.
// Context errors are returned unchanged.
func ClassifyError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var existing *ProviderError
	if errors.As(err, &existing) {
		return err
	}

	msg := strings.ToLower(err.Error())
	pe := &ProviderError{Provider: provider, Message: err.Error(), Cause: err}

	switch {
	case containsAny(msg, "401", "403", "authentication", "api_key", "api key"):
		pe.Code = "invalid_api_key"
	case containsAny(msg, "quota", "insufficient_quota", "billing"):
		pe.Code = "quota_exceeded"
	case containsAny(msg, "429", "rate_limit", "rate limit", "too many requests"):
		pe.Code, pe.Retryable = "rate_limited", true
	case containsAny(msg, "timeout", "deadline", "temporarily", "overloaded", "connection reset",
		"connection refused", "500", "502", "503", "504"):
		pe.Code, pe.Retryable = "timeout", true
	default:
		pe.Code = "api_error"
	}
	return pe
}

func containsAny(s string, patterns ...string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
