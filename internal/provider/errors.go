package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v3"
	"google.golang.org/genai"
)

var (
	// ErrInvalidRequest marks a request the backend rejected as malformed.
	// Such requests are never retried.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrAttemptsExhausted is returned once every retry attempt has failed.
	ErrAttemptsExhausted = errors.New("attempts exhausted")
)

// APIError is a non-2xx reply from an HTTP backend.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Body)
}

type failureClass int

const (
	failureTransient failureClass = iota
	failureRateLimit
	failureInvalid
)

// classify maps a backend error onto the retry policy.
func classify(err error) failureClass {
	status := 0
	var apiErr *APIError
	var oaiErr *openai.Error
	var genErr genai.APIError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.StatusCode
	case errors.As(err, &oaiErr):
		status = oaiErr.StatusCode
	case errors.As(err, &genErr):
		status = genErr.Code
	case errors.Is(err, ErrInvalidRequest):
		return failureInvalid
	}
	switch status {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return failureInvalid
	case http.StatusTooManyRequests:
		return failureRateLimit
	}
	return failureTransient
}

func isCanceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}
