package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// ErrorClass is the outcome category of a failed generative call.
type ErrorClass int

const (
	ErrorClassNone ErrorClass = iota
	ErrorClassTimeout
	ErrorClassRateLimited
	ErrorClassUnavailable
	ErrorClassFatal
)

func (c ErrorClass) String() string {
	switch c {
	case ErrorClassNone:
		return "none"
	case ErrorClassTimeout:
		return "timeout"
	case ErrorClassRateLimited:
		return "rate_limited"
	case ErrorClassUnavailable:
		return "unavailable"
	default:
		return "fatal"
	}
}

// ProviderError is the normalized shape of an SDK failure.
type ProviderError struct {
	Provider   string
	Model      string
	StatusCode int
	Code       string
	Host       string
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s API error", e.Provider)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	} else if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

var rateLimitMarkers = []string{
	"429",
	"too many requests",
	"resource_exhausted",
	"overloaded",
}

// unavailableSignatures pair an error code with the backend host it must be
// reported against; both have to appear for the signature to match.
var unavailableSignatures = []struct {
	code string
	host string
}{
	{code: "no such host", host: "googleapis.com"},
	{code: "UNAVAILABLE", host: "googleapis.com"},
	{code: "no such host", host: "api.openai.com"},
	{code: "no such host", host: "api.anthropic.com"},
	{code: "connection refused", host: ":11434"},
}

// ClassifyError maps any error returned by an Invoker to an ErrorClass. It
// has no side effects.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassNone
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorClassTimeout
	}
	if isRateLimited(err) {
		return ErrorClassRateLimited
	}
	if isKnownUnavailable(err) {
		return ErrorClassUnavailable
	}
	return ErrorClassFatal
}

func isRateLimited(err error) bool {
	for _, code := range statusCodes(err) {
		if code == http.StatusTooManyRequests {
			return true
		}
	}
	text := strings.ToLower(errorText(err))
	for _, marker := range rateLimitMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

func isKnownUnavailable(err error) bool {
	text := errorText(err)
	var pe *ProviderError
	if errors.As(err, &pe) {
		text += " " + pe.Code + " " + pe.Host
	}
	for _, sig := range unavailableSignatures {
		if strings.Contains(text, sig.code) && strings.Contains(text, sig.host) {
			return true
		}
	}
	return false
}

// errorText concatenates the message of the error and of every error in its
// chain; some SDKs only put the status in an inner message.
func errorText(err error) string {
	var parts []string
	walkErrors(err, 0, func(e error) {
		parts = append(parts, e.Error())
		if pe, ok := e.(*ProviderError); ok && pe.Message != "" {
			parts = append(parts, pe.Message)
		}
	})
	return strings.Join(parts, " | ")
}

// statusCodes collects every HTTP status code field found anywhere in the
// chain. Providers disagree on where the status lives.
func statusCodes(err error) []int {
	var codes []int
	walkErrors(err, 0, func(e error) {
		switch v := e.(type) {
		case *ProviderError:
			codes = append(codes, v.StatusCode)
		case *openai.APIError:
			codes = append(codes, v.HTTPStatusCode)
		case *openai.RequestError:
			codes = append(codes, v.HTTPStatusCode)
		case *anthropic.Error:
			codes = append(codes, v.StatusCode)
		case *genai.APIError:
			codes = append(codes, v.Code)
		}
	})
	return codes
}

const maxErrorDepth = 8

func walkErrors(err error, depth int, visit func(error)) {
	if err == nil || depth > maxErrorDepth {
		return
	}
	visit(err)
	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		for _, inner := range u.Unwrap() {
			walkErrors(inner, depth+1, visit)
		}
	case interface{ Unwrap() error }:
		walkErrors(u.Unwrap(), depth+1, visit)
	}
}

// providerCode extracts the provider's own error code for user-facing messages.
func providerCode(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		if pe.Code != "" {
			return pe.Code
		}
		if pe.StatusCode != 0 {
			return fmt.Sprintf("%d", pe.StatusCode)
		}
	}
	return ""
}

func providerName(err error, model string) string {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Provider != "" {
		return pe.Provider
	}
	return providerForModel(model)
}
