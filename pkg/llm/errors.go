package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrorKind classifies generation failures.
type ErrorKind string

const (
	// ErrConfiguration means the host-side setup is incomplete (for example
	// a missing credential). No network call was made.
	ErrConfiguration ErrorKind = "configuration"

	// ErrInvalidCredential maps HTTP 401. Fatal to the round.
	ErrInvalidCredential ErrorKind = "invalid_credential"

	// ErrRateLimited maps HTTP 429. Fatal to the round.
	ErrRateLimited ErrorKind = "rate_limited"

	// ErrNetwork covers transport failures and other non-200 responses.
	ErrNetwork ErrorKind = "network"
)

// Error is a classified generation error carrying the provider it came from
// and a user-facing message.
type Error struct {
	Kind     ErrorKind
	Provider string
	Message  string

	// Status is the HTTP status code when the error came from a response.
	Status int
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ConfigurationError builds an ErrConfiguration error.
func ConfigurationError(provider, message string) *Error {
	return &Error{Kind: ErrConfiguration, Provider: provider, Message: message}
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// maxErrorBodyBytes bounds how much of an error response body is read when
// extracting a provider error message.
const maxErrorBodyBytes = 8 * 1024

// ErrorFromResponse classifies a non-200 provider response into an *Error.
// 401 becomes invalid_credential, 429 rate_limited, anything else network.
// The message is extracted best-effort from a JSON error body read up to a
// bounded prefix; a generic fallback is used when nothing usable is found.
func ErrorFromResponse(provider string, status int, body io.Reader) *Error {
	e := &Error{Provider: provider, Status: status}

	switch status {
	case http.StatusUnauthorized:
		e.Kind = ErrInvalidCredential
	case http.StatusTooManyRequests:
		e.Kind = ErrRateLimited
	default:
		e.Kind = ErrNetwork
	}

	e.Message = extractErrorMessage(body)
	if e.Message == "" {
		switch e.Kind {
		case ErrInvalidCredential:
			e.Message = "invalid or expired API credential"
		case ErrRateLimited:
			e.Message = "rate limited by provider"
		default:
			e.Message = fmt.Sprintf("provider returned HTTP %d", status)
		}
	}

	return e
}

// extractErrorMessage pulls a human-readable message out of the common
// provider error body shapes:
//
//	{"error": {"message": "..."}}   (OpenAI)
//	{"error": {"type": "...", "message": "..."}}   (Anthropic)
//	{"error": "..."}
//	{"message": "..."}
func extractErrorMessage(body io.Reader) string {
	if body == nil {
		return ""
	}

	data, err := io.ReadAll(io.LimitReader(body, maxErrorBodyBytes))
	if err != nil || len(data) == 0 {
		return ""
	}

	var probe struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return ""
	}

	if len(probe.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(probe.Error, &nested); err == nil && nested.Message != "" {
			return strings.TrimSpace(nested.Message)
		}

		var flat string
		if err := json.Unmarshal(probe.Error, &flat); err == nil && flat != "" {
			return strings.TrimSpace(flat)
		}
	}

	return strings.TrimSpace(probe.Message)
}
