package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// Domain errors for the license lifecycle (sentinel errors for errors.Is checks)
var (
	// Validation path
	ErrKeyNotFound      = errors.New("license key not found")
	ErrLicenseNotActive = errors.New("license not active")
	ErrActivationLimit  = errors.New("activation limit reached")

	// Recovery path
	ErrInvalidCode           = errors.New("invalid recovery code")
	ErrCodeAlreadyUsed       = errors.New("recovery code already used")
	ErrDecryptionUnavailable = errors.New("recovery secret unavailable")

	// Codec
	ErrDecryptionFailed = errors.New("decryption failed")

	// Boundary
	ErrMalformedInput = errors.New("malformed input")

	// Startup
	ErrConfigurationMissing = errors.New("required configuration missing")

	// Webhook dedupe: a license already exists for the purchase session
	ErrDuplicatePurchase = errors.New("license already issued for purchase session")
)

// NotActiveError wraps ErrLicenseNotActive with the concrete license status
// so callers can surface "license is revoked" rather than a generic decline.
type NotActiveError struct {
	Status string
}

func (e *NotActiveError) Error() string {
	return fmt.Sprintf("license not active: status %s", e.Status)
}

func (e *NotActiveError) Unwrap() error {
	return ErrLicenseNotActive
}

// LicenseNotActive creates a NotActiveError for the given status
func LicenseNotActive(status string) error {
	return &NotActiveError{Status: status}
}

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON custom marshaler to include extensions
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{})

	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status

	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}

	for k, v := range pd.Extensions {
		data[k] = v
	}

	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	pd.Extensions[key] = value
	return pd
}

// MapDomainError maps domain errors to HTTP problem details.
//
// Declines that cannot help an attacker enumerate keys carry a precise
// reason (a revoked license says so); recovery declines beyond format
// validation stay generic so a valid code cannot be distinguished from a
// burned one faster than one redemption attempt at a time.
func MapDomainError(err error, traceID, instance string) render.Renderer {
	var notActive *NotActiveError

	switch {
	case errors.Is(err, ErrMalformedInput):
		return NewProblemDetails(
			http.StatusBadRequest,
			"/errors/malformed-input",
			"Malformed Input",
			err.Error(),
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "MALFORMED_INPUT")

	case errors.Is(err, ErrKeyNotFound):
		return NewProblemDetails(
			http.StatusNotFound,
			"/errors/key-not-found",
			"License Key Not Found",
			"No license matches the provided key.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "KEY_NOT_FOUND")

	case errors.As(err, &notActive):
		return NewProblemDetails(
			http.StatusForbidden,
			"/errors/license-not-active",
			"License Not Active",
			fmt.Sprintf("This license is %s and can no longer be used.", notActive.Status),
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "LICENSE_NOT_ACTIVE").
			WithExtension("license_status", notActive.Status)

	case errors.Is(err, ErrLicenseNotActive):
		return NewProblemDetails(
			http.StatusForbidden,
			"/errors/license-not-active",
			"License Not Active",
			"This license is no longer active.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "LICENSE_NOT_ACTIVE")

	case errors.Is(err, ErrActivationLimit):
		return NewProblemDetails(
			http.StatusConflict,
			"/errors/activation-limit",
			"Activation Limit Reached",
			"This license has reached its maximum number of activated users.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "ACTIVATION_LIMIT")

	case errors.Is(err, ErrInvalidCode), errors.Is(err, ErrCodeAlreadyUsed):
		// Deliberately indistinguishable from each other beyond the code:
		// a precise "already used" confirms the code was once valid.
		return NewProblemDetails(
			http.StatusNotFound,
			"/errors/recovery-failed",
			"Recovery Failed",
			"The recovery code is invalid or has already been used.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "RECOVERY_FAILED")

	case errors.Is(err, ErrDecryptionUnavailable), errors.Is(err, ErrDecryptionFailed):
		return NewProblemDetails(
			http.StatusInternalServerError,
			"/errors/recovery-unavailable",
			"Recovery Unavailable",
			"Recovery is temporarily unavailable. Your code has not been consumed.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "RECOVERY_UNAVAILABLE")

	default:
		return NewProblemDetails(
			http.StatusInternalServerError,
			"/errors/internal-error",
			"Internal Server Error",
			"An unexpected error occurred while processing your request.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "INTERNAL_ERROR")
	}
}
