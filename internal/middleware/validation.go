package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	apierrors "keymint/internal/errors"
	"keymint/internal/keygen"
)

// ValidationMiddleware guards request bodies and validates payload structs
type ValidationMiddleware struct {
	validator   *validator.Validate
	logger      *slog.Logger
	maxBodySize int64
}

// NewValidationMiddleware creates a new validation middleware
func NewValidationMiddleware(logger *slog.Logger) *ValidationMiddleware {
	v := validator.New()

	v.RegisterValidation("licensekey", isLicenseKey)
	v.RegisterValidation("recoverycode", isRecoveryCode)

	// Use JSON tag names in error messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &ValidationMiddleware{
		validator:   v,
		logger:      logger.With(slog.String("component", "validation_middleware")),
		maxBodySize: 64 * 1024,
	}
}

// GuardBody rejects oversized or syntactically invalid JSON bodies before
// the handler decodes them.
func (m *ValidationMiddleware) GuardBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if r.ContentLength > m.maxBodySize {
			apierrors.WriteError(w, apierrors.New(
				http.StatusRequestEntityTooLarge,
				"PAYLOAD_TOO_LARGE",
				"Request body exceeds maximum allowed size",
			))
			return
		}

		if r.Body != nil && r.ContentLength > 0 {
			body, err := io.ReadAll(io.LimitReader(r.Body, m.maxBodySize))
			if err != nil {
				m.logger.ErrorContext(r.Context(), "failed to read request body",
					slog.String("error", err.Error()))
				apierrors.WriteError(w, apierrors.InvalidRequestWithError(err))
				return
			}

			// Restore body for handlers
			r.Body = io.NopCloser(bytes.NewReader(body))

			if len(body) > 0 && !json.Valid(body) {
				apierrors.WriteError(w, apierrors.New(
					http.StatusBadRequest,
					"INVALID_JSON",
					"Request body contains invalid JSON",
				))
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// ValidateStruct validates a payload struct and converts failures to an APIError
func (m *ValidationMiddleware) ValidateStruct(v interface{}) error {
	err := m.validator.Struct(v)
	if err == nil {
		return nil
	}

	var details []apierrors.ValidationError
	for _, fe := range err.(validator.ValidationErrors) {
		details = append(details, apierrors.ValidationError{
			Field:   fe.Field(),
			Message: formatFieldError(fe),
		})
	}

	return apierrors.NewWithDetails(
		http.StatusBadRequest,
		"VALIDATION_FAILED",
		"Request validation failed",
		details,
	)
}

func formatFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "licensekey":
		return "must be a well formed license key"
	case "recoverycode":
		return "must be a well formed recovery code"
	case "min":
		return "is below the minimum " + fe.Param()
	case "max":
		return "exceeds the maximum " + fe.Param()
	default:
		return "is invalid"
	}
}

func isLicenseKey(fl validator.FieldLevel) bool {
	return keygen.ValidateLicenseKeyFormat(keygen.Normalize(fl.Field().String())) == nil
}

func isRecoveryCode(fl validator.FieldLevel) bool {
	return keygen.ValidateRecoveryCodeFormat(keygen.Normalize(fl.Field().String())) == nil
}
