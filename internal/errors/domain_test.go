package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotActiveErrorUnwraps(t *testing.T) {
	err := LicenseNotActive("revoked")

	assert.ErrorIs(t, err, ErrLicenseNotActive)

	var notActive *NotActiveError
	require.ErrorAs(t, err, &notActive)
	assert.Equal(t, "revoked", notActive.Status)
	assert.Contains(t, err.Error(), "revoked")
}

func TestProblemDetailsMarshalIncludesExtensions(t *testing.T) {
	pd := NewProblemDetails(http.StatusForbidden, "/errors/license-not-active", "License Not Active", "detail", "/api/license/validate").
		WithExtension("trace_id", "abc-123").
		WithExtension("license_status", "refunded")

	data, err := json.Marshal(pd)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "/errors/license-not-active", decoded["type"])
	assert.Equal(t, float64(403), decoded["status"])
	assert.Equal(t, "abc-123", decoded["trace_id"])
	assert.Equal(t, "refunded", decoded["license_status"])
}

func asProblem(t *testing.T, err error) *ProblemDetails {
	t.Helper()
	pd, ok := MapDomainError(err, "trace-1", "/api/test").(*ProblemDetails)
	require.True(t, ok)
	return pd
}

func TestMapDomainErrorStatuses(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"malformed", fmt.Errorf("%w: bad key", ErrMalformedInput), http.StatusBadRequest, "MALFORMED_INPUT"},
		{"key not found", ErrKeyNotFound, http.StatusNotFound, "KEY_NOT_FOUND"},
		{"not active", LicenseNotActive("revoked"), http.StatusForbidden, "LICENSE_NOT_ACTIVE"},
		{"activation limit", ErrActivationLimit, http.StatusConflict, "ACTIVATION_LIMIT"},
		{"invalid code", ErrInvalidCode, http.StatusNotFound, "RECOVERY_FAILED"},
		{"already used", ErrCodeAlreadyUsed, http.StatusNotFound, "RECOVERY_FAILED"},
		{"decryption unavailable", ErrDecryptionUnavailable, http.StatusInternalServerError, "RECOVERY_UNAVAILABLE"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pd := asProblem(t, tt.err)
			assert.Equal(t, tt.status, pd.Status)
			assert.Equal(t, tt.code, pd.Extensions["error_code"])
			assert.Equal(t, "trace-1", pd.Extensions["trace_id"])
		})
	}
}

func TestMapDomainErrorNotActiveCarriesStatus(t *testing.T) {
	pd := asProblem(t, LicenseNotActive("refunded"))

	assert.Equal(t, "refunded", pd.Extensions["license_status"])
	assert.Contains(t, pd.Detail, "refunded")
}

func TestMapDomainErrorRecoveryDeclinesIndistinguishable(t *testing.T) {
	invalid := asProblem(t, ErrInvalidCode)
	used := asProblem(t, ErrCodeAlreadyUsed)

	assert.Equal(t, invalid.Status, used.Status)
	assert.Equal(t, invalid.Title, used.Title)
	assert.Equal(t, invalid.Detail, used.Detail)
	assert.Equal(t, invalid.Extensions["error_code"], used.Extensions["error_code"])
}

func TestMapDomainErrorDecryptionPromisesCodeUnconsumed(t *testing.T) {
	pd := asProblem(t, fmt.Errorf("%w: gcm open", ErrDecryptionUnavailable))

	assert.Equal(t, http.StatusInternalServerError, pd.Status)
	assert.Contains(t, pd.Detail, "not been consumed")
}
