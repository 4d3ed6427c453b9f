package http

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEndpointAcceptsIssuedKey(t *testing.T) {
	env := newTestEnv(t, "")
	issued := env.issue(t, "cs_1", "buyer@example.com")

	rec := env.do(t, http.MethodPost, "/api/license/validate", map[string]string{
		"license_key": issued.PlainKey,
		"user_id":     "user-1",
	}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, true, body["first_activation"])
	assert.NotEmpty(t, body["trace_id"])
}

func TestValidateEndpointRepeatActivationNotFirst(t *testing.T) {
	env := newTestEnv(t, "")
	issued := env.issue(t, "cs_1", "buyer@example.com")

	payload := map[string]string{"license_key": issued.PlainKey, "user_id": "user-1"}
	first := env.do(t, http.MethodPost, "/api/license/validate", payload, nil)
	require.Equal(t, http.StatusOK, first.Code)

	second := env.do(t, http.MethodPost, "/api/license/validate", payload, nil)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, false, decodeBody(t, second)["first_activation"])
}

func TestValidateEndpointFallsBackToHeaderIdentity(t *testing.T) {
	env := newTestEnv(t, "")
	issued := env.issue(t, "cs_1", "buyer@example.com")

	rec := env.do(t, http.MethodPost, "/api/license/validate", map[string]string{
		"license_key": issued.PlainKey,
	}, map[string]string{"X-User-ID": "header-user"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["valid"])
}

func TestValidateEndpointUnknownKey(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodPost, "/api/license/validate", map[string]string{
		"license_key": "ABCD-EFGH-JKMN-PQRS",
		"user_id":     "user-1",
	}, nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "KEY_NOT_FOUND", body["error_code"])
	assert.NotEmpty(t, body["trace_id"])
}

func TestValidateEndpointMalformedKey(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodPost, "/api/license/validate", map[string]string{
		"license_key": "not-a-key",
		"user_id":     "user-1",
	}, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MALFORMED_INPUT", decodeBody(t, rec)["error_code"])
}

func TestValidateEndpointMissingKeyField(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodPost, "/api/license/validate", map[string]string{
		"user_id": "user-1",
	}, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["detail"], "license_key")
}

func TestValidateEndpointRefundedLicense(t *testing.T) {
	env := newTestEnv(t, "")
	issued := env.issue(t, "cs_1", "buyer@example.com")
	require.NoError(t, env.license.MarkRefunded(testContext(), "cs_1", "chargeback"))

	rec := env.do(t, http.MethodPost, "/api/license/validate", map[string]string{
		"license_key": issued.PlainKey,
		"user_id":     "user-1",
	}, nil)

	require.Equal(t, http.StatusForbidden, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "LICENSE_NOT_ACTIVE", body["error_code"])
	assert.Equal(t, "refunded", body["license_status"])
}

func TestValidateEndpointActivationLimit(t *testing.T) {
	env := newTestEnv(t, "")
	issued := env.issue(t, "cs_1", "buyer@example.com")

	for i, user := range []string{"u1", "u2", "u3"} {
		rec := env.do(t, http.MethodPost, "/api/license/validate", map[string]string{
			"license_key": issued.PlainKey,
			"user_id":     user,
		}, nil)
		require.Equal(t, http.StatusOK, rec.Code, "activation %d", i+1)
	}

	rec := env.do(t, http.MethodPost, "/api/license/validate", map[string]string{
		"license_key": issued.PlainKey,
		"user_id":     "u4",
	}, nil)

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ACTIVATION_LIMIT", decodeBody(t, rec)["error_code"])
}

func TestRecoverEndpointReturnsKeyOnce(t *testing.T) {
	env := newTestEnv(t, "")
	issued := env.issue(t, "cs_1", "buyer@example.com")
	code := issued.PlainRecoveryCodes[0]

	rec := env.do(t, http.MethodPost, "/api/license/recover", map[string]string{
		"recovery_code": code,
	}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, issued.PlainKey, body["license_key"])
	assert.Equal(t, "buyer@example.com", body["email"])

	// A burned code declines exactly like an unknown one.
	again := env.do(t, http.MethodPost, "/api/license/recover", map[string]string{
		"recovery_code": code,
	}, nil)
	require.Equal(t, http.StatusNotFound, again.Code)
	assert.Equal(t, "RECOVERY_FAILED", decodeBody(t, again)["error_code"])
}

func TestRecoverEndpointDeclinesAreIndistinguishable(t *testing.T) {
	env := newTestEnv(t, "")
	issued := env.issue(t, "cs_1", "buyer@example.com")
	burned := issued.PlainRecoveryCodes[0]

	first := env.do(t, http.MethodPost, "/api/license/recover", map[string]string{
		"recovery_code": burned,
	}, nil)
	require.Equal(t, http.StatusOK, first.Code)

	usedResp := env.do(t, http.MethodPost, "/api/license/recover", map[string]string{
		"recovery_code": burned,
	}, nil)
	unknownResp := env.do(t, http.MethodPost, "/api/license/recover", map[string]string{
		"recovery_code": "RC-AAAA-BBBB-CCCC",
	}, nil)

	require.Equal(t, http.StatusNotFound, usedResp.Code)
	require.Equal(t, http.StatusNotFound, unknownResp.Code)

	used := decodeBody(t, usedResp)
	unknown := decodeBody(t, unknownResp)
	assert.Equal(t, used["title"], unknown["title"])
	assert.Equal(t, used["detail"], unknown["detail"])
	assert.Equal(t, used["error_code"], unknown["error_code"])
}

func TestRecoverEndpointMissingCodeField(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodPost, "/api/license/recover", map[string]string{}, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["detail"], "recovery_code")
}

func TestMaskKeyNeverRevealsFullKey(t *testing.T) {
	masked := maskKey("ABCD-EFGH-JKMN-PQRS")
	assert.Equal(t, "ABCD****", masked)
	assert.False(t, strings.Contains(masked, "EFGH"))

	assert.Equal(t, "****", maskKey("AB"))
}
