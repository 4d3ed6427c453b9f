package http

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsageStatusRequiresIdentity(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodGet, "/api/usage/", nil, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUsageStatusFreshCaller(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodGet, "/api/usage/", nil, map[string]string{
		"X-User-ID": "user-1",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 0, body["count"])
	assert.EqualValues(t, 5, body["limit"])
	assert.Equal(t, true, body["can_export"])
}

func TestUsageIncrementCountsPerUser(t *testing.T) {
	env := newTestEnv(t, "")
	headers := map[string]string{"X-User-ID": "user-1"}

	rec := env.do(t, http.MethodPost, "/api/usage/increment", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decodeBody(t, rec)["count"])

	rec = env.do(t, http.MethodPost, "/api/usage/increment", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decodeBody(t, rec)["count"])

	// Another caller's meter is untouched.
	other := env.do(t, http.MethodGet, "/api/usage/", nil, map[string]string{
		"X-User-ID": "user-2",
	})
	require.Equal(t, http.StatusOK, other.Code)
	assert.EqualValues(t, 0, decodeBody(t, other)["count"])
}

func TestUsageIncrementReportsExhaustedCap(t *testing.T) {
	env := newTestEnv(t, "")
	headers := map[string]string{"X-User-ID": "user-1"}

	var last map[string]interface{}
	for i := 0; i < 5; i++ {
		rec := env.do(t, http.MethodPost, "/api/usage/increment", nil, headers)
		require.Equal(t, http.StatusOK, rec.Code)
		last = decodeBody(t, rec)
	}

	assert.EqualValues(t, 5, last["count"])
	assert.Equal(t, false, last["can_export"])
}
