package http

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"keymint/internal/license"
	"keymint/internal/middleware"
	"keymint/internal/secrets"
	"keymint/internal/services"
	"keymint/internal/usage"
)

type testEnv struct {
	router  chi.Router
	core    *license.Service
	license services.LicenseService
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testContext() context.Context {
	return context.Background()
}

// newTestEnv mounts the handlers the way the application router does,
// with the in-memory stores behind real services.
func newTestEnv(t *testing.T, webhookSecret string) *testEnv {
	t.Helper()

	codec, err := secrets.NewCodec(
		"0123456789abcdef0123456789abcdef",
		"key-pepper-for-tests",
		"recovery-pepper-for-tests",
	)
	require.NoError(t, err)

	logger := testLogger()
	core := license.NewService(license.NewMemoryStore(), codec, nil, logger, nil, license.Options{
		MaxActivations:    3,
		RecoveryCodeCount: 3,
	})
	meter, err := usage.NewMeter(usage.NewMemoryStore(), 5, logger)
	require.NoError(t, err)

	licenseSvc := services.NewLicenseService(core, logger)
	usageSvc := services.NewUsageService(meter)
	healthSvc := services.NewHealthService(nil, "test")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Identity)
	r.Get("/api/health", NewHealthHandler(healthSvc, logger).Health)
	r.Mount("/api/license", NewLicenseHandler(licenseSvc, logger).Routes())
	r.Mount("/api/usage", NewUsageHandler(usageSvc, logger).Routes())
	r.Mount("/api/webhooks", NewWebhookHandler(licenseSvc, webhookSecret, logger).Routes())

	return &testEnv{router: r, core: core, license: licenseSvc}
}

func (e *testEnv) issue(t *testing.T, sessionID, email string) *license.IssueResult {
	t.Helper()
	result, duplicate, err := e.license.IssueFromPurchase(context.Background(), services.PurchaseNotice{
		SessionID: sessionID,
		Email:     email,
	})
	require.NoError(t, err)
	require.False(t, duplicate)
	return result
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	return decoded
}

func signBody(t *testing.T, secret string, body interface{}) (string, []byte) {
	t.Helper()
	encoded, err := json.Marshal(body)
	require.NoError(t, err)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(encoded)
	return hex.EncodeToString(mac.Sum(nil)), encoded
}

func signedRequest(t *testing.T, env *testEnv, path, secret string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	signature, encoded := signBody(t, secret, body)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(encoded))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signature)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}
