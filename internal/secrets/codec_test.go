package secrets

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "keymint/internal/errors"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	codec, err := NewCodec("test-master-key-material", "key-pepper", "recovery-pepper")
	require.NoError(t, err)
	return codec
}

func TestNewCodecRequiresAllMaterial(t *testing.T) {
	tests := []struct {
		name           string
		masterKey      string
		keyPepper      string
		recoveryPepper string
	}{
		{"missing master key", "", "kp", "rp"},
		{"missing key pepper", "mk", "", "rp"},
		{"missing recovery pepper", "mk", "kp", ""},
		{"all missing", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCodec(tt.masterKey, tt.keyPepper, tt.recoveryPepper)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrConfigurationMissing)
		})
	}
}

func TestHashKeyDeterministic(t *testing.T) {
	codec := newTestCodec(t)

	h1 := codec.HashKey("ABCD-EFGH-JKMN-PQRS")
	h2 := codec.HashKey("ABCD-EFGH-JKMN-PQRS")

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, codec.HashKey("ABCD-EFGH-JKMN-PQRT"))
	assert.NotContains(t, h1, "ABCD")
}

func TestHashKeyAndRecoveryUseDistinctPeppers(t *testing.T) {
	codec := newTestCodec(t)

	assert.NotEqual(t, codec.HashKey("SAME-INPUT"), codec.HashRecoveryCode("SAME-INPUT"))
}

func TestVerifyKey(t *testing.T) {
	codec := newTestCodec(t)
	hash := codec.HashKey("ABCD-EFGH-JKMN-PQRS")

	assert.True(t, codec.VerifyKey("ABCD-EFGH-JKMN-PQRS", hash))
	assert.False(t, codec.VerifyKey("WXYZ-EFGH-JKMN-PQRS", hash))
	assert.False(t, codec.VerifyKey("ABCD-EFGH-JKMN-PQRS", "bogus"))
}

func TestVerifyRecoveryCode(t *testing.T) {
	codec := newTestCodec(t)
	hash := codec.HashRecoveryCode("RC-AAAA-BBBB-CCCC")

	assert.True(t, codec.VerifyRecoveryCode("RC-AAAA-BBBB-CCCC", hash))
	assert.False(t, codec.VerifyRecoveryCode("RC-AAAA-BBBB-CCCD", hash))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	codec := newTestCodec(t)

	blob, err := codec.Encrypt("ABCD-EFGH-JKMN-PQRS")
	require.NoError(t, err)
	require.NotEmpty(t, blob)

	plain, err := codec.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, "ABCD-EFGH-JKMN-PQRS", plain)
}

func TestEncryptProducesFreshBlobs(t *testing.T) {
	codec := newTestCodec(t)

	b1, err := codec.Encrypt("ABCD-EFGH-JKMN-PQRS")
	require.NoError(t, err)
	b2, err := codec.Encrypt("ABCD-EFGH-JKMN-PQRS")
	require.NoError(t, err)

	// Fresh salt and nonce per call, so identical plaintexts differ on the wire.
	assert.NotEqual(t, b1, b2)
}

func TestEncryptBlobDoesNotLeakPlaintext(t *testing.T) {
	codec := newTestCodec(t)

	blob, err := codec.Encrypt("ABCD-EFGH-JKMN-PQRS")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(blob)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "ABCD-EFGH")
}

func TestDecryptRejectsTamperedBlob(t *testing.T) {
	codec := newTestCodec(t)

	blob, err := codec.Encrypt("ABCD-EFGH-JKMN-PQRS")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(blob)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	tampered := base64.StdEncoding.EncodeToString(raw)

	_, err = codec.Decrypt(tampered)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrDecryptionFailed)
}

func TestDecryptRejectsGarbage(t *testing.T) {
	codec := newTestCodec(t)

	tests := []struct {
		name string
		blob string
	}{
		{"not base64", "!!not-base64!!"},
		{"too short", base64.StdEncoding.EncodeToString([]byte("short"))},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Decrypt(tt.blob)
			assert.Error(t, err)
		})
	}
}

func TestDecryptWithDifferentMasterKeyFails(t *testing.T) {
	codec := newTestCodec(t)
	other, err := NewCodec("different-master-key", "key-pepper", "recovery-pepper")
	require.NoError(t, err)

	blob, err := codec.Encrypt("ABCD-EFGH-JKMN-PQRS")
	require.NoError(t, err)

	_, err = other.Decrypt(blob)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrDecryptionFailed)
}

func TestEncryptLongSecret(t *testing.T) {
	codec := newTestCodec(t)
	secret := strings.Repeat("ABCD-", 200)

	blob, err := codec.Encrypt(secret)
	require.NoError(t, err)

	plain, err := codec.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, secret, plain)
}
