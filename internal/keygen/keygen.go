// Package keygen mints license keys and recovery codes and validates
// their wire formats.
//
// License keys are four 4-character groups joined by hyphens
// (XXXX-XXXX-XXXX-XXXX); recovery codes carry an RC- prefix followed by
// three such groups (RC-XXXX-XXXX-XXXX) so the two credential shapes can
// never be mistaken for one another. Generation draws from an uppercase
// alphanumeric alphabet with the easily confused characters (0/O, 1/I/L)
// removed; validation accepts the full A-Z 0-9 range.
package keygen

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	apperrors "keymint/internal/errors"
)

const (
	// RecoveryPrefix marks recovery codes apart from license keys.
	RecoveryPrefix = "RC-"

	groupLen       = 4
	licenseGroups  = 4
	recoveryGroups = 3

	// No 0, O, 1, I or L: every generated character survives being read
	// over the phone or copied off a printed card.
	alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
)

// HashedCode is the persistable form of a minted recovery code.
type HashedCode struct {
	Hash      string
	CreatedAt time.Time
}

// GenerateLicenseKey mints a fresh plaintext license key.
func GenerateLicenseKey() (string, error) {
	groups, err := randomGroups(licenseGroups)
	if err != nil {
		return "", fmt.Errorf("generate license key: %w", err)
	}
	return strings.Join(groups, "-"), nil
}

// GenerateRecoveryCode mints a single plaintext recovery code.
func GenerateRecoveryCode() (string, error) {
	groups, err := randomGroups(recoveryGroups)
	if err != nil {
		return "", fmt.Errorf("generate recovery code: %w", err)
	}
	return RecoveryPrefix + strings.Join(groups, "-"), nil
}

// GenerateRecoveryBatch mints count independent recovery codes, returning
// the plaintext list for one-time delivery and the parallel hashed records
// for persistence. Plaintext codes are never persisted.
func GenerateRecoveryBatch(count int, hash func(string) string, now time.Time) ([]string, []HashedCode, error) {
	if count <= 0 {
		return nil, nil, fmt.Errorf("recovery batch count must be positive, got %d", count)
	}

	plain := make([]string, 0, count)
	stored := make([]HashedCode, 0, count)
	for i := 0; i < count; i++ {
		code, err := GenerateRecoveryCode()
		if err != nil {
			return nil, nil, err
		}
		plain = append(plain, code)
		stored = append(stored, HashedCode{Hash: hash(code), CreatedAt: now})
	}

	return plain, stored, nil
}

// ValidateLicenseKeyFormat checks a submitted key against the
// XXXX-XXXX-XXXX-XXXX shape. Returns ErrMalformedInput on any mismatch.
func ValidateLicenseKeyFormat(key string) error {
	if err := validateGroups(key, licenseGroups); err != nil {
		return fmt.Errorf("%w: license key must match XXXX-XXXX-XXXX-XXXX", apperrors.ErrMalformedInput)
	}
	return nil
}

// ValidateRecoveryCodeFormat checks a submitted code against the
// RC-XXXX-XXXX-XXXX shape. Returns ErrMalformedInput on any mismatch.
func ValidateRecoveryCodeFormat(code string) error {
	if !strings.HasPrefix(code, RecoveryPrefix) {
		return fmt.Errorf("%w: recovery code must match RC-XXXX-XXXX-XXXX", apperrors.ErrMalformedInput)
	}
	if err := validateGroups(strings.TrimPrefix(code, RecoveryPrefix), recoveryGroups); err != nil {
		return fmt.Errorf("%w: recovery code must match RC-XXXX-XXXX-XXXX", apperrors.ErrMalformedInput)
	}
	return nil
}

// Normalize uppercases and trims a submitted key or code so storage and
// lookups always see one canonical form.
func Normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func validateGroups(s string, groups int) error {
	parts := strings.Split(s, "-")
	if len(parts) != groups {
		return fmt.Errorf("expected %d groups", groups)
	}
	for _, part := range parts {
		if len(part) != groupLen {
			return fmt.Errorf("group must be %d characters", groupLen)
		}
		for _, ch := range part {
			if !((ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')) {
				return fmt.Errorf("group must be uppercase alphanumeric")
			}
		}
	}
	return nil
}

func randomGroups(n int) ([]string, error) {
	groups := make([]string, 0, n)
	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < n; i++ {
		var sb strings.Builder
		for j := 0; j < groupLen; j++ {
			idx, err := rand.Int(rand.Reader, max)
			if err != nil {
				return nil, err
			}
			sb.WriteByte(alphabet[idx.Int64()])
		}
		groups = append(groups, sb.String())
	}
	return groups, nil
}
