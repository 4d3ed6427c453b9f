package license

import (
	"context"
	"sync"
	"time"

	apperrors "keymint/internal/errors"
)

// MemoryStore is a mutex-guarded in-memory Store used by unit tests and
// development runs. It honors the same conditional-update semantics as
// the Postgres store.
type MemoryStore struct {
	mu       sync.Mutex
	licenses map[string]*License // by id
	byHash   map[string]string   // secret hash -> id
	bySess   map[string]string   // purchase session -> id
	byCode   map[string]string   // recovery code hash -> id
}

// NewMemoryStore returns an empty in-memory license store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		licenses: make(map[string]*License),
		byHash:   make(map[string]string),
		bySess:   make(map[string]string),
		byCode:   make(map[string]string),
	}
}

func (s *MemoryStore) Insert(_ context.Context, lic *License) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byHash[lic.SecretHash]; ok {
		return apperrors.ErrConflict
	}
	cp := cloneLicense(lic)
	s.licenses[cp.ID] = cp
	s.byHash[cp.SecretHash] = cp.ID
	s.bySess[cp.PurchaseRef.SessionID] = cp.ID
	for _, rc := range cp.RecoveryCodes {
		s.byCode[rc.CodeHash] = cp.ID
	}
	return nil
}

func (s *MemoryStore) GetByKeyHash(_ context.Context, keyHash string) (*License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneLicense(s.licenses[s.byHash[keyHash]]), nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (*License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneLicense(s.licenses[id]), nil
}

func (s *MemoryStore) GetBySessionID(_ context.Context, sessionID string) (*License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneLicense(s.licenses[s.bySess[sessionID]]), nil
}

func (s *MemoryStore) GetByRecoveryHash(_ context.Context, codeHash string) (*License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneLicense(s.licenses[s.byCode[codeHash]]), nil
}

func (s *MemoryStore) UpsertActivation(_ context.Context, licenseID, userID string, now time.Time, maxActivations int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lic, ok := s.licenses[licenseID]
	if !ok {
		return false, apperrors.ErrKeyNotFound
	}

	for i := range lic.Activations {
		if lic.Activations[i].UserID == userID {
			lic.Activations[i].LastCheckedAt = now
			lic.UpdatedAt = now
			return false, nil
		}
	}

	if maxActivations > 0 && len(lic.Activations) >= maxActivations {
		return false, apperrors.ErrActivationLimit
	}

	lic.Activations = append(lic.Activations, Activation{
		UserID:        userID,
		ActivatedAt:   now,
		LastCheckedAt: now,
	})
	lic.UpdatedAt = now
	return true, nil
}

func (s *MemoryStore) BindFirstUser(_ context.Context, licenseID, userID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lic, ok := s.licenses[licenseID]
	if !ok {
		return apperrors.ErrKeyNotFound
	}
	if lic.BoundUserID == "" {
		lic.BoundUserID = userID
		lic.UpdatedAt = now
	}
	return nil
}

func (s *MemoryStore) ConsumeRecoveryCode(_ context.Context, codeHash string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byCode[codeHash]
	if !ok {
		return false, nil
	}
	lic := s.licenses[id]
	for i := range lic.RecoveryCodes {
		if lic.RecoveryCodes[i].CodeHash == codeHash {
			if lic.RecoveryCodes[i].UsedAt != nil {
				return false, nil
			}
			t := now
			lic.RecoveryCodes[i].UsedAt = &t
			lic.UpdatedAt = now
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) SetStatus(_ context.Context, licenseID, status string, entry MetadataEntry, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lic, ok := s.licenses[licenseID]
	if !ok {
		return apperrors.ErrKeyNotFound
	}
	lic.Status = status
	lic.Metadata = append(lic.Metadata, entry)
	lic.UpdatedAt = now
	return nil
}

func cloneLicense(lic *License) *License {
	if lic == nil {
		return nil
	}
	cp := *lic
	cp.Activations = append([]Activation(nil), lic.Activations...)
	cp.RecoveryCodes = append([]RecoveryCode(nil), lic.RecoveryCodes...)
	cp.Metadata = append([]MetadataEntry(nil), lic.Metadata...)
	for i := range cp.RecoveryCodes {
		if lic.RecoveryCodes[i].UsedAt != nil {
			t := *lic.RecoveryCodes[i].UsedAt
			cp.RecoveryCodes[i].UsedAt = &t
		}
	}
	return &cp
}
