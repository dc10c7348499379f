package keyvault

import (
	"context"
	"errors"
	"sync"

	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/models"
)

var ErrNotFound = errors.New("record not found")

// Store persists the vault's records. Loads return ErrNotFound when a record
// was never saved; LoadAttempts returns the zero state instead.
type Store interface {
	LoadDeviceKey(ctx context.Context) ([]byte, error)
	SaveDeviceKey(ctx context.Context, key []byte) error
	LoadWrapped(ctx context.Context) (*models.WrappedKeyRecord, error)
	SaveWrapped(ctx context.Context, rec *models.WrappedKeyRecord) error
	LoadRecovery(ctx context.Context) (*models.RecoveryRecord, error)
	SaveRecovery(ctx context.Context, rec *models.RecoveryRecord) error
	LoadAttempts(ctx context.Context) (models.AttemptState, error)
	SaveAttempts(ctx context.Context, st models.AttemptState) error
}

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	key      []byte
	wrapped  *models.WrappedKeyRecord
	recovery *models.RecoveryRecord
	attempts models.AttemptState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) LoadDeviceKey(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key == nil {
		return nil, ErrNotFound
	}
	return append([]byte(nil), s.key...), nil
}

func (s *MemoryStore) SaveDeviceKey(_ context.Context, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key = append([]byte(nil), key...)
	return nil
}

func (s *MemoryStore) LoadWrapped(context.Context) (*models.WrappedKeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wrapped == nil {
		return nil, ErrNotFound
	}
	rec := *s.wrapped
	return &rec, nil
}

func (s *MemoryStore) SaveWrapped(_ context.Context, rec *models.WrappedKeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.wrapped = &cp
	return nil
}

func (s *MemoryStore) LoadRecovery(context.Context) (*models.RecoveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recovery == nil {
		return nil, ErrNotFound
	}
	rec := *s.recovery
	return &rec, nil
}

func (s *MemoryStore) SaveRecovery(_ context.Context, rec *models.RecoveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.recovery = &cp
	return nil
}

func (s *MemoryStore) LoadAttempts(context.Context) (models.AttemptState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts, nil
}

func (s *MemoryStore) SaveAttempts(_ context.Context, st models.AttemptState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = st
	return nil
}
