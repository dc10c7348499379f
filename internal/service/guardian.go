package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/evidence"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/keyvault"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/models"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/repository"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/scheduler"
)

var (
	ErrAlreadyConfigured = errors.New("guardian PIN already configured")
	ErrInvalidToken      = errors.New("invalid session token")
	ErrSessionClosed     = errors.New("session is no longer unlocked")
)

// Session is what a successful unlock hands back to the guardian.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type GuardianService interface {
	// Setup sets the first PIN and returns the recovery code. It can only run once.
	Setup(ctx context.Context, pin string) (string, error)
	Unlock(ctx context.Context, pin string) (*Session, error)
	Reset(ctx context.Context, code, newPIN string) error
	Logout(claims *models.Claims)
	Authenticate(token string) (*models.Claims, error)
	ViewEvidence(ctx context.Context, claims *models.Claims, id string) (*models.EvidencePayload, error)
	ListEvidence(ctx context.Context, limit int) ([]repository.EvidenceSummary, error)
	ListAlerts(ctx context.Context, limit int) ([]repository.AlertRecord, error)
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type guardianService struct {
	vault    *keyvault.Vault
	evidence repository.EvidenceRepository
	alerts   repository.AlertRepository
	clock    scheduler.Scheduler
	secret   []byte
	ttl      time.Duration
	logger   *zap.Logger
	setupMu  sync.Mutex
	mu       sync.Mutex
	unlocked map[string]unlockedKey
}

type unlockedKey struct {
	key     []byte
	expires time.Time
}

func NewGuardianService(vault *keyvault.Vault, evidenceRepo repository.EvidenceRepository, alertRepo repository.AlertRepository,
	clock scheduler.Scheduler, cfg AuthConfig, logger *zap.Logger) (GuardianService, error) {
	if len(cfg.JWTSecret) < 16 {
		return nil, fmt.Errorf("%w: jwt secret must be at least 16 bytes", models.ErrValidation)
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 15 * time.Minute
	}
	return &guardianService{
		vault:    vault,
		evidence: evidenceRepo,
		alerts:   alertRepo,
		clock:    clock,
		secret:   []byte(cfg.JWTSecret),
		ttl:      cfg.TokenTTL,
		logger:   logger,
		unlocked: make(map[string]unlockedKey),
	}, nil
}

func (s *guardianService) Setup(ctx context.Context, pin string) (string, error) {
	s.setupMu.Lock()
	defer s.setupMu.Unlock()

	configured, err := s.vault.Configured(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to check existing PIN: %w", err)
	}
	if configured {
		return "", ErrAlreadyConfigured
	}
	if pin == "" {
		return "", fmt.Errorf("%w: empty PIN", models.ErrValidation)
	}

	key, err := s.vault.GetOrCreateDeviceKey(ctx)
	if err != nil {
		s.logger.Error("Failed to load device key", zap.Error(err))
		return "", fmt.Errorf("failed to load device key: %w", err)
	}
	// The wrapped record marks the device as configured, so it is written
	// last. A failure before it leaves setup retryable.
	code, err := s.vault.SetupRecovery(ctx)
	if err != nil {
		s.logger.Error("Failed to set up recovery code", zap.Error(err))
		return "", err
	}
	if _, err := s.vault.WrapWithPIN(ctx, key, pin, 0); err != nil {
		s.logger.Error("Failed to wrap device key", zap.Error(err))
		return "", err
	}

	s.logger.Info("Guardian PIN configured")
	return code, nil
}

func (s *guardianService) Unlock(ctx context.Context, pin string) (*Session, error) {
	key, err := s.vault.UnwrapWithPIN(ctx, pin)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	expirationTime := now.Add(s.ttl)
	claims := &models.Claims{
		Role: models.RoleGuardian,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		s.logger.Error("Failed to generate JWT token", zap.Error(err))
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	s.mu.Lock()
	s.pruneLocked(now)
	s.unlocked[claims.ID] = unlockedKey{key: key, expires: expirationTime}
	s.mu.Unlock()

	s.logger.Info("Guardian unlocked", zap.Time("expires_at", expirationTime))
	return &Session{Token: tokenString, ExpiresAt: expirationTime}, nil
}

func (s *guardianService) Reset(ctx context.Context, code, newPIN string) error {
	if _, err := s.vault.ResetWithRecovery(ctx, code, newPIN); err != nil {
		return err
	}
	// Sessions opened under the old PIN end with it.
	s.mu.Lock()
	clear(s.unlocked)
	s.mu.Unlock()
	return nil
}

func (s *guardianService) Logout(claims *models.Claims) {
	if claims == nil {
		return
	}
	s.mu.Lock()
	delete(s.unlocked, claims.ID)
	s.mu.Unlock()
	s.logger.Info("Guardian logged out")
}

func (s *guardianService) Authenticate(tokenString string) (*models.Claims, error) {
	claims := &models.Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.clock.Now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token expired", ErrInvalidToken)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Role != models.RoleGuardian || claims.ID == "" {
		return nil, ErrInvalidToken
	}

	// A well-signed token only counts while its session is still open.
	s.mu.Lock()
	s.pruneLocked(s.clock.Now())
	_, live := s.unlocked[claims.ID]
	s.mu.Unlock()
	if !live {
		return nil, ErrSessionClosed
	}
	return claims, nil
}

func (s *guardianService) ViewEvidence(ctx context.Context, claims *models.Claims, id string) (*models.EvidencePayload, error) {
	key, err := s.sessionKey(claims)
	if err != nil {
		return nil, err
	}
	packet, err := s.evidence.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	payload, err := evidence.Unseal(packet.Sealed, key)
	if err != nil {
		s.logger.Error("Failed to unseal evidence", zap.String("id", id), zap.Error(err))
		return nil, err
	}
	return payload, nil
}

func (s *guardianService) ListEvidence(ctx context.Context, limit int) ([]repository.EvidenceSummary, error) {
	return s.evidence.List(ctx, limit)
}

func (s *guardianService) ListAlerts(ctx context.Context, limit int) ([]repository.AlertRecord, error) {
	return s.alerts.List(ctx, limit)
}

func (s *guardianService) sessionKey(claims *models.Claims) ([]byte, error) {
	if claims == nil {
		return nil, ErrInvalidToken
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.unlocked[claims.ID]
	if !ok || !s.clock.Now().Before(entry.expires) {
		delete(s.unlocked, claims.ID)
		return nil, ErrSessionClosed
	}
	return entry.key, nil
}

func (s *guardianService) pruneLocked(now time.Time) {
	for id, entry := range s.unlocked {
		if !now.Before(entry.expires) {
			delete(s.unlocked, id)
		}
	}
}
