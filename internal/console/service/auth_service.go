package service

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/xela07ax/swarm-governor/internal/domain"
	"github.com/xela07ax/swarm-governor/internal/infra"
	"github.com/xela07ax/swarm-governor/internal/infra/auth"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// OperatorDirectory источник операторов консоли
type OperatorDirectory interface {
	Operator(ctx context.Context, username string) (*domain.Operator, error)
}

// StaticOperators операторы из конфигурации
type StaticOperators map[string]domain.Operator

func NewStaticOperators(cfg []infra.OperatorConfig) StaticOperators {
	ops := StaticOperators{}
	for _, o := range cfg {
		scopes := make(map[string]bool, len(o.Scopes))
		for _, s := range o.Scopes {
			scopes[s] = true
		}
		ops[o.Username] = domain.Operator{Username: o.Username, PasswordHash: o.PasswordHash, Scopes: scopes}
	}
	return ops
}

func (s StaticOperators) Operator(_ context.Context, username string) (*domain.Operator, error) {
	op, ok := s[username]
	if !ok {
		return nil, fmt.Errorf("operator %s: %w", username, domain.ErrNotFound)
	}
	return &op, nil
}

// AuthService выпускает RS256 токены операторам и проверяет их (через встроенный BaseValidator)
type AuthService struct {
	*auth.BaseValidator
	operators  OperatorDirectory
	privateKey *rsa.PrivateKey
	issuer     string
	ttl        time.Duration
	now        func() time.Time
}

func NewAuthService(operators OperatorDirectory, privateKey *rsa.PrivateKey, issuer string, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AuthService{
		BaseValidator: auth.NewBaseValidator(&privateKey.PublicKey, issuer),
		operators:     operators,
		privateKey:    privateKey,
		issuer:        issuer,
		ttl:           ttl,
		now:           time.Now,
	}
}

func (s *AuthService) GenerateToken(ctx context.Context, username, password string) (*domain.TokenResponse, error) {
	op, err := s.operators.Operator(ctx, username)
	if err != nil || op == nil {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	now := s.now()
	expiresAt := now.Add(s.ttl)
	claims := &domain.CustomClaims{
		UserID: op.Username,
		Scopes: op.Scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   op.Username,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	// Подпись токена ЗАКРЫТЫМ КЛЮЧОМ (RS256)
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signedToken, err := token.SignedString(s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &domain.TokenResponse{
		AccessToken: signedToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.ttl.Seconds()),
	}, nil
}
