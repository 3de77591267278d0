package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xela07ax/swarm-governor/internal/domain"
)

// ErrInvalidToken токен не прошёл проверку подписи, срока, издателя или claims
var ErrInvalidToken = errors.New("invalid console token")

// BaseValidator проверка RS256 токенов консоли. Встраивается в AuthService.
type BaseValidator struct {
	publicKey *rsa.PublicKey
	parser    *jwt.Parser
}

// NewBaseValidator пустой issuer отключает проверку издателя
func NewBaseValidator(pubKey *rsa.PublicKey, issuer string) *BaseValidator {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &BaseValidator{publicKey: pubKey, parser: jwt.NewParser(opts...)}
}

// VerifyToken принимает значение заголовка Authorization целиком или голый токен.
// Токен без оператора отклоняется.
func (v *BaseValidator) VerifyToken(header string) (*domain.CustomClaims, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	claims := &domain.CustomClaims{}
	if _, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.publicKey, nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: no operator in claims", ErrInvalidToken)
	}
	return claims, nil
}

// ParseRSAPublicKey PEM публичного ключа для проверки подписи
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	if len(data) == 0 {
		return nil, errors.New("public key data is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return key, nil
}

// ParseRSAPrivateKey PEM закрытого ключа, которым консоль подписывает токены
func ParseRSAPrivateKey(data []byte) (*rsa.PrivateKey, error) {
	if len(data) == 0 {
		return nil, errors.New("private key data is empty")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}
