package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// Scopes консоли
const (
	ScopeRead    = "governor.read"
	ScopeApprove = "governor.approve"
	ScopeOperate = "governor.operate"
)

type CustomClaims struct {
	UserID string          `json:"user_id"`
	Scopes map[string]bool `json:"scopes"` // "admin": true или "governor.approve": true
	jwt.RegisteredClaims
}

// Secure Token Issuing
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"` // Всегда "Bearer"
	ExpiresIn   int64  `json:"expires_in"`
}

// Operator человек с доступом к консоли. Описывается в конфиге.
type Operator struct {
	Username     string          `json:"username"`
	PasswordHash string          `json:"-"` // Никогда не отправляем на фронт
	Scopes       map[string]bool `json:"scopes"`
}
