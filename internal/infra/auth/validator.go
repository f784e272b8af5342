// Package auth проверяет RS256 JWT для API консоли мониторинга.
package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xela07ax/mindx-monitoring/internal/domain"
)

// DefaultLeeway: допуск расхождения часов консоли и выпускающего сервиса.
const DefaultLeeway = 30 * time.Second

var ErrNoSubject = errors.New("token has no subject")

// BaseValidator принимает только RS256 с обязательным exp.
type BaseValidator struct {
	publicKey *rsa.PublicKey
	issuer    string
	leeway    time.Duration
	now       func() time.Time
}

type ValidatorOption func(*BaseValidator)

// WithIssuer требует совпадения iss. Пустая строка отключает проверку.
func WithIssuer(iss string) ValidatorOption {
	return func(v *BaseValidator) { v.issuer = iss }
}

func WithLeeway(d time.Duration) ValidatorOption {
	return func(v *BaseValidator) { v.leeway = d }
}

// WithValidatorClock подменяет часы (тесты).
func WithValidatorClock(now func() time.Time) ValidatorOption {
	return func(v *BaseValidator) { v.now = now }
}

func NewBaseValidator(pubKey *rsa.PublicKey, opts ...ValidatorOption) *BaseValidator {
	v := &BaseValidator{publicKey: pubKey, leeway: DefaultLeeway, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	if v.leeway < 0 {
		v.leeway = 0
	}
	return v
}

func (v *BaseValidator) parser() *jwt.Parser {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	return jwt.NewParser(opts...)
}

// VerifyToken разбирает "Bearer <token>" или голый токен.
// Токен без exp, с чужим алгоритмом или без user_id/sub отклоняется.
func (v *BaseValidator) VerifyToken(tokenStr string) (*domain.CustomClaims, error) {
	tokenStr = strings.TrimSpace(strings.TrimPrefix(tokenStr, "Bearer "))
	if tokenStr == "" {
		return nil, fmt.Errorf("invalid token: %w", jwt.ErrTokenMalformed)
	}

	claims := &domain.CustomClaims{}
	token, err := v.parser().ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return v.publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.UserID == "" {
		if claims.Subject == "" {
			return nil, fmt.Errorf("invalid token: %w", ErrNoSubject)
		}
		claims.UserID = claims.Subject
	}
	return claims, nil
}

// ParseRSAPublicKey читает PEM публичного ключа.
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("public key data is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}
