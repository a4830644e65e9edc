package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	SubjectKey = "subject"

	issuer = "slide-analyzer"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

type TokenType string

// ServiceToken is the only type accepted on mutating routes.
const ServiceToken TokenType = "service"

type Claims struct {
	Type TokenType `json:"type"`
	jwt.RegisteredClaims
}

// IssueToken signs a service token for subject, valid for ttl.
func IssueToken(subject string, ttl time.Duration, secret string) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("token subject is required")
	}
	if secret == "" {
		return "", errors.New("signing secret is required")
	}

	now := time.Now()
	claims := Claims{
		Type: ServiceToken,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateToken validates and parses a JWT token
func ValidateToken(tokenString string, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// GetSubjectFromContext returns the caller set by the auth middleware.
func GetSubjectFromContext(c *gin.Context) (string, error) {
	v, exists := c.Get(SubjectKey)
	if !exists {
		return "", fmt.Errorf("subject not found in context")
	}

	subject, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("invalid subject type")
	}

	return subject, nil
}
