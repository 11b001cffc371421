package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xtrntr/swappool/internal/models"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned by Login for an unknown identity or a
// wrong password
var ErrInvalidCredentials = errors.New("invalid credentials")

// AccountStore persists accounts
type AccountStore interface {
	CreateAccount(ctx context.Context, identity, passwordHash string) (*models.Account, error)
	GetAccount(ctx context.Context, identity string) (*models.Account, error)
}

// AuthService handles account registration and token issuance. Tokens carry
// the caller identity used for every capability check.
type AuthService struct {
	Accounts AccountStore
	secret   []byte
	ttl      time.Duration
}

// NewAuthService creates a new auth service
func NewAuthService(accounts AccountStore, secret string, ttl time.Duration) *AuthService {
	return &AuthService{Accounts: accounts, secret: []byte(secret), ttl: ttl}
}

// Register creates a new account with hashed password
func (s *AuthService) Register(ctx context.Context, identity, password string) (*models.Account, error) {
	if identity == "" {
		return nil, fmt.Errorf("identity cannot be empty")
	}
	if password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}
	if len(identity) > 100 {
		return nil, fmt.Errorf("identity too long (max 100 characters)")
	}
	if len(password) > 72 {
		return nil, fmt.Errorf("password too long (max 72 characters)")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	account, err := s.Accounts.CreateAccount(ctx, identity, string(hashedPassword))
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return account, nil
}

// Login verifies credentials and generates a JWT
func (s *AuthService) Login(ctx context.Context, identity, password string) (string, error) {
	account, err := s.Accounts.GetAccount(ctx, identity)
	if err != nil {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   account.Identity,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.ttl)),
	})
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

// GetIdentityFromToken validates a JWT and returns the caller identity
func (s *AuthService) GetIdentityFromToken(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("token carries no identity")
	}
	return claims.Subject, nil
}
