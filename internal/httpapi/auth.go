package httpapi

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// AdminCredential is the single operator account janusbridge authenticates
// admin requests against. There is no user registration surface — the
// credential is provisioned via config, since only operators reach this
// API.
type AdminCredential struct {
	Username     string
	PasswordHash string // bcrypt hash
}

// AdminClaims is the JWT payload minted on successful login.
type AdminClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Auth signs and validates admin session tokens.
type Auth struct {
	cred      AdminCredential
	jwtSecret []byte
	ttl       time.Duration
}

func NewAuth(cred AdminCredential, jwtSecret string, ttl time.Duration) *Auth {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Auth{cred: cred, jwtSecret: []byte(jwtSecret), ttl: ttl}
}

var ErrInvalidCredentials = errors.New("httpapi: invalid credentials")

// Login verifies username/password and mints a signed JWT.
func (a *Auth) Login(_ context.Context, username, password string) (string, error) {
	if username != a.cred.Username {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.cred.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, AdminClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "janus-bridge",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(a.ttl)),
		},
	})
	return token.SignedString(a.jwtSecret)
}

// ValidateToken satisfies the TokenValidator shape the auth middleware needs.
func (a *Auth) ValidateToken(tokenString string) (string, error) {
	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidCredentials
	}
	return claims.Username, nil
}

// HashPassword is a small helper for provisioning the admin credential from
// a plaintext password at startup (config carries the plaintext once; the
// hash is what actually gets compared on every login).
func HashPassword(plaintext string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
