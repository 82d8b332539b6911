package middleware

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	contextUserKey = "user_id"
	contextRoleKey = "role"
)

// Claims are the JWT claims of an admin session
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// AdminCredentials holds the single administrator account
type AdminCredentials struct {
	Username     string
	passwordHash []byte
}

// NewAdminCredentials builds the admin account from a bcrypt hash or, when no
// hash is configured, from a plain password hashed here. It returns nil when
// neither is set, which disables admin login.
func NewAdminCredentials(username, password, passwordHash string) (*AdminCredentials, error) {
	switch {
	case passwordHash != "":
		if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
			return nil, fmt.Errorf("invalid admin password hash: %w", err)
		}
		return &AdminCredentials{Username: username, passwordHash: []byte(passwordHash)}, nil
	case password != "":
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash admin password: %w", err)
		}
		return &AdminCredentials{Username: username, passwordHash: hash}, nil
	default:
		return nil, nil
	}
}

// Check reports whether username and password match the admin account
func (a *AdminCredentials) Check(username, password string) bool {
	if a == nil {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.Username)) == 1
	passOK := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)) == nil
	return userOK && passOK
}

// IssueToken signs an admin session token
func IssueToken(jwtSecret, username, role string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)

	claims := Claims{
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   username,
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// ParseToken validates an admin session token
func ParseToken(jwtSecret, tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(jwtSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if claims.Username == "" || claims.Role == "" {
		return nil, errors.New("token is missing identity claims")
	}
	return claims, nil
}

// Auth accepts either a Bearer admin token or HTTP Basic admin credentials
func Auth(jwtSecret string, admin *AdminCredentials) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")

		switch {
		case strings.HasPrefix(header, "Bearer "):
			claims, err := ParseToken(jwtSecret, strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				Unauthorized(c, "Invalid or expired token")
				return
			}
			c.Set(contextUserKey, claims.Username)
			c.Set(contextRoleKey, claims.Role)

		case strings.HasPrefix(header, "Basic "):
			username, password, ok := c.Request.BasicAuth()
			if !ok || !admin.Check(username, password) {
				c.Header("WWW-Authenticate", `Basic realm="admin"`)
				Unauthorized(c, "Invalid credentials")
				return
			}
			c.Set(contextUserKey, username)
			c.Set(contextRoleKey, RoleAdmin)

		default:
			c.Header("WWW-Authenticate", `Basic realm="admin"`)
			Unauthorized(c, "Authentication required")
			return
		}

		c.Next()
	}
}

// GetUserID returns the authenticated username
func GetUserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(contextUserKey)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetRole returns the authenticated role
func GetRole(c *gin.Context) (string, bool) {
	v, ok := c.Get(contextRoleKey)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
