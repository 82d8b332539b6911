// Package reservation issues and verifies the signed token that ties a vote
// back to the allocation that produced it. Verification is stateless.
package reservation

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "imagearena/allocator"

var (
	// ErrInvalidToken is returned for malformed, forged or expired tokens
	ErrInvalidToken = errors.New("reservation: invalid token")

	// ErrMismatch is returned when a valid token was issued for a different
	// prompt or a different set of models
	ErrMismatch = errors.New("reservation: token does not match vote")
)

// Claims is the payload of a reservation token
type Claims struct {
	Models []string `json:"models"`
	jwt.RegisteredClaims
}

// Signer creates and checks HS256 reservation tokens
type Signer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewSigner creates a signer with the given secret and token lifetime
func NewSigner(secret string, ttl time.Duration) *Signer {
	return &Signer{
		key: []byte(secret),
		ttl: ttl,
		now: time.Now,
	}
}

// Issue signs a token for the models shown for promptID
func (s *Signer) Issue(promptID uuid.UUID, shownModels []string) (string, error) {
	now := s.now()
	claims := Claims{
		Models: normalize(shownModels),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   promptID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign reservation: %w", err)
	}
	return token, nil
}

// Verify checks that token is authentic, unexpired and was issued for
// exactly this prompt and this set of models. Order is irrelevant.
func (s *Signer) Verify(token string, promptID uuid.UUID, shownModels []string) error {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject != promptID.String() {
		return ErrMismatch
	}
	want := normalize(shownModels)
	if len(want) != len(claims.Models) {
		return ErrMismatch
	}
	for i := range want {
		if want[i] != claims.Models[i] {
			return ErrMismatch
		}
	}
	return nil
}

// normalize returns the sorted distinct set of names
func normalize(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
