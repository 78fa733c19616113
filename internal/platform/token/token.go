// Package token issues and validates the HMAC-signed access tokens that
// authenticate audit API callers.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
)

// Claims are the token claims audit callers carry. The subject is the
// actor events get attributed to; the role bounds what it may ingest.
type Claims struct {
	SubjectID string `json:"subject_id"`
	SessionID string `json:"session_id,omitempty"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// Service signs and validates access tokens with a shared HMAC key.
type Service struct {
	signingKey []byte
	issuer     string
}

// NewService builds a token service.
func NewService(signingKey, issuer string) *Service {
	return &Service{signingKey: []byte(signingKey), issuer: issuer}
}

// Generate signs an access token for the given subject.
func (s *Service) Generate(subjectID id.SubjectID, sessionID id.SessionID, role id.SubjectRole, expiresIn time.Duration) (string, error) {
	claims := Claims{
		SubjectID: subjectID.String(),
		Role:      role.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
		},
	}
	if !sessionID.IsNil() {
		claims.SessionID = sessionID.String()
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
}

// Validate parses and verifies a token string.
//
// Errors: CodeUnauthorized for expired, malformed, or wrongly signed
// tokens; the description never reveals which check failed beyond expiry.
func (s *Service) Validate(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return claims, nil
}
