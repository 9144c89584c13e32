// Package auth issues and verifies the bearer credentials presented to the
// shim server: authentication credentials name the caller, authorization
// credentials grant a subject's data to someone else for a set of schemas.
package auth

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-shims/core"
	"github.com/google/uuid"
)

const (
	UseAuthentication = "authn"
	UseAuthorization  = "authz"
)

// Claims is the payload of both credential kinds. Scope is space delimited.
type Claims struct {
	Use   string `json:"use"`
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

type Config struct {
	SigningKey string
	Issuer     string
	Audience   string
	Now        func() time.Time
}

// CredentialService signs and validates HS256 credentials.
type CredentialService struct {
	signingKey []byte
	issuer     string
	audience   string
	now        func() time.Time
}

func NewCredentialService(cfg Config) (*CredentialService, error) {
	key := strings.TrimSpace(cfg.SigningKey)
	if key == "" {
		return nil, fmt.Errorf("auth: signing key is required")
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &CredentialService{
		signingKey: []byte(key),
		issuer:     strings.TrimSpace(cfg.Issuer),
		audience:   strings.TrimSpace(cfg.Audience),
		now:        now,
	}, nil
}

func (s *CredentialService) IssueAuthentication(subject string, ttl time.Duration) (string, error) {
	return s.issue(UseAuthentication, subject, nil, ttl)
}

func (s *CredentialService) IssueAuthorization(subject string, scopes []string, ttl time.Duration) (string, error) {
	scopes = normalizeScopes(scopes)
	if len(scopes) == 0 {
		return "", fmt.Errorf("auth: authorization credential needs at least one scope")
	}
	return s.issue(UseAuthorization, subject, scopes, ttl)
}

func (s *CredentialService) issue(use string, subject string, scopes []string, ttl time.Duration) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", fmt.Errorf("auth: subject is required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("auth: ttl must be positive")
	}
	now := s.now()
	claims := Claims{
		Use:   use,
		Scope: strings.Join(scopes, " "),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
		},
	}
	if s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
}

// VerifyAuthentication checks the signature, issuer and audience. An expired
// credential still verifies; its ExpiresAt lets the caller decide whether
// the request needs it.
func (s *CredentialService) VerifyAuthentication(token string) (core.AuthenticationCredential, error) {
	claims, err := s.parse(token, UseAuthentication)
	if err != nil {
		return core.AuthenticationCredential{}, core.NewAuthenticationError("invalid authentication credential")
	}
	return core.AuthenticationCredential{
		Subject:   claims.Subject,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}, nil
}

func (s *CredentialService) VerifyAuthorization(token string) (core.AuthorizationCredential, error) {
	claims, err := s.parse(token, UseAuthorization)
	if err != nil {
		return core.AuthorizationCredential{}, core.NewAuthorizationError("invalid authorization credential", nil)
	}
	return core.AuthorizationCredential{
		Subject:   claims.Subject,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
		Scopes:    normalizeScopes(strings.Fields(claims.Scope)),
	}, nil
}

func (s *CredentialService) parse(token string, use string) (*Claims, error) {
	if s == nil {
		return nil, fmt.Errorf("auth: credential service is not configured")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("auth: credential is required")
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("auth: credential is invalid")
	}
	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("auth: credential has no expiry")
	}
	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, fmt.Errorf("auth: credential issuer %q, want %q", claims.Issuer, s.issuer)
	}
	if s.audience != "" && !slices.Contains(claims.Audience, s.audience) {
		return nil, fmt.Errorf("auth: credential audience does not include %q", s.audience)
	}
	if claims.Use != use {
		return nil, fmt.Errorf("auth: credential use %q, want %q", claims.Use, use)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("auth: credential subject is required")
	}
	return claims, nil
}

func normalizeScopes(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}
