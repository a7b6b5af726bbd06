package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/angelmondragon/marketsplit-backend/pkg/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

// ServiceTokenHeader carries internal service credentials, never the
// Authorization header used by end-user sessions.
const ServiceTokenHeader = "X-Service-Token"

// Audiences of internal services that accept service tokens.
const (
	AudienceOrderService   = "order-service"
	AudienceCatalogService = "catalog-service"
)

const (
	defaultServiceTokenTTL = time.Minute
	serviceKeyInfoPrefix   = "marketsplit/service-token/v1/"
	serviceKeyLen          = 32
)

var ErrMissingScope = errors.New("service token lacks required scope")

// ServiceTokens mints and verifies short-lived, capability-scoped tokens used
// between internal services. Signing keys are derived per audience from the
// shared internal secret, so a key for one audience cannot sign for another.
type ServiceTokens struct {
	secret  []byte
	service string
	ttl     time.Duration
	now     func() time.Time
}

func NewServiceTokens(cfg config.InternalAuthConfig) (*ServiceTokens, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, fmt.Errorf("internal secret is required")
	}
	if strings.TrimSpace(cfg.ServiceName) == "" {
		return nil, fmt.Errorf("internal service name is required")
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultServiceTokenTTL
	}
	return &ServiceTokens{
		secret:  []byte(cfg.Secret),
		service: strings.TrimSpace(cfg.ServiceName),
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

// ServiceName returns the identity this issuer signs as.
func (s *ServiceTokens) ServiceName() string {
	return s.service
}

// Mint issues a token for audience carrying exactly the requested scopes.
func (s *ServiceTokens) Mint(audience string, scopes ...Scope) (string, error) {
	if len(scopes) == 0 {
		return "", fmt.Errorf("at least one scope is required")
	}
	key, err := s.keyFor(audience)
	if err != nil {
		return "", err
	}
	now := s.now().UTC()
	claims := ServiceClaims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.service,
			Subject:   s.service,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwtSigningMethod, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("signing service token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, audience and expiry, then requires scope.
func (s *ServiceTokens) Verify(tokenString, audience string, scope Scope) (*ServiceClaims, error) {
	key, err := s.keyFor(audience)
	if err != nil {
		return nil, err
	}
	claims := &ServiceClaims{}
	_, err = jwt.ParseWithClaims(
		tokenString,
		claims,
		func(*jwt.Token) (interface{}, error) { return key, nil },
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	if !claims.HasScope(scope) {
		return nil, fmt.Errorf("%w: %s", ErrMissingScope, scope)
	}
	return claims, nil
}

func (s *ServiceTokens) keyFor(audience string) ([]byte, error) {
	audience = strings.TrimSpace(audience)
	if audience == "" {
		return nil, fmt.Errorf("audience is required")
	}
	reader := hkdf.New(sha256.New, s.secret, nil, []byte(serviceKeyInfoPrefix+audience))
	key := make([]byte, serviceKeyLen)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive service key: %w", err)
	}
	return key, nil
}
