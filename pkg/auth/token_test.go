package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/marketsplit-backend/pkg/config"
	"github.com/angelmondragon/marketsplit-backend/pkg/enums"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestMintAndParseAccessToken(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "marketsplit-auth"}
	userID := uuid.New()
	vendorID := uuid.New()

	token, err := MintAccessToken(cfg, time.Now().UTC(), AccessTokenPayload{
		UserID:   userID,
		VendorID: &vendorID,
		Role:     enums.RoleVendor,
	})
	require.NoError(t, err)

	claims, err := ParseAccessToken(cfg, token)
	require.NoError(t, err)
	require.Equal(t, userID, claims.UserID)
	require.NotNil(t, claims.VendorID)
	require.Equal(t, vendorID, *claims.VendorID)
	require.Equal(t, enums.RoleVendor, claims.Role)
	require.Equal(t, cfg.Issuer, claims.Issuer)
	require.NotEmpty(t, claims.ID)
}

func TestParseAccessTokenRejectsWrongIssuerAndExpiry(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "marketsplit-auth"}
	token, err := MintAccessToken(cfg, time.Now().Add(-2*time.Hour), AccessTokenPayload{UserID: uuid.New(), Role: enums.RoleBuyer})
	require.NoError(t, err)

	_, err = ParseAccessToken(cfg, token)
	require.Error(t, err, "expired token should be rejected")

	fresh, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{UserID: uuid.New(), Role: enums.RoleBuyer})
	require.NoError(t, err)
	_, err = ParseAccessToken(config.JWTConfig{Secret: "secret", Issuer: "someone-else"}, fresh)
	require.Error(t, err)
}

func TestMintAccessTokenValidatesRole(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "marketsplit-auth"}
	_, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{UserID: uuid.New(), Role: "owner"})
	require.Error(t, err)
}

func newServiceTokens(t *testing.T, name string) *ServiceTokens {
	t.Helper()
	tokens, err := NewServiceTokens(config.InternalAuthConfig{Secret: "shared-internal-secret", ServiceName: name})
	require.NoError(t, err)
	return tokens
}

func TestServiceTokenRoundTrip(t *testing.T) {
	issuer := newServiceTokens(t, "payment-service")
	verifier := newServiceTokens(t, "order-service")

	token, err := issuer.Mint("order-service", ScopeOrdersVerify, ScopeOrdersConfirm)
	require.NoError(t, err)

	claims, err := verifier.Verify(token, "order-service", ScopeOrdersConfirm)
	require.NoError(t, err)
	require.Equal(t, "payment-service", claims.Subject)
}

func TestServiceTokenRequiresScope(t *testing.T) {
	issuer := newServiceTokens(t, "settlement-worker")
	token, err := issuer.Mint("order-service", ScopeOrdersSettlement)
	require.NoError(t, err)

	_, err = issuer.Verify(token, "order-service", ScopeOrdersConfirm)
	require.True(t, errors.Is(err, ErrMissingScope))
}

func TestServiceTokenIsBoundToAudience(t *testing.T) {
	issuer := newServiceTokens(t, "payment-service")
	token, err := issuer.Mint("catalog-service", ScopeCatalogRead)
	require.NoError(t, err)

	_, err = issuer.Verify(token, "order-service", ScopeCatalogRead)
	require.Error(t, err)
}

func TestServiceTokenExpires(t *testing.T) {
	issuer := newServiceTokens(t, "payment-service")
	issuer.now = func() time.Time { return time.Now().Add(-10 * time.Minute) }
	token, err := issuer.Mint("order-service", ScopeOrdersVerify)
	require.NoError(t, err)

	verifier := newServiceTokens(t, "order-service")
	_, err = verifier.Verify(token, "order-service", ScopeOrdersVerify)
	require.Error(t, err)
}

func TestNewServiceTokensValidatesConfig(t *testing.T) {
	_, err := NewServiceTokens(config.InternalAuthConfig{ServiceName: "x"})
	require.Error(t, err)
	_, err = NewServiceTokens(config.InternalAuthConfig{Secret: "s"})
	require.Error(t, err)
}
