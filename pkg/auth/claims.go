package auth

import (
	"github.com/angelmondragon/marketsplit-backend/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID   uuid.UUID
	VendorID *uuid.UUID
	Role     enums.Role
	JTI      string
}

// AccessTokenClaims represents the end-user JWT issued by the auth service.
type AccessTokenClaims struct {
	UserID   uuid.UUID  `json:"user_id"`
	VendorID *uuid.UUID `json:"vendor_id,omitempty"`
	Role     enums.Role `json:"role"`
	jwt.RegisteredClaims
}

// Scope names a single capability granted to an internal service token.
type Scope string

const (
	ScopeOrdersVerify     Scope = "orders:verify"
	ScopeOrdersConfirm    Scope = "orders:confirm"
	ScopeOrdersSettlement Scope = "orders:settlement"
	ScopeCatalogRead      Scope = "catalog:read"
	ScopeInventoryReserve Scope = "inventory:reserve"
)

// ServiceClaims identifies a calling service and the capabilities it was granted.
type ServiceClaims struct {
	Scopes []Scope `json:"scp"`
	jwt.RegisteredClaims
}

// HasScope reports whether the claims grant scope.
func (c ServiceClaims) HasScope(scope Scope) bool {
	for _, granted := range c.Scopes {
		if granted == scope {
			return true
		}
	}
	return false
}
