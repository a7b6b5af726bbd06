package enums

// Role is the actor role carried on end-user access tokens.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleVendor Role = "vendor"
	RoleAdmin  Role = "admin"
)

// IsValid reports whether the value is a known Role.
func (r Role) IsValid() bool {
	switch r {
	case RoleBuyer, RoleVendor, RoleAdmin:
		return true
	}
	return false
}
