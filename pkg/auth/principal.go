package auth

import (
	"github.com/google/uuid"

	"github.com/pharmalink/pharmalink-backend/pkg/enums"
)

// Principal is the authenticated caller attached to every mutating call.
type Principal struct {
	UserID     uuid.UUID
	Role       enums.Role
	PharmacyID *uuid.UUID
}

// PrincipalFromClaims extracts the principal carried by a parsed token.
func PrincipalFromClaims(claims *AccessTokenClaims) Principal {
	if claims == nil {
		return Principal{}
	}
	return Principal{UserID: claims.UserID, Role: claims.Role, PharmacyID: claims.PharmacyID}
}

func (p Principal) IsCustomer() bool { return p.Role == enums.RoleCustomer }

func (p Principal) IsAdmin() bool { return p.Role == enums.RoleAdmin }

// OwnsPharmacy reports whether p acts for pharmacyID.
func (p Principal) OwnsPharmacy(pharmacyID uuid.UUID) bool {
	return p.Role == enums.RolePharmacy && p.PharmacyID != nil && *p.PharmacyID == pharmacyID
}

// CanRead reports whether p may see an entity owned by customerID and
// fulfilled by pharmacyID.
func (p Principal) CanRead(customerID, pharmacyID uuid.UUID) bool {
	switch {
	case p.IsAdmin():
		return true
	case p.IsCustomer():
		return p.UserID == customerID
	default:
		return p.OwnsPharmacy(pharmacyID)
	}
}
