package domain

import "slices"

type Role string

const (
	RolePharmacist Role = "PHARMACIST"
	RoleDoctor     Role = "DOCTOR"
	RolePatient    Role = "PATIENT"
)

// Principal is the caller identity resolved by the auth service. Token is
// the bearer credential, forwarded to the wallet service on payment.
type Principal struct {
	UserID string `json:"id"`
	Role   Role   `json:"role"`
	Email  string `json:"email,omitempty"`
	Token  string `json:"-"`
}

func (p Principal) Require(roles ...Role) error {
	if slices.Contains(roles, p.Role) {
		return nil
	}
	return ForbiddenError("Forbidden: Permissions denied")
}
