package domain

type Role string

const (
	RoleVisitor Role = "visitor"
	RoleStaff   Role = "staff"
	RoleKiosk   Role = "kiosk"
	RoleAdmin   Role = "admin"
	RoleOwner   Role = "owner"
)

func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleVisitor, RoleStaff, RoleKiosk, RoleAdmin, RoleOwner:
		return Role(s), true
	default:
		return "", false
	}
}

// Actor is the acting identity passed in by the caller. The engine
// never authenticates; it only checks capabilities derived from Role.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Capabilities are resolved once per operation instead of branching on
// the role at every field.
type Capabilities struct {
	CanApproveOwn    bool
	CanEditAllFields bool
	CanCreateWalkIn  bool
	CanCheckInOut    bool
}

func (a Actor) Capabilities() Capabilities {
	switch a.Role {
	case RoleAdmin:
		return Capabilities{CanApproveOwn: true, CanEditAllFields: true, CanCreateWalkIn: true, CanCheckInOut: true}
	case RoleOwner:
		return Capabilities{CanApproveOwn: true}
	case RoleStaff, RoleKiosk:
		return Capabilities{CanCreateWalkIn: true, CanCheckInOut: true}
	default:
		return Capabilities{}
	}
}
