package rbac

// Role names. Keep these stable; they are part of the token contract.
const (
	RoleOwner      = "owner"
	RoleManager    = "manager"
	RoleAgent      = "agent"
	RoleAnalyst    = "analyst"
	RoleSuperAdmin = "super_admin"
)

// Groups used by the route table.
var (
	// CallWriters may upload recordings and trigger processing.
	CallWriters = []string{RoleOwner, RoleManager, RoleAgent}
	// ReportReaders may read workspace-wide dashboards.
	ReportReaders = []string{RoleOwner, RoleManager, RoleAnalyst}
	// Members is every workspace role.
	Members = []string{RoleOwner, RoleManager, RoleAgent, RoleAnalyst}
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func Known(role string) bool {
	switch role {
	case RoleOwner, RoleManager, RoleAgent, RoleAnalyst, RoleSuperAdmin:
		return true
	default:
		return false
	}
}
