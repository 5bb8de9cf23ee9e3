// Package access enforces organizational isolation and role/permission
// checks for every operation on alerts, destinations, configs, and archives.
package access

// Permission is a named capability a user context may hold.
type Permission string

// Permissions understood by the system.
const (
	PermissionView               Permission = "view"
	PermissionAcknowledge        Permission = "acknowledge"
	PermissionResolve            Permission = "resolve"
	PermissionConfigure          Permission = "configure_thresholds"
	PermissionManageMaintenance  Permission = "manage_maintenance_windows"
	PermissionSuppress           Permission = "suppress"
	PermissionEscalate           Permission = "escalate"
)

// Role is a coarse-grained access level mapping to a base permission set.
type Role string

// Roles ordered by increasing capability.
const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
	RoleOwner    Role = "owner"
)

// rolePermissions maps each role to its base permission set. Each role is a
// superset of the previous one.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {PermissionView},
	RoleOperator: {
		PermissionView, PermissionAcknowledge,
	},
	RoleAdmin: {
		PermissionView, PermissionAcknowledge, PermissionResolve,
		PermissionConfigure, PermissionManageMaintenance, PermissionSuppress,
	},
	RoleOwner: {
		PermissionView, PermissionAcknowledge, PermissionResolve,
		PermissionConfigure, PermissionManageMaintenance, PermissionSuppress,
		PermissionEscalate,
	},
}

// UserContext identifies the caller of an operation. Custom Permissions
// extend the role base; they can never remove base permissions.
type UserContext struct {
	UserID         string
	OrganizationID string
	Role           Role
	Permissions    []Permission
	DepartmentID   string
	TeamID         string
}

// EffectivePermissions returns the union of the role base and any custom
// permissions.
func (u *UserContext) EffectivePermissions() map[Permission]struct{} {
	set := make(map[Permission]struct{}, len(rolePermissions[u.Role])+len(u.Permissions))
	for _, p := range rolePermissions[u.Role] {
		set[p] = struct{}{}
	}
	for _, p := range u.Permissions {
		set[p] = struct{}{}
	}
	return set
}

// HasPermission reports whether the context holds the permission, either via
// its role base or a custom grant.
func (u *UserContext) HasPermission(p Permission) bool {
	_, ok := u.EffectivePermissions()[p]
	return ok
}

// Resource locates a target inside an organization. Department and team are
// optional narrowing scopes.
type Resource struct {
	OrganizationID string
	DepartmentID   string
	TeamID         string
}

// CanAccessOrganization reports whether the context belongs to the given
// organization. Strict equality: no wildcards, no empty-matches-all.
func (u *UserContext) CanAccessOrganization(orgID string) bool {
	return u.OrganizationID == orgID
}

// CanAccessResource applies the scope hierarchy: the organization must match
// exactly, and department/team must match when both sides declare one.
// A context scoped to department D sees only resources in D or unscoped.
func (u *UserContext) CanAccessResource(r Resource) bool {
	if !u.CanAccessOrganization(r.OrganizationID) {
		return false
	}
	if u.DepartmentID != "" && r.DepartmentID != "" && u.DepartmentID != r.DepartmentID {
		return false
	}
	if u.TeamID != "" && r.TeamID != "" && u.TeamID != r.TeamID {
		return false
	}
	return true
}

// operationPermissions maps operation names to the permission they require.
var operationPermissions = map[string]Permission{
	"view_alert":                 PermissionView,
	"acknowledge_alert":          PermissionAcknowledge,
	"resolve_alert":              PermissionResolve,
	"suppress_alert":             PermissionSuppress,
	"escalate_alert":             PermissionEscalate,
	"configure_thresholds":       PermissionConfigure,
	"manage_maintenance_windows": PermissionManageMaintenance,
	"view_destination":           PermissionView,
	"disable_destination":        PermissionConfigure,
	"enable_destination":         PermissionConfigure,
	"view_dlq":                   PermissionView,
	"view_archive":               PermissionView,
	"delete_archive":             PermissionResolve,
	"view_jobs":                  PermissionView,
}

// Decision is the outcome of an operation validation.
type Decision struct {
	Allowed bool
	Reason  string
}

// Deny reasons returned by ValidateOperation. These strings are part of the
// API contract and surface to callers unchanged.
const (
	ReasonInvalidOperation        = "Invalid operation"
	ReasonInsufficientPermissions = "Insufficient permissions"
	ReasonResourceDenied          = "Access denied to resource"
)

// ValidateOperation checks that the context may perform the named operation,
// optionally against a target resource.
func (u *UserContext) ValidateOperation(op string, r *Resource) Decision {
	required, known := operationPermissions[op]
	if !known {
		return Decision{Reason: ReasonInvalidOperation}
	}
	if !u.HasPermission(required) {
		return Decision{Reason: ReasonInsufficientPermissions}
	}
	if r != nil && !u.CanAccessResource(*r) {
		return Decision{Reason: ReasonResourceDenied}
	}
	return Decision{Allowed: true}
}
