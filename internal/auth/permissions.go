package auth

// Permission represents a named capability in the API.
type Permission string

const (
	PermLockRead    Permission = "lock:read"
	PermLockOperate Permission = "lock:operate"
	PermLockOpen    Permission = "lock:open"
	PermEventsRead  Permission = "events:read"
)

// rolePermissions is the whole authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermLockRead,
	},
	RoleOperator: {
		PermLockRead,
		PermLockOperate,
	},
	RoleAdmin: {
		PermLockRead,
		PermLockOperate,
		PermLockOpen,
		PermEventsRead,
	},
}

// HasPermission reports whether role grants perm.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns a copy of the permissions granted to role,
// or nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}
