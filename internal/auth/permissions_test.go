package auth

import "testing"

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role Role
		perm Permission
		want bool
	}{
		{RoleViewer, PermLockRead, true},
		{RoleViewer, PermLockOperate, false},
		{RoleViewer, PermLockOpen, false},
		{RoleViewer, PermEventsRead, false},
		{RoleOperator, PermLockRead, true},
		{RoleOperator, PermLockOperate, true},
		{RoleOperator, PermLockOpen, false},
		{RoleOperator, PermEventsRead, false},
		{RoleAdmin, PermLockRead, true},
		{RoleAdmin, PermLockOperate, true},
		{RoleAdmin, PermLockOpen, true},
		{RoleAdmin, PermEventsRead, true},
		{Role("owner"), PermLockRead, false},
		{Role(""), PermLockRead, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role)+"/"+string(tt.perm), func(t *testing.T) {
			if got := HasPermission(tt.role, tt.perm); got != tt.want {
				t.Errorf("HasPermission(%q, %q) = %v, want %v", tt.role, tt.perm, got, tt.want)
			}
		})
	}
}

func TestPermissionsForRole(t *testing.T) {
	perms := PermissionsForRole(RoleOperator)
	if len(perms) != 2 {
		t.Fatalf("operator permissions = %v, want 2", perms)
	}

	// The returned slice is a copy.
	perms[0] = PermLockOpen
	if HasPermission(RoleOperator, PermLockOpen) {
		t.Error("mutating the result changed the role mapping")
	}

	if PermissionsForRole(Role("owner")) != nil {
		t.Error("unknown role should have nil permissions")
	}
}

func TestIsValidRole(t *testing.T) {
	for _, r := range ValidRoles {
		if !IsValidRole(r) {
			t.Errorf("IsValidRole(%q) = false", r)
		}
	}
	for _, r := range []Role{"", "owner", "panel", "Admin"} {
		if IsValidRole(r) {
			t.Errorf("IsValidRole(%q) = true", r)
		}
	}
}
