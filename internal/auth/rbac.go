package auth

import (
	"errors"
)

var (
	ErrUnauthorized = errors.New("unauthorized: insufficient permissions")
)

// Role definitions
const (
	RoleController = "controller"
	RoleViewer     = "viewer"
)

// Permission definitions
const (
	PermissionRunCommand   = "command:run"
	PermissionViewImages   = "images:read"
	PermissionViewRuns     = "runs:read"
	PermissionEditRuns     = "runs:write"
	PermissionViewQueue    = "queue:read"
	PermissionControlQueue = "queue:write"
	PermissionUI           = "ui:write"
)

// RolePermissions maps roles to their allowed permissions
var RolePermissions = map[string][]string{
	RoleController: {
		PermissionRunCommand,
		PermissionViewImages,
		PermissionViewRuns,
		PermissionEditRuns,
		PermissionViewQueue,
		PermissionControlQueue,
		PermissionUI,
	},
	RoleViewer: {
		PermissionViewImages,
		PermissionViewRuns,
		PermissionViewQueue,
	},
}

// HasPermission checks if user roles include the required permission
func HasPermission(userRoles []string, requiredPermission string) bool {
	for _, role := range userRoles {
		for _, perm := range RolePermissions[role] {
			if perm == requiredPermission {
				return true
			}
		}
	}
	return false
}

// RequirePermission returns a check for a specific permission
func RequirePermission(permission string) func(*Claims) error {
	return func(claims *Claims) error {
		if claims == nil || !HasPermission(claims.Roles, permission) {
			return ErrUnauthorized
		}
		return nil
	}
}
