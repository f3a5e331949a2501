// Package auth resolves the caller identity forwarded by the gateway and checks role permissions.
package auth

import (
	"errors"
	"slices"
	"strings"

	"github.com/gofiber/fiber/v3"
)

const (
	HeaderEmail = "X-User-Email"
	HeaderRole  = "X-User-Role"
	HeaderOrgID = "X-Org-ID"

	identityKey = "flowpilot.identity"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

type Permission string

const (
	PermissionReadWorkflows    Permission = "workflows:read"
	PermissionWriteWorkflows   Permission = "workflows:write"
	PermissionExecuteWorkflows Permission = "workflows:execute"
	PermissionReadAgents       Permission = "agents:read"
	PermissionWriteAgents      Permission = "agents:write"
	PermissionExecuteAgents    Permission = "agents:execute"
	PermissionSubmitFeedback   Permission = "feedback:write"
)

var rolePermissions = map[Role][]Permission{
	RoleOwner: {
		PermissionReadWorkflows, PermissionWriteWorkflows, PermissionExecuteWorkflows,
		PermissionReadAgents, PermissionWriteAgents, PermissionExecuteAgents, PermissionSubmitFeedback,
	},
	RoleAdmin: {
		PermissionReadWorkflows, PermissionWriteWorkflows, PermissionExecuteWorkflows,
		PermissionReadAgents, PermissionWriteAgents, PermissionExecuteAgents, PermissionSubmitFeedback,
	},
	RoleMember: {
		PermissionReadWorkflows, PermissionExecuteWorkflows,
		PermissionReadAgents, PermissionExecuteAgents, PermissionSubmitFeedback,
	},
	RoleViewer: {
		PermissionReadWorkflows, PermissionReadAgents,
	},
}

// Identity is the resolved caller.
type Identity struct {
	Email string
	Role  Role
	OrgID string
}

// Permissions lists what the role grants. Unknown roles grant nothing.
func (r Role) Permissions() []Permission {
	return rolePermissions[r]
}

func (i Identity) Can(permission Permission) bool {
	return slices.Contains(i.Role.Permissions(), permission)
}

// FromHeaders resolves the identity. A missing email is unauthorized; a missing role is
// treated as viewer.
func FromHeaders(get func(key string) string) (Identity, error) {
	email := strings.TrimSpace(get(HeaderEmail))
	if email == "" {
		return Identity{}, ErrUnauthorized
	}

	role := Role(strings.ToLower(strings.TrimSpace(get(HeaderRole))))
	if role == "" {
		role = RoleViewer
	}

	return Identity{
		Email: email,
		Role:  role,
		OrgID: strings.TrimSpace(get(HeaderOrgID)),
	}, nil
}

// Require rejects requests without an identity or without the permission. failure renders
// the rejection so the caller keeps control of the error format.
func Require(permission Permission, failure func(c fiber.Ctx, err error) error) fiber.Handler {
	return func(c fiber.Ctx) error {
		identity, err := FromHeaders(func(key string) string { return c.Get(key) })
		if err != nil {
			return failure(c, err)
		}

		if !identity.Can(permission) {
			return failure(c, ErrForbidden)
		}

		c.Locals(identityKey, identity)

		return c.Next()
	}
}

// FromContext returns the identity stored by Require.
func FromContext(c fiber.Ctx) (Identity, bool) {
	identity, ok := c.Locals(identityKey).(Identity)

	return identity, ok
}
