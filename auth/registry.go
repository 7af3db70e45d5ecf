// hearth/auth/registry.go
package auth

import (
	"errors"
	"fmt"
	"log/slog"

	"hearth/database"
	"hearth/models"
)

// Capability is a named privileged operation gated by a minimum role.
type Capability string

const (
	CapCreateAdmin          Capability = "CREATE_ADMIN"
	CapCreateModerator      Capability = "CREATE_MODERATOR"
	CapDeleteAdmin          Capability = "DELETE_ADMIN"
	CapDeleteModerator      Capability = "DELETE_MODERATOR"
	CapChangeUserRole       Capability = "CHANGE_USER_ROLE"
	CapViewUserList         Capability = "VIEW_USER_LIST"
	CapModeratePosts        Capability = "MODERATE_POSTS"
	CapModerateTopics       Capability = "MODERATE_TOPICS"
	CapBanUsers             Capability = "BAN_USERS"
	CapViewModerationLogs   Capability = "VIEW_MODERATION_LOGS"
	CapCreateForums         Capability = "CREATE_FORUMS"
	CapDeleteForums         Capability = "DELETE_FORUMS"
	CapManageForumSettings  Capability = "MANAGE_FORUM_SETTINGS"
	CapViewAdminPanel       Capability = "VIEW_ADMIN_PANEL"
	CapManageSystemSettings Capability = "MANAGE_SYSTEM_SETTINGS"
	CapViewAuditLogs        Capability = "VIEW_AUDIT_LOGS"
)

// requiredRoles binds each capability to its minimum role. Immutable at
// runtime; this is the complete set.
var requiredRoles = map[Capability]models.Role{
	CapCreateAdmin:          models.RoleAdmin,
	CapCreateModerator:      models.RoleAdmin,
	CapDeleteAdmin:          models.RoleAdmin,
	CapDeleteModerator:      models.RoleAdmin,
	CapChangeUserRole:       models.RoleAdmin,
	CapViewUserList:         models.RoleModerator,
	CapModeratePosts:        models.RoleModerator,
	CapModerateTopics:       models.RoleModerator,
	CapBanUsers:             models.RoleModerator,
	CapViewModerationLogs:   models.RoleModerator,
	CapCreateForums:         models.RoleAdmin,
	CapDeleteForums:         models.RoleAdmin,
	CapManageForumSettings:  models.RoleAdmin,
	CapViewAdminPanel:       models.RoleModerator,
	CapManageSystemSettings: models.RoleAdmin,
	CapViewAuditLogs:        models.RoleAdmin,
}

// allCapabilities fixes a stable listing order for the table above.
var allCapabilities = []Capability{
	CapCreateAdmin, CapCreateModerator, CapDeleteAdmin, CapDeleteModerator,
	CapChangeUserRole, CapViewUserList, CapModeratePosts, CapModerateTopics,
	CapBanUsers, CapViewModerationLogs, CapCreateForums, CapDeleteForums,
	CapManageForumSettings, CapViewAdminPanel, CapManageSystemSettings,
	CapViewAuditLogs,
}

// AllCapabilities returns every known capability in a stable order.
func AllCapabilities() []Capability {
	out := make([]Capability, len(allCapabilities))
	copy(out, allCapabilities)
	return out
}

// ErrUnknownCapability signals a programming bug, not an authorization
// failure: the capability key is not in the table.
var ErrUnknownCapability = errors.New("unknown capability")

// ErrDenied is the expected, non-exceptional authorization denial.
var ErrDenied = errors.New("access denied")

// Decision is the typed result of a permission check.
type Decision struct {
	Allowed      bool
	Reason       string
	ResolvedRole models.Role
}

// Registry answers "can actor X, holding role R, do capability C?". It is
// pure: no side effects, a function of the current account store.
type Registry struct {
	ds     *database.DatabaseService
	logger *slog.Logger
}

func NewRegistry(ds *database.DatabaseService, logger *slog.Logger) *Registry {
	return &Registry{ds: ds, logger: logger}
}

// RequiredRole returns the minimum role bound to a capability.
func RequiredRole(cap Capability) (models.Role, error) {
	role, ok := requiredRoles[cap]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCapability, cap)
	}
	return role, nil
}

// ResolveRole maps a username to its effective role. Precedence is fixed:
// the account store row wins; an actor absent from the store is a plain
// user. Callers holding a session role pass it to Check directly and skip
// resolution.
func (r *Registry) ResolveRole(username string) models.Role {
	account, err := r.ds.GetAccount(username)
	if err != nil {
		return models.RoleUser
	}
	return account.Role
}

// Check decides whether the actor may exercise the capability. actorRole
// may be empty, in which case it is resolved from the account store.
// An unknown capability is a hard error, distinct from a denial.
func (r *Registry) Check(actor string, actorRole models.Role, cap Capability) (Decision, error) {
	required, ok := requiredRoles[cap]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownCapability, cap)
	}

	resolved := actorRole
	if !resolved.Valid() {
		resolved = r.ResolveRole(actor)
	}

	if resolved.Rank() >= required.Rank() {
		return Decision{Allowed: true, ResolvedRole: resolved}, nil
	}
	return Decision{
		Allowed:      false,
		Reason:       fmt.Sprintf("capability %s requires role %s", cap, required),
		ResolvedRole: resolved,
	}, nil
}

// Require is the abort-on-denial variant of Check.
func (r *Registry) Require(actor string, actorRole models.Role, cap Capability) (models.Role, error) {
	decision, err := r.Check(actor, actorRole, cap)
	if err != nil {
		return "", err
	}
	if !decision.Allowed {
		return decision.ResolvedRole, fmt.Errorf("%w: %s", ErrDenied, decision.Reason)
	}
	return decision.ResolvedRole, nil
}
