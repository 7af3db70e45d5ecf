// hearth/models/models.go
package models

import (
	"database/sql"
	"time"
)

// --- Roles ---

// Role is the total order user < moderator < admin.
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

var roleRanks = map[Role]int{
	RoleUser:      1,
	RoleModerator: 2,
	RoleAdmin:     3,
}

// Rank returns the ordinal of a role, 0 for an unknown role string.
func (r Role) Rank() int { return roleRanks[r] }

// Valid reports whether r is one of the three known roles.
func (r Role) Valid() bool { return roleRanks[r] != 0 }

// --- Accounts ---

type Account struct {
	Username     string
	Role         Role
	PasswordHash string
	Registered   bool
	CreatedAt    time.Time
}

// --- Audit ---

type AuditResult string

const (
	ResultSuccess AuditResult = "success"
	ResultFailure AuditResult = "failure"
	ResultPartial AuditResult = "partial"
)

// AuditEntry is an immutable record of one attempted privileged operation.
// ID is the monotonic insertion order; ties on Timestamp are broken by it.
type AuditEntry struct {
	ID           int64
	Timestamp    time.Time
	Actor        string
	ActorRole    Role
	Action       AuditAction
	Resource     string
	ResourceID   sql.NullString
	Details      string
	Result       AuditResult
	ErrorMessage sql.NullString
}

// AuditAction is the closed action taxonomy. Callers must use one of the
// enumerated constants; Recorder rejects anything else.
type AuditAction string

const (
	ActionUserCreated           AuditAction = "user_created"
	ActionUserDeleted           AuditAction = "user_deleted"
	ActionUserRoleChanged       AuditAction = "user_role_changed"
	ActionUserBanned            AuditAction = "user_banned"
	ActionUserUnbanned          AuditAction = "user_unbanned"
	ActionUserWarned            AuditAction = "user_warned"
	ActionPasswordChanged       AuditAction = "password_changed"
	ActionPostHidden            AuditAction = "post_hidden"
	ActionPostUnhidden          AuditAction = "post_unhidden"
	ActionPostEdited            AuditAction = "post_edited"
	ActionPostDeleted           AuditAction = "post_deleted"
	ActionTopicPinned           AuditAction = "topic_pinned"
	ActionTopicUnpinned         AuditAction = "topic_unpinned"
	ActionTopicLocked           AuditAction = "topic_locked"
	ActionTopicUnlocked         AuditAction = "topic_unlocked"
	ActionTopicDeleted          AuditAction = "topic_deleted"
	ActionForumCreated          AuditAction = "forum_created"
	ActionForumDeleted          AuditAction = "forum_deleted"
	ActionForumSettingsChanged  AuditAction = "forum_settings_changed"
	ActionAdminLogin            AuditAction = "admin_login"
	ActionAdminLogout           AuditAction = "admin_logout"
	ActionSystemSettingsChanged AuditAction = "system_settings_changed"
	ActionAuditLogViewed        AuditAction = "audit_log_viewed"
	ActionBackupCreated         AuditAction = "backup_created"
	ActionDataExported          AuditAction = "data_exported"
)

var knownAuditActions = map[AuditAction]bool{
	ActionUserCreated: true, ActionUserDeleted: true, ActionUserRoleChanged: true,
	ActionUserBanned: true, ActionUserUnbanned: true, ActionUserWarned: true,
	ActionPasswordChanged: true, ActionPostHidden: true, ActionPostUnhidden: true,
	ActionPostEdited: true, ActionPostDeleted: true, ActionTopicPinned: true,
	ActionTopicUnpinned: true, ActionTopicLocked: true, ActionTopicUnlocked: true,
	ActionTopicDeleted: true, ActionForumCreated: true, ActionForumDeleted: true,
	ActionForumSettingsChanged: true, ActionAdminLogin: true, ActionAdminLogout: true,
	ActionSystemSettingsChanged: true, ActionAuditLogViewed: true,
	ActionBackupCreated: true, ActionDataExported: true,
}

func (a AuditAction) Valid() bool { return knownAuditActions[a] }

// --- Bans ---

// Ban is keyed by target username. A null ExpiresAt means permanent.
type Ban struct {
	TargetUsername string
	Reason         string
	BannedBy       string
	BannedAt       time.Time
	ExpiresAt      sql.NullTime
}

// Active reports whether the ban is in force at the given instant.
func (b Ban) Active(now time.Time) bool {
	return !b.ExpiresAt.Valid || b.ExpiresAt.Time.After(now)
}

// --- Forum hierarchy ---

type Board struct {
	ID          string
	Name        string
	Description string
	TopicCount  int
	PostCount   int
	LastPostID  sql.NullInt64
	LastPostAt  sql.NullTime
	SortOrder   int
}

type Topic struct {
	ID        int64
	BoardID   string
	Title     string
	Author    string
	Pinned    bool
	Locked    bool
	CreatedAt time.Time
	UpdatedAt time.Time
	Posts     []Post
}

type Post struct {
	ID              int64
	TopicID         int64
	BoardID         string
	Author          string
	Content         string
	OriginalContent sql.NullString
	Hidden          bool
	Edited          bool
	Reactions       map[string]int
	CreatedAt       time.Time
}

// --- Moderation ---

// ModerationActionType is the closed set of privileged edits to a content
// item's visibility, pin/lock state, text, or existence.
type ModerationActionType string

const (
	ModActionHide   ModerationActionType = "hide"
	ModActionPin    ModerationActionType = "pin"
	ModActionLock   ModerationActionType = "lock"
	ModActionEdit   ModerationActionType = "edit"
	ModActionWarn   ModerationActionType = "warn"
	ModActionDelete ModerationActionType = "delete"
)

func (t ModerationActionType) Valid() bool {
	switch t {
	case ModActionHide, ModActionPin, ModActionLock, ModActionEdit, ModActionWarn, ModActionDelete:
		return true
	}
	return false
}

// TargetKind distinguishes what a moderation action applied to.
type TargetKind string

const (
	TargetPost  TargetKind = "post"
	TargetTopic TargetKind = "topic"
	TargetUser  TargetKind = "user"
)

// ModerationAction is an immutable, append-only record of one transition.
// OriginalContent is set only for edit actions and holds the text
// immediately prior to that edit.
type ModerationAction struct {
	ID              string
	TargetKind      TargetKind
	TargetID        string
	Type            ModerationActionType
	Moderator       string
	Reason          sql.NullString
	OriginalContent sql.NullString
	Timestamp       time.Time
}

// --- Legacy data ---

// LegacyPost is one entry of the old flat post+replies dataset.
type LegacyPost struct {
	ID        int64
	Category  string
	Title     string
	Author    string
	Content   string
	Reactions map[string]int
	CreatedAt time.Time
	Replies   []LegacyReply
}

type LegacyReply struct {
	ID        int64
	Author    string
	Content   string
	Reactions map[string]int
	CreatedAt time.Time
}
