// hearth/config/config.go
package config

const (
	AppVersion = "0.9.0"

	// Form & content limits
	MaxUsernameLen = 40
	MaxPasswordLen = 128
	MaxReasonLen   = 512
	MaxPostLen     = 16000
	MaxTopicTitle  = 150

	// Audit log retention
	DefaultAuditMaxEntries = 10000
	AuditSummaryRecent     = 10

	// Shown to non-moderators in place of hidden content. Deliberately not a
	// plausible substring of real post text.
	HiddenPlaceholder = "[removed by a moderator]"

	// Actor attributed to self-healing actions such as expired-ban removal.
	SystemActor = "system"

	// Session lifetime for the admin surface
	DefaultSessionTTL = "12h"

	// Rate limiting defaults (login attempts)
	DefaultRateLimitEvery  = "10s"
	DefaultRateLimitBurst  = 5
	DefaultRateLimitPrune  = "1h"
	DefaultRateLimitExpire = "24h"
)
