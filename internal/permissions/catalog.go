// Package permissions holds the static role-to-permission catalog applied at
// account creation. The catalog is immutable compile-time data; changing it
// does not retroactively alter permissions already granted to existing
// accounts.
package permissions

import "time"

// Role is a closed set of account roles.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleSupport   Role = "support"
	RoleAnalyst   Role = "analyst"
	RoleUser      Role = "user"
	RoleGuest     Role = "guest"
)

// Profile describes the defaults a role confers on a new account.
type Profile struct {
	SecurityLevel  string
	SessionTimeout time.Duration
	Permissions    []string
}

var catalog = map[Role]Profile{
	RoleAdmin: {
		SecurityLevel:  "high",
		SessionTimeout: time.Hour,
		Permissions: []string{
			"user_management", "system_settings", "view_logs",
			"unlock_accounts", "create_users", "delete_users", "modify_roles",
		},
	},
	RoleModerator: {
		SecurityLevel:  "high",
		SessionTimeout: 30 * time.Minute,
		Permissions: []string{
			"voice_chat", "translation", "avatar_control", "chat_history",
			"personal_settings", "moderate_chat", "view_user_activity",
			"temporary_user_restrictions",
		},
	},
	RoleSupport: {
		SecurityLevel:  "medium",
		SessionTimeout: 30 * time.Minute,
		Permissions: []string{
			"view_user_activity", "user_assistance", "basic_troubleshooting",
			"ticket_management", "user_communication",
		},
	},
	RoleAnalyst: {
		SecurityLevel:  "medium",
		SessionTimeout: 30 * time.Minute,
		Permissions: []string{
			"view_analytics", "generate_reports", "data_export",
			"performance_monitoring", "usage_statistics",
		},
	},
	RoleUser: {
		SecurityLevel:  "medium",
		SessionTimeout: 30 * time.Minute,
		Permissions: []string{
			"voice_chat", "translation", "avatar_control",
			"chat_history", "personal_settings",
		},
	},
	RoleGuest: {
		SecurityLevel:  "low",
		SessionTimeout: 15 * time.Minute,
		Permissions:    []string{"voice_chat", "translation"},
	},
}

// Known reports whether role is part of the closed set.
func Known(role Role) bool {
	_, ok := catalog[role]
	return ok
}

// ProfileFor returns the profile for the given role. Unknown roles fall back
// to the guest profile, the lowest-privilege role in the catalog. The
// returned permission slice is a copy; callers may modify it freely.
func ProfileFor(role Role) Profile {
	p, ok := catalog[role]
	if !ok {
		p = catalog[RoleGuest]
	}
	perms := make([]string, len(p.Permissions))
	copy(perms, p.Permissions)
	p.Permissions = perms
	return p
}

// Roles lists all known roles. Order is unspecified.
func Roles() []Role {
	out := make([]Role, 0, len(catalog))
	for r := range catalog {
		out = append(out, r)
	}
	return out
}
