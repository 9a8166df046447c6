package model

import "time"

// ActivityType is the closed set of audit categories.
type ActivityType string

const (
	ActivityLogin          ActivityType = "login"
	ActivityLogout         ActivityType = "logout"
	ActivityRegister       ActivityType = "register"
	ActivityProfileUpdate  ActivityType = "profile_update"
	ActivityPasswordChange ActivityType = "password_change"
	ActivityPostCreate     ActivityType = "post_create"
	ActivityPostUpdate     ActivityType = "post_update"
	ActivityPostDelete     ActivityType = "post_delete"
	ActivityUserCreate     ActivityType = "user_create"
	ActivityUserUpdate     ActivityType = "user_update"
	ActivityUserDelete     ActivityType = "user_delete"
	ActivityAdminAction    ActivityType = "admin_action"
	ActivitySystemAlert    ActivityType = "system_alert"
	ActivityError          ActivityType = "error"
)

var activityTypes = map[ActivityType]bool{
	ActivityLogin: true, ActivityLogout: true, ActivityRegister: true,
	ActivityProfileUpdate: true, ActivityPasswordChange: true,
	ActivityPostCreate: true, ActivityPostUpdate: true, ActivityPostDelete: true,
	ActivityUserCreate: true, ActivityUserUpdate: true, ActivityUserDelete: true,
	ActivityAdminAction: true, ActivitySystemAlert: true, ActivityError: true,
}

// Valid reports whether t belongs to the enumeration.
func (t ActivityType) Valid() bool { return activityTypes[t] }

// Severity grades an activity for triage.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Activity is an append-only audit record.  Rows in `activities` are never
// updated or deleted by the service.
type Activity struct {
	ID          string         `json:"id"`
	UserID      string         `json:"userId,omitempty"`
	Type        ActivityType   `json:"type"`
	Description string         `json:"description"`
	IPAddress   string         `json:"ipAddress,omitempty"`
	UserAgent   string         `json:"userAgent,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Severity    Severity       `json:"severity"`
	CreatedAt   time.Time      `json:"createdAt"`
}
