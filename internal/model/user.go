package model

import (
	"fmt"
	"strings"
	"time"
)

// Role is the access level of an identity.  Exactly one role is held at a
// time.  Values are stored in canonical lower case.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Status is the account status of an identity.  Only admins change it;
// the auth flow itself never does.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

// ParseRole trims and lower-cases s and reports an error when the result
// is not a known role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case RoleAdmin, RoleUser:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// ParseStatus is the Status counterpart of ParseRole.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusActive, StatusInactive, StatusSuspended:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// NormalizeRole returns the canonical casing of r without validating it.
// The repository applies it on every write.
func NormalizeRole(r Role) Role { return Role(strings.ToLower(strings.TrimSpace(string(r)))) }

// NormalizeStatus returns the canonical casing of s without validating it.
func NormalizeStatus(s Status) Status {
	return Status(strings.ToLower(strings.TrimSpace(string(s))))
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// Identity represents an account as stored in the `users` table.
//
// Fields:
//
//	ID              – UUID primary key.
//	Username        – unique login name.
//	Email           – unique, lower-cased address.
//	PasswordHash    – bcrypt hash; never serialised.
//	Role            – admin or user.
//	Status          – active, inactive or suspended.
//	IsOnline        – set by authenticated requests, cleared by logout or the presence sweeper.
//	LastActivity    – time of the last authenticated request.
//	LoginCount      – number of successful logins.
//	LastLogin*      – device metadata captured at login.
type Identity struct {
	ID              string     `json:"id"`
	Username        string     `json:"username"`
	Email           string     `json:"email"`
	PasswordHash    string     `json:"-"`
	Role            Role       `json:"role"`
	Status          Status     `json:"status"`
	IsOnline        bool       `json:"isOnline"`
	LastActivity    *time.Time `json:"lastActivity,omitempty"`
	LoginCount      int        `json:"loginCount"`
	LastLoginAt     *time.Time `json:"lastLoginAt,omitempty"`
	LastLoginIP     string     `json:"lastLoginIp,omitempty"`
	LastLoginDevice string     `json:"lastLoginDevice,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// IsActive compares the status case-insensitively.  Rows written before
// normalisation was enforced may carry mixed casing.
func (u Identity) IsActive() bool {
	return strings.EqualFold(string(u.Status), string(StatusActive))
}
