// Package queue defines message payloads exchanged over the message broker
// and the consumer that turns them into the activity feed log.
package queue

// Routing keys on the broadcast exchange.
const (
	KeyIdentityStatus   = "identity.status"
	KeyActivityRecorded = "activity.recorded"
)

// IdentityStatusEvent is published when an identity goes online or
// offline.  Dashboards use it to keep presence indicators live.
type IdentityStatusEvent struct {
	IdentityID string `json:"identity_id"`
	Username   string `json:"username"`
	Role       string `json:"role"`
	Status     string `json:"status"`
	IsOnline   bool   `json:"is_online"`
	Reason     string `json:"reason,omitempty"`
	At         string `json:"at"`
}

// ActivityRecordedEvent is published after an audit record is stored.
type ActivityRecordedEvent struct {
	ActivityID  string `json:"activity_id"`
	UserID      string `json:"user_id"`
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	IPAddress   string `json:"ip_address,omitempty"`
	At          string `json:"at"`
}
