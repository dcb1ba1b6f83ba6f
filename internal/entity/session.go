package entity

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Session is a copy of an admitted session as seen by callers of the registry.
// ConnectionID identifies the admission that created it, so a stale connection
// cannot release a newer session that reuses the same SessionID.
type Session struct {
	ID            string    `json:"session_id"`
	ConnectionID  uuid.UUID `json:"connection_id"`
	Subject       string    `json:"subject"`
	UserID        string    `json:"user_id"`
	Permissions   []string  `json:"permissions"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

func (s Session) HasPermission(permission string) bool {
	return slices.Contains(s.Permissions, permission)
}

// ShortID is used in log lines.
func (s Session) ShortID() string {
	return ShortSessionID(s.ID)
}

func ShortSessionID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
