package entity

import (
	"slices"
	"time"
)

// Claims is the verified content of a bearer token.
type Claims struct {
	Subject     string
	SessionID   string
	UserID      string
	Permissions []string
	ExpiresAt   time.Time
	IssuedAt    time.Time
}

func (c Claims) HasPermission(permission string) bool {
	return slices.Contains(c.Permissions, permission)
}
