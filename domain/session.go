package domain

import "time"

// ConnectionInfo is the network metadata captured when a session is created
// and refreshed.
type ConnectionInfo struct {
	IP        string
	UserAgent string
}

// Session represents one authenticated device/client context. Per session the
// lifecycle is: nonexistent -> active (Valid=true) -> revoked (Valid=false).
// Revoked is terminal; nothing flips Valid back to true.
type Session struct {
	ID     string
	UserID string
	Valid  bool

	IP        string
	UserAgent string

	// Impersonated marks sessions created through the impersonation flow.
	Impersonated bool

	ExtraData map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time
}
