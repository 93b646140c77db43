package domain

import "time"

// Device types reported on identify.
const (
	DeviceWeb     = "web"
	DeviceMobile  = "mobile"
	DeviceDesktop = "desktop"
	DeviceUnknown = "unknown"
)

// NormalizeDevice maps free-form device tags onto the known set.
func NormalizeDevice(s string) string {
	switch s {
	case DeviceWeb, DeviceMobile, DeviceDesktop:
		return s
	default:
		return DeviceUnknown
	}
}

// SessionInfo describes one live session, as exposed by presence queries.
type SessionInfo struct {
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	DeviceType  string    `json:"device_type"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Presence answers "is this user online and where".
type Presence struct {
	UserID   string        `json:"user_id"`
	Online   bool          `json:"online"`
	Sessions []SessionInfo `json:"sessions"`
}
