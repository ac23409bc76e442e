package models

import (
	"strings"
	"time"
)

// Session is one live client connection.
type Session struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Platform    string    `json:"platform,omitempty"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// PlatformCategory normalizes a client platform string.
func PlatformCategory(platform string) string {
	switch strings.ToLower(platform) {
	case "android", "ios":
		return "mobile"
	case "web", "":
		return "web"
	default:
		return "unknown"
	}
}
