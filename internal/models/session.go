package models

import "time"

type Session struct {
	ID             string         `json:"session_id"`
	UserID         string         `json:"user_id"`
	DeviceID       string         `json:"device_id,omitempty"`
	Generation     int64          `json:"generation"`
	CreatedAt      time.Time      `json:"created_at"`
	LastActivityAt time.Time      `json:"last_activity_at"`
	Claims         IdentityClaims `json:"-"`
}
