package models

import "time"

type SessionEventType string

const (
	EventSessionIssued    SessionEventType = "session.issued"
	EventSessionRotated   SessionEventType = "session.rotated"
	EventSessionRevoked   SessionEventType = "session.revoked"
	EventReplayDetected   SessionEventType = "session.replay_detected"
	EventUserRevoked      SessionEventType = "user.sessions_revoked"
	EventDeviceMismatched SessionEventType = "session.device_mismatch"
)

type SessionEvent struct {
	ID         int64            `json:"id,omitempty"`
	Type       SessionEventType `json:"type"`
	SessionID  string           `json:"session_id,omitempty"`
	UserID     string           `json:"user_id"`
	DeviceID   string           `json:"device_id,omitempty"`
	Generation int64            `json:"generation"`
	Reason     string           `json:"reason,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

func (t SessionEventType) Valid() bool {
	switch t {
	case EventSessionIssued, EventSessionRotated, EventSessionRevoked,
		EventReplayDetected, EventUserRevoked, EventDeviceMismatched:
		return true
	}
	return false
}
