package domain

import "time"

// EventType is the presence state a geofence transition moves the user into.
type EventType string

const (
	EventHome EventType = "HOME"
	EventAway EventType = "AWAY"
)

// Valid reports whether t is one of the known presence states.
func (t EventType) Valid() bool {
	return t == EventHome || t == EventAway
}

// PresenceEvent is a single geofence transition for a user. Events are
// append-only; consecutive stored events for one user never share a type.
type PresenceEvent struct {
	UserID     string
	Type       EventType
	OccurredAt time.Time
}

// Transitions reports whether an incoming event of type next represents a real
// state change relative to the latest stored event. A nil latest event always
// transitions.
func Transitions(latest *PresenceEvent, next EventType) bool {
	return latest == nil || latest.Type != next
}
