package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	AnyEvent EventType = "*"

	EventUserRegistered         EventType = "user_registered"
	EventUserLoggedIn           EventType = "user_logged_in"
	EventLoginFailed            EventType = "login_failed"
	EventPasswordChanged        EventType = "password_changed"
	EventPasswordResetRequested EventType = "password_reset_requested"
	EventPasswordResetCompleted EventType = "password_reset_completed"
	EventRateLimited            EventType = "rate_limited"
	EventUserStatusChanged      EventType = "user_status_changed"
	EventUserCreated            EventType = "user_created"
	EventUserUpdated            EventType = "user_updated"
	EventUserDeleted            EventType = "user_deleted"
)

// Event represents a security-relevant occurrence.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	SubjectID string      `json:"subject_id,omitempty"`
	ActorID   string      `json:"actor_id,omitempty"`
	IP        string      `json:"ip,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// New stamps an event with a fresh id and the current time.
func New(eventType EventType, subjectID string, payload interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		SubjectID: subjectID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// LoginFailedPayload payload.
type LoginFailedPayload struct {
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

// RateLimitedPayload payload.
type RateLimitedPayload struct {
	Limiter string `json:"limiter"`
	Path    string `json:"path"`
}

// UserStatusChangedPayload payload.
type UserStatusChangedPayload struct {
	IsActive bool `json:"is_active"`
}

// UserUpdatedPayload names the fields an update touched.
type UserUpdatedPayload struct {
	Fields []string `json:"fields"`
}
