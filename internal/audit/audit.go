// Package audit records security-relevant events emitted by the credential
// store. Events carry no secret material: passwords, hashes, salts and the
// pepper never appear in an Event.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"credstore/internal/logging"
)

// Kind classifies an audit event.
type Kind string

const (
	KindUserCreated     Kind = "user_created"
	KindLoginSuccess    Kind = "login_success"
	KindLoginFailure    Kind = "login_failure"
	KindAccountLocked   Kind = "account_locked"
	KindAccountUnlocked Kind = "account_unlocked"
	KindPasswordChanged Kind = "password_changed"
	KindPasswordReset   Kind = "password_reset"
	KindUserDeleted     Kind = "user_deleted"
	KindMigration       Kind = "migration"
)

// Event is a single security event.
type Event struct {
	ID       uuid.UUID
	Kind     Kind
	Username string
	At       time.Time
	Detail   string
}

// Recorder receives audit events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(ctx context.Context, e Event)
}

// NewEvent assigns an ID and timestamp to a new event.
func NewEvent(kind Kind, username, detail string) Event {
	return Event{
		ID:       uuid.New(),
		Kind:     kind,
		Username: username,
		At:       time.Now().UTC(),
		Detail:   detail,
	}
}

// LogRecorder writes audit events to a structured logger.
type LogRecorder struct {
	log logging.Logger
}

func NewLogRecorder(log logging.Logger) *LogRecorder {
	return &LogRecorder{log: log.With("component", "audit")}
}

func (r *LogRecorder) Record(ctx context.Context, e Event) {
	r.log.Info(ctx, "security event",
		"event_id", e.ID.String(),
		"kind", string(e.Kind),
		"username", e.Username,
		"at", e.At,
		"detail", e.Detail,
	)
}

// NopRecorder discards events. Useful for tests and callers that do not
// collect an audit trail.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Event) {}
