package v1

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidAction marks a user action that must be rejected before it reaches the aggregator.
var ErrInvalidAction = errors.New("invalid user action")

// ActionType is the kind of engagement a user had with an event.
type ActionType string

const (
	ActionView     ActionType = "VIEW"
	ActionRegister ActionType = "REGISTER"
	ActionLike     ActionType = "LIKE"
)

// ParseActionType normalises the accepted spellings of an action kind.
// "view", "VIEW" and "ACTION_VIEW" all map to ActionView.
func ParseActionType(s string) (ActionType, error) {
	normalized := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "ACTION_")
	switch ActionType(normalized) {
	case ActionView, ActionRegister, ActionLike:
		return ActionType(normalized), nil
	default:
		return "", fmt.Errorf("%w: unknown action_type %q", ErrInvalidAction, s)
	}
}

// UserAction is the inbound record: one user interaction with one event.
// Delivery is at-least-once and unordered across (user, event) keys.
type UserAction struct {
	UserID     int64      `json:"user_id" yaml:"user_id"`
	EventID    int64      `json:"event_id" yaml:"event_id"`
	ActionType ActionType `json:"action_type" yaml:"action_type"`

	// Timestamp is when the action happened on the client side.
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// Validate checks the envelope and normalises ActionType in place.
func (a *UserAction) Validate() error {
	if a.UserID <= 0 {
		return fmt.Errorf("%w: user_id must be positive", ErrInvalidAction)
	}
	if a.EventID <= 0 {
		return fmt.Errorf("%w: event_id must be positive", ErrInvalidAction)
	}
	if a.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidAction)
	}
	kind, err := ParseActionType(string(a.ActionType))
	if err != nil {
		return err
	}
	a.ActionType = kind
	return nil
}

// Key is the partitioning key used on the bus ("<user>:<event>").
func (a UserAction) Key() string {
	return fmt.Sprintf("%d:%d", a.UserID, a.EventID)
}
