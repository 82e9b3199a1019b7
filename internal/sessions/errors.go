package sessions

import (
	"errors"
	"fmt"

	"github.com/llmselect/llmselect-chat/internal/router"
	"github.com/llmselect/llmselect-chat/pkg/models"
)

var (
	ErrEmptyName        = errors.New("session name must not be empty")
	ErrEmptyInput       = errors.New("message must not be empty")
	ErrSessionCompleted = errors.New("session is completed; resume it to continue")
	ErrNoConversation   = router.ErrNoConversation
)

// ErrInvalidTransition is returned when an operation is not allowed in the
// session's current state.
type ErrInvalidTransition struct {
	From string
	Op   string
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("cannot %s a %s session", e.Op, e.From)
}

// TurnError is returned by Send when the provider call fails. Entry is the
// record appended to the session's error log.
type TurnError struct {
	Entry models.ErrorLog
	Err   error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn %d failed: %s: %v", e.Entry.Turn, e.Entry.ErrorType, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }

// state names a session's lifecycle position for error messages.
func state(s *models.Session) string {
	switch {
	case s.PurgedFromTrash:
		return "purged"
	case s.Deleted:
		return "deleted"
	default:
		return string(s.Status)
	}
}
