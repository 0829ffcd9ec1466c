package registry

import (
	"errors"
	"fmt"
)

// Error categories. The gateway maps these onto wire error events; every
// operation failure wraps exactly one of them.
var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidState = errors.New("invalid state")
	ErrValidation   = errors.New("invalid payload")
)

var (
	ErrSessionNotFound     = fmt.Errorf("session %w", ErrNotFound)
	ErrItemNotFound        = fmt.Errorf("item %w", ErrNotFound)
	ErrParticipantNotFound = fmt.Errorf("participant %w", ErrNotFound)

	ErrNotHost   = fmt.Errorf("%w: host-only operation", ErrForbidden)
	ErrNotMember = fmt.Errorf("%w: caller is not a session participant", ErrForbidden)

	ErrEmptyQueue       = fmt.Errorf("%w: estimation queue is empty", ErrInvalidState)
	ErrAlreadyInSession = fmt.Errorf("%w: connection already belongs to a session", ErrInvalidState)
	ErrVotingClosed     = fmt.Errorf("%w: voting is not open", ErrInvalidState)
	ErrNoCurrentItem    = fmt.Errorf("%w: session has no current item", ErrInvalidState)
	ErrDuplicateItem    = fmt.Errorf("%w: item already in session", ErrInvalidState)
)
