package story

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a campaign, node, choice or session
	// does not exist, or a choice does not lead out of the current node.
	ErrNotFound = errors.New("story: not found")
	// ErrSessionCompleted is returned when stepping a finished session.
	ErrSessionCompleted = errors.New("story: session already completed")
	// ErrSessionBusy is returned when a step for the session is in flight.
	ErrSessionBusy = errors.New("story: session busy")
	// ErrCharacterFallen is returned when playing with an inactive character.
	ErrCharacterFallen = errors.New("story: character has fallen")
)

// RequirementNotMetError reports a gated choice the character fails to
// qualify for. It is a client error, not an engine fault.
type RequirementNotMetError struct {
	Reason string
}

func (e *RequirementNotMetError) Error() string {
	return fmt.Sprintf("story: requirement not met: %s", e.Reason)
}
