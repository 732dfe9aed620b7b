/*
Package psm has the persisted protocol state machine records of the agent:
connections, out-of-band invitations, mediation, credential and proof
exchanges, and the stored protocol messages. Every record is stored with
storage.Repository and its state changes are published to the agent's bus as
the events defined here.
*/
package psm

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is the malformed or contradictory input error. It's
	// detected before anything is persisted.
	ErrValidation = errors.New("validation error")

	// ErrProtocolState is returned when an operation is called for a record
	// in wrong role or state.
	ErrProtocolState = errors.New("protocol state error")
)

// StateError tells the expected and the actual role or state.
type StateError struct {
	Record   string
	ID       string
	Expected []string
	Actual   string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s %s: expected %v, got %s: %v",
		e.Record, e.ID, e.Expected, e.Actual, ErrProtocolState)
}

func (e *StateError) Unwrap() error {
	return ErrProtocolState
}

func assertOneOf[S ~string](record, id string, actual S, expected ...S) error {
	for _, e := range expected {
		if actual == e {
			return nil
		}
	}
	exp := make([]string, len(expected))
	for i, e := range expected {
		exp[i] = string(e)
	}
	return &StateError{Record: record, ID: id, Expected: exp, Actual: string(actual)}
}

// Validationf returns ErrValidation with the message.
func Validationf(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, a...))
}

// AutoAccept is the auto accept policy of the credential and proof
// exchanges.
type AutoAccept string

const (
	AutoAcceptAlways          AutoAccept = "always"
	AutoAcceptContentApproved AutoAccept = "contentApproved"
	AutoAcceptNever           AutoAccept = "never"
)

// Resolve returns the record's policy if set, else the agent default.
func (a AutoAccept) Resolve(agentDefault AutoAccept) AutoAccept {
	if a != "" {
		return a
	}
	if agentDefault != "" {
		return agentDefault
	}
	return AutoAcceptNever
}
