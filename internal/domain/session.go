package domain

import (
	"errors"
	"time"
)

var (
	// ErrSessionExists is returned when a session is already active for a conversation.
	ErrSessionExists = errors.New("relay session already active")
	// ErrSessionNotFound is returned when updating a session that was cleared or never begun.
	ErrSessionNotFound = errors.New("relay session not found")
)

// Step is a state of the relay dialog.
type Step string

const (
	StepIntake    Step = "intake"
	StepRelaying  Step = "relaying"
	StepFinalized Step = "finalized"
)

// RelaySession is the ephemeral dialog state kept for one conversation.
// ID identifies one run of the dialog; stores only update or remove a
// session whose ID matches.
type RelaySession struct {
	ID             string
	ConversationID string
	Step           Step
	Attachment     *Attachment
	StartedAt      time.Time
	UpdatedAt      time.Time
}
