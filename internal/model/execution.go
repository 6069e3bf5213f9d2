// Package model defines the data structures used throughout the application.
package model

import "time"

// Outcome is how an execution left the registry.
type Outcome string

const (
	OutcomeRunning   Outcome = "running"   // still registered
	OutcomeCompleted Outcome = "completed" // poller observed the exit
	OutcomeReaped    Outcome = "reaped"    // lifetime elapsed
	OutcomeKilled    Outcome = "killed"    // admin kill
	OutcomeReset     Outcome = "reset"     // admin reset or shutdown
	OutcomeVanished  Outcome = "vanished"  // runtime lost the container
	OutcomeFailed    Outcome = "failed"    // runtime refused the launch
)

// Execution is one row of the execution journal.
//
// The journal is an audit trail only. The live registry never reads it back,
// so a lost or disabled journal does not change how submissions behave.
type Execution struct {
	ID          string     `json:"id"`
	Token       string     `json:"token"`
	Interpreter string     `json:"interpreter"`
	SetupID     string     `json:"setupId"`
	Outcome     Outcome    `json:"outcome"`
	ExitCode    *int       `json:"exitCode,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
}
