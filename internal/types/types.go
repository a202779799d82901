// Package types provides common type definitions for the vault snapshot system.
package types

import "math/big"

// PollerState is the lifecycle state of the background poller.
type PollerState string

const (
	// PollerDisabled means the poller is switched off or unconfigured for the process lifetime
	PollerDisabled PollerState = "disabled"
	// PollerIdle means the poller is armed and waiting for the next tick
	PollerIdle PollerState = "idle"
	// PollerRunning means a tick is executing the acquisition pipeline
	PollerRunning PollerState = "running"
	// PollerStopped means the poller received a shutdown signal
	PollerStopped PollerState = "stopped"
)

// TriggerSource identifies which entry point started a pipeline run
type TriggerSource string

const (
	TriggerPoller TriggerSource = "poller"
	TriggerHTTP   TriggerSource = "http"
	TriggerManual TriggerSource = "manual"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// OptionalUint is the outcome of a view call that a contract may not implement.
// OK is false when the call failed; Value is nil in that case.
type OptionalUint struct {
	Value *big.Int
	OK    bool
}

// Present wraps a successful read.
func Present(v *big.Int) OptionalUint {
	return OptionalUint{Value: v, OK: v != nil}
}

// Absent marks a read as unavailable.
func Absent() OptionalUint {
	return OptionalUint{}
}
