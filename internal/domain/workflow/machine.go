package workflow

import "context"

// Status is the constraint satisfied by every status type driven through a Machine.
type Status interface {
	comparable
	String() string
	IsValid() bool
	IsTerminal() bool
}

// Machine tracks the current status of one entity and validates transitions
type Machine[S Status, T ~string] interface {
	// State returns the current status
	State() S

	// CanFire returns true if the trigger is permitted in the current status
	CanFire(trigger T) bool

	// Fire attempts to execute the trigger, transitioning to the new status if allowed
	Fire(ctx context.Context, trigger T) error

	// PermittedTriggers returns all triggers that can be fired in the current status
	PermittedTriggers() []T
}
