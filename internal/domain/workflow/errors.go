package workflow

import "errors"

// ErrInvalidTransition is returned when the current status has no transition for a trigger
var ErrInvalidTransition = errors.New("transition not permitted from current status")

// ErrGuardFailed is returned when a trigger is permitted but every guard on it refuses,
// e.g. an approval below the confidence floor. The machine stays where it was.
var ErrGuardFailed = errors.New("transition refused by guard")
