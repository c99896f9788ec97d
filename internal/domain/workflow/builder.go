package workflow

import (
	"context"
	"fmt"
)

// GuardFunc is a function that evaluates whether a transition should be allowed
type GuardFunc func(ctx context.Context) bool

// Builder builds a configured state machine
type Builder[S Status, T ~string] struct {
	configurations map[S]*Configuration[S, T]
	order          []S
}

// Configuration configures transitions leaving one status
type Configuration[S Status, T ~string] struct {
	from        S
	transitions map[T][]transition[S]
	order       []T
}

type transition[S Status] struct {
	to    S
	guard GuardFunc
}

type machine[S Status, T ~string] struct {
	current        S
	configurations map[S]*Configuration[S, T]
}

// NewBuilder creates a new state machine builder
func NewBuilder[S Status, T ~string]() *Builder[S, T] {
	return &Builder[S, T]{
		configurations: make(map[S]*Configuration[S, T]),
	}
}

// Configure returns the configuration for the given status. Terminal statuses
// cannot be configured because nothing may leave them.
func (b *Builder[S, T]) Configure(from S) *Configuration[S, T] {
	if !from.IsValid() {
		panic(fmt.Sprintf("invalid state: %s", from))
	}
	if from.IsTerminal() {
		panic(fmt.Sprintf("terminal state cannot have transitions: %s", from))
	}

	cfg, exists := b.configurations[from]
	if !exists {
		cfg = &Configuration[S, T]{
			from:        from,
			transitions: make(map[T][]transition[S]),
		}
		b.configurations[from] = cfg
		b.order = append(b.order, from)
	}

	return cfg
}

// Build creates a new machine positioned at the given status
func (b *Builder[S, T]) Build(initial S) Machine[S, T] {
	if !initial.IsValid() {
		panic(fmt.Sprintf("invalid initial state: %s", initial))
	}

	// Copy so machines built from the same builder stay independent
	configs := make(map[S]*Configuration[S, T], len(b.configurations))
	for from, cfg := range b.configurations {
		transitions := make(map[T][]transition[S], len(cfg.transitions))
		for trigger, ts := range cfg.transitions {
			transitions[trigger] = append([]transition[S]{}, ts...)
		}
		configs[from] = &Configuration[S, T]{
			from:        from,
			transitions: transitions,
			order:       append([]T{}, cfg.order...),
		}
	}

	return &machine[S, T]{
		current:        initial,
		configurations: configs,
	}
}

// Permit allows a trigger to transition to the target status
func (c *Configuration[S, T]) Permit(trigger T, to S) *Configuration[S, T] {
	return c.PermitIf(trigger, to, nil)
}

// PermitIf allows a trigger to transition to the target status if the guard passes
func (c *Configuration[S, T]) PermitIf(trigger T, to S, guard GuardFunc) *Configuration[S, T] {
	if !to.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", to))
	}

	if _, exists := c.transitions[trigger]; !exists {
		c.order = append(c.order, trigger)
	}
	c.transitions[trigger] = append(c.transitions[trigger], transition[S]{to: to, guard: guard})

	return c
}

func (m *machine[S, T]) State() S {
	return m.current
}

func (m *machine[S, T]) CanFire(trigger T) bool {
	cfg, exists := m.configurations[m.current]
	if !exists {
		return false
	}
	return len(cfg.transitions[trigger]) > 0
}

func (m *machine[S, T]) Fire(ctx context.Context, trigger T) error {
	cfg, exists := m.configurations[m.current]
	if !exists {
		return fmt.Errorf("%w: cannot fire trigger %s from state %s (no configuration)", ErrInvalidTransition, trigger, m.current)
	}

	transitions := cfg.transitions[trigger]
	if len(transitions) == 0 {
		return fmt.Errorf("%w: cannot fire trigger %s from state %s", ErrInvalidTransition, trigger, m.current)
	}

	// First transition whose guard passes wins
	for _, t := range transitions {
		if t.guard == nil || t.guard(ctx) {
			m.current = t.to
			return nil
		}
	}

	return fmt.Errorf("%w: trigger %s from state %s", ErrGuardFailed, trigger, m.current)
}

func (m *machine[S, T]) PermittedTriggers() []T {
	cfg, exists := m.configurations[m.current]
	if !exists {
		return []T{}
	}
	return append([]T{}, cfg.order...)
}
