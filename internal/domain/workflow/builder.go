package workflow

import (
	"fmt"
	"sort"
)

// TableBuilder collects permitted edges and produces an immutable Table
type TableBuilder interface {
	// Configure returns the edge configuration for the given source status
	Configure(from Status) StatusConfiguration

	// Build freezes the configured edges into a Table
	Build() *Table
}

// StatusConfiguration configures the outgoing edges of one status
type StatusConfiguration interface {
	// Permit allows a transition from the configured status to the target
	Permit(to Status) StatusConfiguration
}

// statusConfig implements StatusConfiguration
type statusConfig struct {
	from    Status
	targets map[Status]bool
}

// tableBuilder implements TableBuilder
type tableBuilder struct {
	configurations map[Status]*statusConfig
}

// Table is a read-only mapping from a status to its legally reachable targets.
// A built Table is never mutated and may be shared by any number of goroutines.
type Table struct {
	edges map[Status][]Status
}

// NewBuilder creates a new transition table builder
func NewBuilder() TableBuilder {
	return &tableBuilder{
		configurations: make(map[Status]*statusConfig),
	}
}

// Configure returns the configuration for the given status
func (b *tableBuilder) Configure(from Status) StatusConfiguration {
	if !from.IsValid() {
		panic(fmt.Sprintf("invalid status: %s", from))
	}

	config, exists := b.configurations[from]
	if !exists {
		config = &statusConfig{
			from:    from,
			targets: make(map[Status]bool),
		}
		b.configurations[from] = config
	}

	return config
}

// Build copies the configured edges into a Table. Targets are kept sorted so
// callers always see the same order.
func (b *tableBuilder) Build() *Table {
	edges := make(map[Status][]Status, len(b.configurations))
	for from, config := range b.configurations {
		targets := make([]Status, 0, len(config.targets))
		for to := range config.targets {
			targets = append(targets, to)
		}
		sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
		edges[from] = targets
	}

	return &Table{edges: edges}
}

// Permit allows a transition to the target status
func (c *statusConfig) Permit(to Status) StatusConfiguration {
	if !to.IsValid() {
		panic(fmt.Sprintf("invalid target status: %s", to))
	}
	if to == c.from {
		panic(fmt.Sprintf("self transition not allowed: %s", to))
	}

	c.targets[to] = true
	return c
}

// AllowedTargets returns the statuses reachable from the given status in one step.
// The returned slice is a copy.
func (t *Table) AllowedTargets(from Status) []Status {
	targets := t.edges[from]
	out := make([]Status, len(targets))
	copy(out, targets)
	return out
}

// CanTransition returns true iff to is an allowed target of from
func (t *Table) CanTransition(from, to Status) bool {
	for _, s := range t.edges[from] {
		if s == to {
			return true
		}
	}
	return false
}
