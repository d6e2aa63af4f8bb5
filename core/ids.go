package core

import (
	"fmt"

	"github.com/google/uuid"
)

// =============================================================================
// ID GENERATION - Injected so tests get deterministic ids
// =============================================================================

// IDGenerator produces identifiers for domain entities (deposits,
// balance modifications, versions). Injected rather than called as a
// global so replays and tests are deterministic.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator is the production generator.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string { return uuid.NewString() }

// SequenceGenerator yields prefix-1, prefix-2, ... for tests and golden
// scenarios.
type SequenceGenerator struct {
	Prefix string
	next   int
}

func (g *SequenceGenerator) NewID() string {
	g.next++
	return fmt.Sprintf("%s-%d", g.Prefix, g.next)
}
