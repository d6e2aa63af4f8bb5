package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/loan-engine/core"
)

func TestSequenceGenerator_IsDeterministic(t *testing.T) {
	gen := &core.SequenceGenerator{Prefix: "dep"}

	assert.Equal(t, "dep-1", gen.NewID())
	assert.Equal(t, "dep-2", gen.NewID())
	assert.Equal(t, "dep-3", gen.NewID())
}

func TestUUIDGenerator_YieldsUniqueIDs(t *testing.T) {
	gen := core.UUIDGenerator{}

	a := gen.NewID()
	b := gen.NewID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
