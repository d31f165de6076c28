package coincidences

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGateAccepts(t *testing.T) {
	gate := NewGate(ptr(10), ptr(20))

	assert.True(t, gate.Accepts(10))
	assert.True(t, gate.Accepts(19.99))
	assert.False(t, gate.Accepts(20))
	assert.False(t, gate.Accepts(9))
	assert.False(t, gate.Accepts(math.NaN()))
	assert.Equal(t, "[10, 20)", gate.String())
}

func TestGateHalfOpen(t *testing.T) {
	lower := NewGate(ptr(10), nil)
	assert.True(t, lower.Accepts(1e12))
	assert.False(t, lower.Accepts(math.NaN()))
	assert.False(t, lower.IsUnbounded())

	upper := NewGate(nil, ptr(10))
	assert.True(t, upper.Accepts(-1e12))
	assert.False(t, upper.Accepts(10))
}

func TestUnboundedGate(t *testing.T) {
	gate := NewGate(nil, nil)

	assert.True(t, gate.IsUnbounded())
	assert.True(t, gate.Accepts(math.NaN()))
	assert.True(t, gate.Accepts(math.Inf(1)))
	assert.Equal(t, "open", gate.String())
}
