package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIterationLimiter(t *testing.T) {
	l := NewIterationLimiter(2)

	assert.NoError(t, l.Increment())
	assert.NoError(t, l.Increment())
	assert.ErrorIs(t, l.Increment(), ErrIterationsExhausted)
	assert.Equal(t, 2, l.Count())
	assert.Equal(t, 0, l.Remaining())
}

func TestIterationLimiter_FloorOfOne(t *testing.T) {
	for _, max := range []int{0, -3} {
		l := NewIterationLimiter(max)
		assert.Equal(t, 1, l.Max())
		assert.NoError(t, l.Increment())
		assert.Error(t, l.Increment())
	}
}
