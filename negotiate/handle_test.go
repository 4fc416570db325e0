package negotiate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArena_GenerationWrapSkipsZero(t *testing.T) {
	var a arena[string]
	idx, _ := a.insert("first")
	a.slots[idx].gen = math.MaxUint32

	_, ok := a.remove(idx, math.MaxUint32)
	require.True(t, ok)

	again, gen := a.insert("second")
	assert.Equal(t, idx, again)
	assert.Equal(t, uint32(1), gen)

	v, ok := a.get(again, gen)
	require.True(t, ok)
	assert.Equal(t, "second", v)

	_, ok = a.get(again, math.MaxUint32)
	assert.False(t, ok)
}
