package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResourceSlotArithmetic(t *testing.T) {
	a := NewResourceSlot(map[string]int64{"cpu": 4, "mem": 1024})
	b := NewResourceSlot(map[string]int64{"cpu": 1, "mem": 512})

	sum := a.Add(b)
	assert.Equal(t, int64(5), sum["cpu"])
	assert.Equal(t, int64(1536), sum["mem"])

	diff := a.Sub(b)
	assert.Equal(t, int64(3), diff["cpu"])
	assert.Equal(t, int64(512), diff["mem"])

	assert.True(t, b.LessEqual(a))
	assert.False(t, a.LessEqual(b))
}

func TestResourceSlotKnownDropsUnrecognized(t *testing.T) {
	s := NewResourceSlot(map[string]int64{"cpu": 1, "cuda.device": 2, "mystery": 9})
	allowed := map[string]struct{}{"cpu": {}, "cuda.device": {}}
	known := s.Known(allowed)
	assert.Equal(t, int64(1), known["cpu"])
	assert.Equal(t, int64(2), known["cuda.device"])
	_, ok := known["mystery"]
	assert.False(t, ok)
}

func TestResourceSlotIsZero(t *testing.T) {
	assert.True(t, ResourceSlot{}.IsZero())
	assert.True(t, NewResourceSlot(map[string]int64{"cpu": 0}).IsZero())
	assert.False(t, NewResourceSlot(map[string]int64{"cpu": 1}).IsZero())
}

func TestSumSlots(t *testing.T) {
	a := NewResourceSlot(map[string]int64{"cpu": 1})
	b := NewResourceSlot(map[string]int64{"cpu": 2, "mem": 5})
	c := NewResourceSlot(map[string]int64{"mem": 3})
	total := Sum(a, b, c)
	assert.Equal(t, int64(3), total["cpu"])
	assert.Equal(t, int64(8), total["mem"])
}
