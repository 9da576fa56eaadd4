package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompactRangesMixesRunsAndSingletons(t *testing.T) {
	got := compactRanges([]int{1, 2, 3, 5, 7, 8})
	assert.Equal(t, []string{"1-3", "5", "7-8"}, got)
}

func TestCompactRangesSingleValue(t *testing.T) {
	assert.Equal(t, []string{"4"}, compactRanges([]int{4}))
}

func TestCompactRangesEmpty(t *testing.T) {
	assert.Nil(t, compactRanges(nil))
}

func TestOwnedRangesGroupsBySlotOwner(t *testing.T) {
	table := NewSlotTable(8)
	g1 := &Group{Name: "g1"}
	g2 := &Group{Name: "g2"}
	table.SetOwner(0, 3, g1)
	table.SetOwner(4, 7, g2)

	ranges := table.OwnedRanges()
	assert.Equal(t, []string{"0-3"}, ranges["g1"])
	assert.Equal(t, []string{"4-7"}, ranges["g2"])
}
