package audience

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeMembershipGroups(t *testing.T) {
	t.Parallel()

	optOut := NewSet("X")
	advert := NewSet("A")

	res := MergeMembershipGroups(optOut, map[string][]string{
		"listening_group": {"X", "Y"},
	}, advert)

	assert.Equal(t, MergeResult{Included: 1, Excluded: 1}, res)
	assert.Equal(t, []string{"A", "Y"}, advert.Sorted())
	assert.False(t, advert.Contains("X"))
}

func TestMergeMembershipGroupsCountsEveryOccurrence(t *testing.T) {
	t.Parallel()

	advert := NewSet()
	res := MergeMembershipGroups(NewSet("X"), map[string][]string{
		"b_group": {"A", "X"},
		"a_group": {"A", "X", "B"},
	}, advert)

	assert.Equal(t, MergeResult{Included: 3, Excluded: 2}, res)
	assert.Equal(t, []string{"A", "B"}, advert.Sorted())
}

func TestMergeMembershipGroupsEmpty(t *testing.T) {
	t.Parallel()

	advert := NewSet("A")
	res := MergeMembershipGroups(NewSet(), nil, advert)
	assert.Equal(t, MergeResult{}, res)
	assert.Equal(t, 1, advert.Len())
}

func TestSetDifference(t *testing.T) {
	t.Parallel()

	s := NewSet("C", "A", "B")
	assert.Equal(t, []string{"B", "C"}, s.Difference([]string{"A", "Z"}))
	assert.Empty(t, s.Difference([]string{"A", "B", "C"}))
	assert.Equal(t, []string{"A", "B", "C"}, s.Difference(nil))
}
