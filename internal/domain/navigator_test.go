package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdvanceRollsIntoNextUnit(t *testing.T) {
	roadmap := testRoadmap(2, 3)

	next, ok := roadmap.Advance(Position{Unit: 0, Section: 0})
	assert.True(t, ok)
	assert.Equal(t, Position{Unit: 0, Section: 1}, next)

	next, ok = roadmap.Advance(next)
	assert.True(t, ok)
	assert.Equal(t, Position{Unit: 1, Section: 0}, next)

	_, ok = roadmap.Advance(Position{Unit: 1, Section: 2})
	assert.False(t, ok)
}

func TestAdvanceSkipsEmptyUnits(t *testing.T) {
	roadmap := testRoadmap(1, 0, 2)

	next, ok := roadmap.Advance(Position{Unit: 0, Section: 0})
	assert.True(t, ok)
	assert.Equal(t, Position{Unit: 2, Section: 0}, next)
}

func TestAdvanceVisitsEverySectionOnce(t *testing.T) {
	shapes := [][]int{{2, 2}, {2, 3, 4}, {4, 4, 4, 4, 4}, {1}, {3, 2}}

	for _, shape := range shapes {
		roadmap := testRoadmap(shape...)
		total := roadmap.SectionCount()

		pos := Position{}
		noNext := 0
		seen := map[Position]int{pos: 1}
		for i := 0; i < total; i++ {
			next, ok := roadmap.Advance(pos)
			if !ok {
				noNext++
				continue
			}
			assert.NotEqual(t, Position{}, next)
			seen[next]++
			pos = next
		}

		assert.Equal(t, 1, noNext, "shape %v", shape)
		assert.Len(t, seen, total, "shape %v", shape)
		for p, count := range seen {
			assert.Equal(t, 1, count, "position %v visited more than once", p)
		}
	}
}

func TestRewindMirrorsAdvance(t *testing.T) {
	roadmap := testRoadmap(2, 3)

	assert.Equal(t, Position{Unit: 0, Section: 0}, roadmap.Rewind(Position{Unit: 0, Section: 0}))
	assert.Equal(t, Position{Unit: 0, Section: 0}, roadmap.Rewind(Position{Unit: 0, Section: 1}))
	assert.Equal(t, Position{Unit: 0, Section: 1}, roadmap.Rewind(Position{Unit: 1, Section: 0}))
	assert.Equal(t, Position{Unit: 1, Section: 1}, roadmap.Rewind(Position{Unit: 1, Section: 2}))

	pos := Position{Unit: 1, Section: 2}
	for {
		prev := roadmap.Rewind(pos)
		if prev == pos {
			break
		}
		next, ok := roadmap.Advance(prev)
		assert.True(t, ok)
		assert.Equal(t, pos, next)
		pos = prev
	}
	assert.Equal(t, Position{}, pos)
}

func TestFirstPositionSkipsEmptyUnits(t *testing.T) {
	pos, ok := testRoadmap(0, 2).FirstPosition()
	assert.True(t, ok)
	assert.Equal(t, Position{Unit: 1, Section: 0}, pos)

	_, ok = testRoadmap(0, 0).FirstPosition()
	assert.False(t, ok)
}
