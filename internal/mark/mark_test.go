package mark

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func newTestAllocator() *Allocator {
	logger := logrus.New()
	return NewAllocator(logger, "test-repo", 42000000, 1000000000)
}

func TestCommitMarksAscend(t *testing.T) {
	a := newTestAllocator()
	m1 := a.NextCommitMark()
	m2 := a.NextCommitMark()
	assert.Equal(t, Mark(42000000), m1)
	assert.Equal(t, Mark(42000001), m2)
}

func TestBlobMarksDescend(t *testing.T) {
	a := newTestAllocator()
	m1 := a.NextBlobMark()
	m2 := a.NextBlobMark()
	assert.Equal(t, Mark(999999999), m1)
	assert.Equal(t, Mark(999999998), m2)
}

func TestResetBlobMarks(t *testing.T) {
	a := newTestAllocator()
	a.NextBlobMark()
	a.NextBlobMark()
	a.ResetBlobMarks()
	assert.Equal(t, Mark(999999999), a.NextBlobMark())
}

func TestMarkString(t *testing.T) {
	assert.Equal(t, ":42000000", Mark(42000000).String())
}
