// Package mark implements the two-ended monotonic mark allocator: commit
// marks count up from a low watermark, blob marks count down from a high
// watermark, and the two ranges are never allowed to meet.
package mark

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Mark is a fast-import mark identifier.
type Mark int64

// Allocator hands out commit and blob marks for a single target repository.
// It is not safe for concurrent use; the converter is single-threaded per
// repository by design (see the concurrency model).
type Allocator struct {
	logger *logrus.Logger
	name   string

	initialMark Mark
	maxMark     Mark

	nextCommit Mark
	nextBlob   Mark
}

// NewAllocator builds an Allocator for one repository. initialMark and
// maxMark bound the commit-mark and blob-mark ranges respectively.
func NewAllocator(logger *logrus.Logger, name string, initialMark, maxMark int) *Allocator {
	return &Allocator{
		logger:      logger,
		name:        name,
		initialMark: Mark(initialMark),
		maxMark:     Mark(maxMark),
		nextCommit:  Mark(initialMark),
		nextBlob:    Mark(maxMark) - 1,
	}
}

// NextCommitMark returns the next ascending commit mark and asserts the
// commit/blob ranges have not collided.
func (a *Allocator) NextCommitMark() Mark {
	m := a.nextCommit
	a.nextCommit++
	a.assertGap()
	return m
}

// NextBlobMark returns the next descending blob mark and asserts the gap.
func (a *Allocator) NextBlobMark() Mark {
	m := a.nextBlob
	a.nextBlob--
	a.assertGap()
	return m
}

// ResetBlobMarks is called when a repository's outstanding transaction count
// reaches zero: blob marks are reused per-revision since no transaction is
// still writing blob content once every transaction of a revision has
// committed.
func (a *Allocator) ResetBlobMarks() {
	a.nextBlob = a.maxMark - 1
}

func (a *Allocator) assertGap() {
	if a.nextCommit+1 >= a.nextBlob {
		a.logger.Fatalf("mark allocator exhausted for %s: commit=%d blob=%d", a.name, a.nextCommit, a.nextBlob)
	}
}

func (m Mark) String() string {
	return fmt.Sprintf(":%d", int64(m))
}
