package gpu

import (
	"fmt"

	"github.com/x448/float16"
)

// DefaultMaxCopyGroups bounds the in-flight async copy groups of a warp.
const DefaultMaxCopyGroups = 8

type copyOp struct {
	dst, src []float16.Float16
}

// CopyPipeline tracks the asynchronous global-to-shared copies issued
// by one warp.
//
// Copies are issued with Issue, which only records them. Commit hands
// every recorded copy to a background goroutine as one group; Wait(n)
// blocks until at most n committed groups are still in flight. Groups
// complete in commit order from the point of view of Wait.
//
// A CopyPipeline belongs to a single warp and is not safe for concurrent use.
type CopyPipeline struct {
	pending  []copyOp
	inflight []chan struct{}
	max      int
}

// NewCopyPipeline returns a pipeline allowing at most maxGroups
// committed groups in flight.
func NewCopyPipeline(maxGroups int) *CopyPipeline {
	if maxGroups < 1 {
		maxGroups = 1
	}
	return &CopyPipeline{max: maxGroups}
}

// Issue records a copy of src into dst for the next group.
func (p *CopyPipeline) Issue(dst, src []float16.Float16) {
	if len(dst) != len(src) {
		panic(fmt.Errorf("%w: async copy of %d elements into %d", ErrSizeMismatch, len(src), len(dst)))
	}
	p.pending = append(p.pending, copyOp{dst: dst, src: src})
}

// Commit starts every pending copy as one group. An empty group is
// still a group and completes immediately. When the in-flight bound is
// reached, Commit first waits for the oldest group.
func (p *CopyPipeline) Commit() {
	if len(p.inflight) == p.max {
		p.Wait(p.max - 1)
	}

	done := make(chan struct{})
	p.inflight = append(p.inflight, done)

	ops := p.pending
	p.pending = nil
	if len(ops) == 0 {
		close(done)
		return
	}
	go func() {
		for _, op := range ops {
			copy(op.dst, op.src)
		}
		close(done)
	}()
}

// Wait blocks until at most n committed groups are in flight.
func (p *CopyPipeline) Wait(n int) {
	if n < 0 {
		n = 0
	}
	for len(p.inflight) > n {
		<-p.inflight[0]
		p.inflight = p.inflight[1:]
	}
}

// InFlight returns the number of committed groups not yet waited for.
func (p *CopyPipeline) InFlight() int {
	return len(p.inflight)
}

// Pending returns the number of issued copies not yet committed.
func (p *CopyPipeline) Pending() int {
	return len(p.pending)
}
