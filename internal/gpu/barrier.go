package gpu

import "sync"

// Barrier is a cyclic barrier shared by the warps of one block.
//
// Every warp must reach the same sequence of barriers. A warp that
// leaves the block while another waits, or a warp that waits after
// another has left, breaks the barrier with ErrBarrierDivergence;
// every pending and future Wait then panics with that error so the
// block fails instead of hanging.
type Barrier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	parties    int
	waiting    int
	departed   int
	generation uint64
	err        error
}

// NewBarrier returns a barrier for parties participants.
func NewBarrier(parties int) *Barrier {
	b := &Barrier{parties: parties}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Wait blocks until every participant has called Wait for the current
// generation.
func (b *Barrier) Wait() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.err != nil {
		panic(b.err)
	}
	if b.departed > 0 {
		b.breakLocked(ErrBarrierDivergence)
		panic(b.err)
	}

	gen := b.generation
	b.waiting++
	if b.waiting == b.parties {
		b.waiting = 0
		b.generation++
		b.cond.Broadcast()
		return
	}
	for gen == b.generation && b.err == nil {
		b.cond.Wait()
	}
	if gen == b.generation {
		panic(b.err)
	}
}

// Leave marks one participant as finished with the block.
func (b *Barrier) Leave() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.departed++
	if b.waiting > 0 && b.err == nil {
		b.breakLocked(ErrBarrierDivergence)
	}
}

// Break fails the barrier with err, releasing every waiter.
func (b *Barrier) Break(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err == nil {
		b.breakLocked(err)
	}
}

// Generation returns the number of completed barrier phases.
func (b *Barrier) Generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation
}

// Err returns the error that broke the barrier, if any.
func (b *Barrier) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *Barrier) breakLocked(err error) {
	b.err = err
	b.cond.Broadcast()
}
