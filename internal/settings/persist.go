package settings

import (
	"sync"

	"github.com/betterseqta/settings-go/internal/models"
)

type opKind int

const (
	opWrite opKind = iota
	opRemove
	opBarrier
)

func (k opKind) String() string {
	switch k {
	case opWrite:
		return "write"
	case opRemove:
		return "remove"
	default:
		return "barrier"
	}
}

type persistOp struct {
	kind     opKind
	keys     []string
	values   models.Namespace // opWrite only: the written keys as of the call
	done     chan struct{}    // opBarrier only
}

// persistQueue is an unbounded FIFO drained by a single worker, so every
// Set reaches the adapter in call order and is never coalesced.
type persistQueue struct {
	mu   sync.Mutex
	ops  []persistOp
	wake chan struct{}
}

func (q *persistQueue) push(op persistOp) {
	q.mu.Lock()
	q.ops = append(q.ops, op)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *persistQueue) pop() (persistOp, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ops) == 0 {
		return persistOp{}, false
	}
	op := q.ops[0]
	q.ops = q.ops[1:]
	return op, true
}

func (q *persistQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

func (s *Store) persistLoop() {
	defer s.wg.Done()
	for {
		for {
			if s.ctx.Err() != nil {
				return
			}
			op, ok := s.queue.pop()
			if !ok {
				break
			}
			s.run(op)
		}
		select {
		case <-s.queue.wake:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Store) run(op persistOp) {
	if op.kind == opBarrier {
		close(op.done)
		return
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(s.ctx); err != nil {
			return
		}
	}

	var err error
	switch op.kind {
	case opWrite:
		err = s.adapter.WriteAll(s.ctx, op.values)
	case opRemove:
		err = s.adapter.Remove(s.ctx, op.keys...)
	}
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.log.Error("settings: persist failed", "op", op.kind, "keys", op.keys, "err", err)
		s.report(&PersistError{Op: op.kind.String(), Keys: op.keys, Err: err})
		return
	}
	s.notifySnapshots()
}
