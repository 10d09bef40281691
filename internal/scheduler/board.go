package scheduler

import (
	"sync"
	"time"

	"obsched/internal/model"
	"obsched/pkg/adt"
)

type sitePending struct {
	siteID uint64
	q      *adt.Queue[*model.TaskBlock]
	// ready gets a token for every push this site may take.
	ready *adt.Ring[struct{}]
}

type delivered struct {
	block *model.TaskBlock
	at    time.Time
}

// blockBoard tracks task blocks on the global tier: pending per site, then
// delivered until acknowledged. A popped block is owned by exactly one
// caller.
type blockBoard struct {
	pending  *adt.List[sitePending]
	inflight *adt.List[delivered]

	createMu sync.Mutex
}

const readyTokens = 8

func newBlockBoard() *blockBoard {
	return &blockBoard{
		pending:  adt.NewList[sitePending](nil),
		inflight: adt.NewList[delivered](nil),
	}
}

func (b *blockBoard) entry(siteID uint64, create bool) (sitePending, bool) {
	match := func(p sitePending) bool { return p.siteID == siteID }
	if p, ok := b.pending.FindFirstIf(match); ok || !create {
		return p, ok
	}
	b.createMu.Lock()
	defer b.createMu.Unlock()
	if p, ok := b.pending.FindFirstIf(match); ok {
		return p, true
	}
	p := sitePending{
		siteID: siteID,
		q:      adt.NewQueue[*model.TaskBlock](),
		ready:  adt.NewRing[struct{}](readyTokens),
	}
	b.pending.PushFront(p)
	return p, true
}

func (b *blockBoard) queue(siteID uint64, create bool) *adt.Queue[*model.TaskBlock] {
	p, _ := b.entry(siteID, create)
	return p.q
}

// waiter returns the ring a caller for siteID sleeps on.
func (b *blockBoard) waiter(siteID uint64) *adt.Ring[struct{}] {
	p, _ := b.entry(siteID, true)
	return p.ready
}

// push queues block and wakes only the sites that may take it: its own
// site and the any-site waiters, or every site for an unaddressed block.
func (b *blockBoard) push(block *model.TaskBlock) {
	own, _ := b.entry(block.SiteID, true)
	own.q.Push(block)
	own.ready.Push(struct{}{})
	if block.SiteID != 0 {
		if wild, ok := b.entry(0, false); ok {
			wild.ready.Push(struct{}{})
		}
		return
	}
	b.pending.ForEach(func(p *sitePending) {
		if p.siteID != 0 {
			p.ready.Push(struct{}{})
		}
	})
}

// tryPop takes the next block addressed to siteID, falling back to blocks
// addressed to no site. siteID 0 takes from any queue.
func (b *blockBoard) tryPop(siteID uint64) (*model.TaskBlock, bool) {
	if q := b.queue(siteID, false); q != nil {
		if blk, ok := q.TryPop(); ok {
			return blk, true
		}
	}
	if siteID != 0 {
		if q := b.queue(0, false); q != nil {
			if blk, ok := q.TryPop(); ok {
				return blk, true
			}
		}
		return nil, false
	}
	var (
		out *model.TaskBlock
		got bool
	)
	b.pending.OperateFirstIf(
		func(p sitePending) bool { return !p.q.Empty() },
		func(p *sitePending) { out, got = p.q.TryPop() },
	)
	return out, got
}

func (b *blockBoard) hasPending(siteID uint64) bool {
	q := b.queue(siteID, false)
	return q != nil && !q.Empty()
}

func (b *blockBoard) markDelivered(block *model.TaskBlock, at time.Time) {
	b.inflight.PushFront(delivered{block: block, at: at})
}

// expire removes every delivered block handed out before cutoff.
func (b *blockBoard) expire(cutoff time.Time) []*model.TaskBlock {
	var out []*model.TaskBlock
	b.inflight.RemoveIf(func(d delivered) bool {
		if d.at.Before(cutoff) {
			out = append(out, d.block)
			return true
		}
		return false
	})
	return out
}

// settle removes a delivered block and returns it.
func (b *blockBoard) settle(blockID string) (*model.TaskBlock, bool) {
	var out *model.TaskBlock
	n := b.inflight.RemoveIf(func(d delivered) bool {
		if d.block.ID == blockID && out == nil {
			out = d.block
			return true
		}
		return false
	})
	return out, n > 0
}

func (b *blockBoard) inflightCount() int { return b.inflight.Len() }
