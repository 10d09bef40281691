package scheduler

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"obsched/internal/model"
	"obsched/internal/protocol"
	"obsched/pkg/adt"
	logx "obsched/pkg/logx"
)

// uplink queues status documents for the next tier up. Delivery is best
// effort: a document that fails to send is logged and dropped.
type uplink struct {
	q       *adt.Queue[[]byte]
	log     logx.Logger
	dropped atomic.Uint64
}

func newUplink(log logx.Logger) *uplink {
	return &uplink{q: adt.NewQueue[[]byte](), log: log}
}

func (u *uplink) enqueue(doc []byte) {
	if len(doc) == 0 {
		return
	}
	u.q.Push(append([]byte(nil), doc...))
}

// wake unblocks a Run waiting on an empty queue.
func (u *uplink) wake() { u.q.Push(nil) }

func (u *uplink) run(ctx context.Context, up Upstream) error {
	stop := context.AfterFunc(ctx, u.wake)
	defer stop()

	for {
		doc := u.q.WaitAndPop()
		if err := ctx.Err(); err != nil {
			return nil
		}
		if doc == nil {
			continue
		}
		if err := up.UpdateStatus(ctx, doc, model.FormatJSON); err != nil {
			u.dropped.Add(1)
			u.log.Warn("status forward failed", logx.Err(err), logx.Int("bytes", len(doc)))
			continue
		}
	}
}

func taskStatusDoc(id uint64, st model.TaskStatus) []byte {
	doc, _ := json.Marshal(map[string]any{
		protocol.KeyTask: map[string]any{"task_id": id, "status": int(st)},
	})
	return doc
}
