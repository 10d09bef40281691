package eventbus

// Event types published by the scheduler.
const (
	EntityAdded   = "entity.added"
	EntityStatus  = "entity.status"
	StatusApplied = "status.applied"
	BlockQueued   = "block.queued"
	BlockSent     = "block.delivered"
	BlockAcked    = "block.acknowledged"
	BlockLost     = "block.lost"
	BlockApplied  = "block.applied"
	TaskDispatch  = "task.dispatched"
)

// EntityData describes a registry change.
type EntityData struct {
	Kind   string // site, telescope, target, task
	ID     uint64
	Status int
}

// BlockData describes a task-block transition.
type BlockData struct {
	BlockID string
	SiteID  uint64
	Tasks   int
	Reason  string
}
