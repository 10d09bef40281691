package eventbus

import (
	"testing"
	"time"
)

func TestPublishFiltersByType(t *testing.T) {
	t.Parallel()

	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	blocks, unsubBlocks := b.Subscribe(4, BlockQueued)
	defer unsubBlocks()

	b.Publish(Event{Type: EntityAdded, Data: EntityData{Kind: "site", ID: 1}})
	b.Publish(Event{Type: BlockQueued, Data: BlockData{BlockID: "b"}})

	if got := len(all); got != 2 {
		t.Fatalf("all subscriber got %d events", got)
	}
	select {
	case e := <-blocks:
		if e.Type != BlockQueued || e.Time.IsZero() {
			t.Fatalf("unexpected event %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatalf("filtered subscriber got nothing")
	}
	if len(blocks) != 0 {
		t.Fatalf("filtered subscriber got extra events")
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()

	b := New()
	_, unsub := b.Subscribe(1)
	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	if b.Dropped() != 1 {
		t.Fatalf("dropped=%d want 1", b.Dropped())
	}
	unsub()
	unsub()
	b.Publish(Event{Type: "c"})
}
