package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"obsched/internal/eventbus"
	"obsched/internal/model"
	"obsched/internal/storage"
)

type fakeStore struct {
	mu    sync.Mutex
	calls []string
	fail  error
	only  string
	snap  storage.Snapshot
}

func (f *fakeStore) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if f.only != "" && f.only != name {
		return nil
	}
	return f.fail
}

func (f *fakeStore) setFail(err error) {
	f.mu.Lock()
	f.fail = err
	f.only = ""
	f.mu.Unlock()
}

// failOn makes only the named store call fail, e.g. "put_task".
func (f *fakeStore) failOn(name string, err error) {
	f.mu.Lock()
	f.fail = err
	f.only = name
	f.mu.Unlock()
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeStore) PutSite(context.Context, model.Site) error { return f.record("put_site") }
func (f *fakeStore) PutTelescope(context.Context, model.Telescope) error {
	return f.record("put_telescope")
}
func (f *fakeStore) PutTarget(context.Context, model.Target) error   { return f.record("put_target") }
func (f *fakeStore) PutTask(context.Context, model.TaskRecord) error { return f.record("put_task") }
func (f *fakeStore) SetStatus(_ context.Context, k storage.Kind, _ uint64, _ int) error {
	return f.record("status_" + k.String())
}
func (f *fakeStore) SetTargetPriority(context.Context, uint64, int) error {
	return f.record("target_priority")
}
func (f *fakeStore) Load(context.Context, model.Role) (storage.Snapshot, error) {
	return f.snap, f.record("load")
}
func (f *fakeStore) Migrate(context.Context, model.Role) error { return nil }
func (f *fakeStore) Close() error                              { return nil }

type fakeUpstream struct {
	mu   sync.Mutex
	docs [][]byte
	got  chan struct{}
}

func newFakeUpstream() *fakeUpstream { return &fakeUpstream{got: make(chan struct{}, 16)} }

func (f *fakeUpstream) UpdateStatus(_ context.Context, doc []byte, _ model.Format) error {
	f.mu.Lock()
	f.docs = append(f.docs, doc)
	f.mu.Unlock()
	f.got <- struct{}{}
	return nil
}

func (f *fakeUpstream) wait(t *testing.T) {
	t.Helper()
	select {
	case <-f.got:
	case <-time.After(2 * time.Second):
		t.Fatalf("nothing forwarded upstream")
	}
}

func newGlobalForTest(t *testing.T) (*Global, *fakeStore, eventbus.Bus) {
	t.Helper()
	st := &fakeStore{}
	bus := eventbus.New()
	s, err := New(Config{Role: model.RoleGlobal, BlockPoll: 10 * time.Millisecond}, Deps{Store: st, Bus: bus})
	require.NoError(t, err)
	return s.(*Global), st, bus
}

func newSiteForTest(t *testing.T) (*Site, *fakeStore) {
	t.Helper()
	st := &fakeStore{}
	s, err := New(Config{Role: model.RoleSite, Site: model.Site{ID: 2, Name: "xl"}}, Deps{Store: st})
	require.NoError(t, err)
	return s.(*Site), st
}

// mustAdd unwraps an add call: mustAdd(t)(g.AddSite(ctx, doc)).
func mustAdd(t *testing.T) func(uint64, error) uint64 {
	t.Helper()
	return func(id uint64, err error) uint64 {
		t.Helper()
		require.NoError(t, err)
		require.NotZero(t, id)
		return id
	}
}
