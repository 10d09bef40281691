package planner

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"obsched/internal/eventbus"
	"obsched/internal/model"
	"obsched/internal/scheduler"
	"obsched/internal/storage"
	logx "obsched/pkg/logx"
)

type fakeBoard struct {
	mu        sync.Mutex
	sites     []model.Site
	tels      []model.Telescope
	targets   []model.Target
	pending   map[uint64]bool
	submitted []*model.TaskBlock
}

func (f *fakeBoard) ListSites(context.Context) ([]model.Site, error) { return f.sites, nil }
func (f *fakeBoard) ListTelescopes(context.Context) ([]model.Telescope, error) {
	return f.tels, nil
}
func (f *fakeBoard) ListTargets(context.Context) ([]model.Target, error) { return f.targets, nil }
func (f *fakeBoard) HasPendingBlock(id uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending[id]
}
func (f *fakeBoard) SubmitBlock(_ context.Context, b *model.TaskBlock) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, b)
	return nil
}

func (f *fakeBoard) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

func board() *fakeBoard {
	return &fakeBoard{
		sites: []model.Site{
			{ID: 1, Name: "a"},
			{ID: 2, Name: "b", Status: model.StatusMasked},
			{ID: 3, Name: "c"},
			{ID: 4, Name: "no-telescopes"},
		},
		tels: []model.Telescope{
			{ID: 10, SiteID: 1},
			{ID: 11, SiteID: 1},
			{ID: 12, SiteID: 1, Status: model.StatusMasked},
			{ID: 20, SiteID: 2},
			{ID: 30, SiteID: 3},
		},
		targets: []model.Target{
			{ID: 100, Nside: 16, Priority: 1},
			{ID: 101, Nside: 16, Priority: 5},
			{ID: 102, Nside: 16, Priority: 5, Status: model.StatusMasked},
			{ID: 103, Nside: 16, Priority: 3},
		},
		pending: map[uint64]bool{3: true},
	}
}

func TestPlanOnce(t *testing.T) {
	b := board()
	s := New(Config{MaxTasksPerBlock: 2}, b, nil, logx.Nop())

	n, err := s.PlanOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n, "only site 1 is live, idle and equipped")

	blk := b.submitted[0]
	assert.Equal(t, uint64(1), blk.SiteID)
	require.Len(t, blk.Tasks, 2)
	assert.Equal(t, uint64(101), blk.Tasks[0].TargetID, "highest priority first")
	assert.Equal(t, uint64(103), blk.Tasks[1].TargetID)
	assert.Equal(t, uint64(10), blk.Tasks[0].TelescopeID)
	assert.Equal(t, uint64(11), blk.Tasks[1].TelescopeID, "telescopes taken round robin")
	for _, task := range blk.Tasks {
		assert.NotEqual(t, uint64(12), task.TelescopeID, "masked telescope skipped")
		assert.Equal(t, int64(16), task.Nside)
	}

	// The next block for the site continues down the list.
	_, err = s.PlanOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, b.count())
	assert.Equal(t, uint64(100), b.submitted[1].Tasks[0].TargetID)
}

func TestPlanOnceWithoutTargets(t *testing.T) {
	b := board()
	b.targets = nil
	s := New(Config{}, b, nil, logx.Nop())
	n, err := s.PlanOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestValidate(t *testing.T) {
	s := New(Config{}, board(), nil, logx.Nop())
	assert.NoError(t, s.Validate(Config{Enabled: false, Schedule: "garbage"}))
	assert.NoError(t, s.Validate(Config{Enabled: true, Schedule: "*/5 * * * *"}))
	assert.NoError(t, s.Validate(Config{Enabled: true, Schedule: "@every 1s", Timezone: "UTC"}))
	assert.Error(t, s.Validate(Config{Enabled: true, Schedule: "not a cron"}))
	assert.Error(t, s.Validate(Config{Enabled: true, Schedule: "@hourly", Timezone: "Mars/Olympus"}))
}

func TestStartTriggersOnSchedule(t *testing.T) {
	b := board()
	s := New(Config{Enabled: true, Schedule: "@every 1s"}, b, nil, logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	assert.Eventually(t, func() bool { return b.count() > 0 }, 3*time.Second, 20*time.Millisecond)
}

func TestDisabledDoesNothing(t *testing.T) {
	b := board()
	s := New(Config{Enabled: false, Schedule: "@every 1s"}, b, nil, logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	s.Stop(context.Background())
	assert.Zero(t, b.count())
}

func TestPlansWhenTargetAdded(t *testing.T) {
	bus := eventbus.New()
	sched, err := scheduler.New(scheduler.Config{Role: model.RoleGlobal},
		scheduler.Deps{Store: storage.Nop(), Bus: bus, Log: logx.Nop()})
	require.NoError(t, err)
	g := sched.(*scheduler.Global)
	ctx := context.Background()

	sid, err := g.AddSite(ctx, []byte(`{"sitename":"a"}`))
	require.NoError(t, err)
	_, err = g.AddTelescope(ctx, []byte(fmt.Sprintf(`{"telescop":"t","site_id":%d}`, sid)))
	require.NoError(t, err)

	// A yearly schedule never fires during the test; only the event does.
	s := New(Config{Enabled: true, Schedule: "@yearly"}, g, bus, logx.Nop())
	require.NoError(t, s.Start(ctx))
	defer s.Stop(ctx)

	_, err = g.AddTarget(ctx, []byte(`{"targname":"m1","nside":16,"ra_targ":83.6,"dec_targ":22}`))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return g.HasPendingBlock(sid) }, 3*time.Second, 20*time.Millisecond)
	b, err := g.PopTaskBlock(ctx, sid)
	require.NoError(t, err)
	require.Len(t, b.Tasks, 1)
	assert.NotZero(t, b.Tasks[0].ID)
}

func TestApplyRestarts(t *testing.T) {
	b := board()
	s := New(Config{Enabled: false}, b, nil, logx.Nop())
	ctx := context.Background()
	require.NoError(t, s.Apply(ctx, Config{Enabled: true, Schedule: "@every 1s"}))
	assert.Eventually(t, func() bool { return b.count() > 0 }, 3*time.Second, 20*time.Millisecond)
	require.Error(t, s.Apply(ctx, Config{Enabled: true, Schedule: "bad"}))
	require.NoError(t, s.Apply(ctx, Config{Enabled: false}))
	s.Stop(ctx)
}
