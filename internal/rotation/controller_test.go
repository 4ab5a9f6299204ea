package rotation_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/forkline/internal/fork"
	"github.com/aretw0/forkline/internal/lease"
	"github.com/aretw0/forkline/internal/quota"
	"github.com/aretw0/forkline/internal/rotation"
	"github.com/aretw0/forkline/pkg/adapters/memory"
	redisadapter "github.com/aretw0/forkline/pkg/adapters/redis"
	"github.com/aretw0/forkline/pkg/domain"
	"github.com/aretw0/forkline/pkg/retry"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type notes struct{ messages []string }

func (n *notes) Notify(_ context.Context, message string) error {
	n.messages = append(n.messages, message)
	return nil
}

type fixture struct {
	svc   *memory.Service
	store *memory.Store
	notes *notes
	ctrl  *rotation.Controller
}

func minutes(m float64) domain.Usage {
	return domain.Usage{Items: []domain.UsageItem{{Product: "actions", UnitType: "Minutes", Quantity: m}}}
}

// newFixture builds a pool of n identities named id0..id{n-1}, each owning
// id{i}/project with an enabled workflow.
func newFixture(t *testing.T, n int, opts ...rotation.Option) *fixture {
	t.Helper()
	f := &fixture{
		svc:   memory.NewService(),
		store: memory.NewStore(),
		notes: &notes{},
	}
	tokens := make([]string, n)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("ghp_identity%d", i)
		login := fmt.Sprintf("id%d", i)
		f.svc.AddIdentity(tokens[i], login)
		f.svc.AddRepo(login + "/project")
		f.svc.AddTrigger(login+"/project", ".github/workflows/nexus.yml", true)
	}
	dir := memory.NewDirectory(tokens...)

	executor := retry.NewExecutor(retry.WithSleeper(func(time.Duration) {}))
	forks := fork.NewManager(f.store, f.svc, dir, executor, fork.Settings{WorkflowHint: "nexus.yml", WorkflowRef: "main"})
	monitor := quota.NewMonitor(f.svc, quota.DefaultThresholds())

	opts = append([]rotation.Option{
		rotation.WithNotifier(f.notes),
		rotation.WithClock(func() time.Time { return epoch }),
	}, opts...)
	f.ctrl = rotation.NewController(f.store, monitor, forks, dir, opts...)
	return f
}

func activeState(n, k int) *domain.State {
	parent := "origin/project"
	return &domain.State{
		Nodes: []domain.ForkNode{
			{Repo: "origin/project", Status: domain.StatusSource},
			{
				IdentityIndex: k,
				Owner:         fmt.Sprintf("id%d", k),
				Repo:          fmt.Sprintf("id%d/project", k),
				Parent:        &parent,
				Status:        domain.StatusActive,
			},
		},
		ActiveIndex:     k,
		TotalIdentities: n,
	}
}

func TestCheckAndRotate_AdvancesRing(t *testing.T) {
	tests := []struct {
		name string
		n, k int
		want int
	}{
		{"first to second", 3, 0, 1},
		{"middle", 3, 1, 2},
		{"wraps", 3, 2, 0},
		{"pair wraps", 2, 1, 0},
		{"single identity", 1, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.n)
			f.svc.SetUsage(fmt.Sprintf("id%d", tt.k), minutes(3600))

			rotated, next, err := f.ctrl.CheckAndRotate(context.Background(), activeState(tt.n, tt.k))
			require.NoError(t, err)
			assert.True(t, rotated)
			assert.Equal(t, tt.want, next.ActiveIndex)
		})
	}
}

func TestCheckAndRotate_Exhausted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	f.svc.SetUsage("id0", minutes(3600))
	state := activeState(3, 0)

	rotated, next, err := f.ctrl.CheckAndRotate(ctx, state)
	require.NoError(t, err)
	require.True(t, rotated)

	node := next.Nodes[1]
	assert.Equal(t, domain.StatusExhausted, node.Status)
	assert.InDelta(t, 120.0, node.QuotaUsed, 1e-9)
	assert.Equal(t, epoch, node.UpdatedAt)
	require.NotNil(t, next.LastRotation)
	assert.Equal(t, epoch, *next.LastRotation)
	assert.Equal(t, domain.StatusActive, state.Nodes[1].Status, "input state is not mutated")

	assert.False(t, f.svc.TriggerEnabled("id0/project"))
	assert.True(t, f.svc.Exists("id0/project"), "rotation retains the workspace")
	assert.Equal(t, 0, f.svc.Calls(memory.OpCreateFork), "rotation never creates forks")

	persisted, err := f.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, next, persisted)
	require.Len(t, f.notes.messages, 1)
	assert.Contains(t, f.notes.messages[0], "id0/project")
}

func TestCheckAndRotate_NoActiveNode(t *testing.T) {
	f := newFixture(t, 2)
	state := activeState(2, 0)
	state.Nodes[1].Status = domain.StatusExhausted

	rotated, next, err := f.ctrl.CheckAndRotate(context.Background(), state)
	require.NoError(t, err)
	assert.False(t, rotated)
	assert.Same(t, state, next)
	assert.Equal(t, 0, f.store.Saves())
	assert.Equal(t, 0, f.svc.Calls(memory.OpUsage))
}

func TestCheckAndRotate_BelowCritical(t *testing.T) {
	f := newFixture(t, 2)
	f.svc.SetUsage("id0", minutes(3540)) // 118h: warning only
	state := activeState(2, 0)

	result, next, err := f.ctrl.Check(context.Background(), state)
	require.NoError(t, err)
	assert.False(t, result.Rotated)
	require.NotNil(t, result.Report)
	assert.True(t, result.Report.IsWarning)
	assert.Same(t, state, next)
	assert.True(t, f.svc.TriggerEnabled("id0/project"))
	assert.Equal(t, 0, f.store.Saves())
}

func TestCheckAndRotate_NoDoubleRotation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	f.svc.SetUsage("id0", minutes(3600))

	rotated, next, err := f.ctrl.CheckAndRotate(ctx, activeState(3, 0))
	require.NoError(t, err)
	require.True(t, rotated)

	rotated, again, err := f.ctrl.CheckAndRotate(ctx, next)
	require.NoError(t, err)
	assert.False(t, rotated)
	assert.Equal(t, 1, again.ActiveIndex)
	assert.Equal(t, 1, f.store.Saves())
}

func TestCheckAndRotate_ProbeFailureRotates(t *testing.T) {
	f := newFixture(t, 2)
	f.svc.FailNext(memory.OpUsage, errors.New("connection reset"))

	result, next, err := f.ctrl.Check(context.Background(), activeState(2, 0))
	require.NoError(t, err)
	assert.True(t, result.Rotated)
	require.NotNil(t, result.Report)
	assert.True(t, result.Report.Assumed)
	assert.Equal(t, domain.StatusExhausted, next.Nodes[1].Status)
	assert.Equal(t, 1, next.ActiveIndex)
}

func TestCheckAndRotate_DisableFailureKeepsState(t *testing.T) {
	f := newFixture(t, 2)
	f.svc.SetUsage("id0", minutes(3600))
	f.svc.FailNext(memory.OpDisableAutomation, errors.New("bad gateway"))
	state := activeState(2, 0)

	rotated, next, err := f.ctrl.CheckAndRotate(context.Background(), state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id0/project")
	assert.False(t, rotated)
	assert.Same(t, state, next)
	assert.Equal(t, 0, f.store.Saves())
}

func TestCheckAndRotate_PoolSizeFallback(t *testing.T) {
	f := newFixture(t, 2)
	f.svc.SetUsage("id1", minutes(3600))
	state := activeState(0, 1)

	rotated, next, err := f.ctrl.CheckAndRotate(context.Background(), state)
	require.NoError(t, err)
	assert.True(t, rotated)
	assert.Equal(t, 0, next.ActiveIndex)
	assert.Equal(t, 2, next.TotalIdentities)
}

func TestRun_LoadsPersistedState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	f.svc.SetUsage("id0", minutes(3600))
	require.NoError(t, f.store.Save(ctx, activeState(2, 0)))

	result, err := f.ctrl.Run(ctx)
	require.NoError(t, err)
	assert.True(t, result.Rotated)
	assert.Equal(t, 0, result.From)
	assert.Equal(t, 1, result.To)

	result, err = f.ctrl.Run(ctx)
	require.NoError(t, err)
	assert.False(t, result.Rotated)
}

func TestRun_LeaseHeld(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := redisadapter.NewLocker(client, "forkline:")

	unlock, err := locker.Lock(ctx, "rotation", time.Minute)
	require.NoError(t, err)
	defer func() { _ = unlock(ctx) }()

	f := newFixture(t, 2, rotation.WithLease(lease.New(locker, "rotation", time.Minute, 200*time.Millisecond, nil)))
	require.NoError(t, f.store.Save(ctx, activeState(2, 0)))

	_, err = f.ctrl.Run(ctx)
	assert.ErrorIs(t, err, domain.ErrLeaseHeld)
	assert.Equal(t, 0, f.svc.Calls(memory.OpUsage))
}
