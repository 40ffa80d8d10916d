package fairsim_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tomasbasham/uxsched"
	"github.com/tomasbasham/uxsched/internal/fairsim"
)

func newSim(t *testing.T, topo uxsched.Topology, opts ...fairsim.Option) *fairsim.Sim {
	t.Helper()

	s, err := fairsim.New(topo, opts...)
	require.NoError(t, err)
	return s
}

func spawn(t *testing.T, s *fairsim.Sim, spec uxsched.EntitySpec) *uxsched.Entity {
	t.Helper()

	e, err := s.Spawn(spec)
	require.NoError(t, err)
	return e
}

func steps(s *fairsim.Sim, n int) {
	for range n {
		s.Step()
	}
}

func decisionsOf(s *fairsim.Sim, kind fairsim.DecisionKind) []fairsim.Decision {
	var out []fairsim.Decision
	for _, d := range s.Decisions() {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

func TestSim_New(t *testing.T) {
	t.Parallel()

	_, err := fairsim.New(uxsched.SymmetricTopology(1), fairsim.WithTick(0))
	assert.Error(t, err)

	_, err = fairsim.New(uxsched.Topology{})
	assert.Error(t, err)

	bad := uxsched.DefaultConfig()
	bad.DepthMax = 0
	_, err = fairsim.New(uxsched.SymmetricTopology(1), fairsim.WithConfig(bad))
	assert.ErrorIs(t, err, uxsched.ErrInvalidConfig)
}

func TestSim_UnknownEntity(t *testing.T) {
	t.Parallel()

	s := newSim(t, uxsched.SymmetricTopology(1))
	assert.ErrorIs(t, s.Wake(1), fairsim.ErrUnknownEntity)
	assert.ErrorIs(t, s.Sleep(1), fairsim.ErrUnknownEntity)

	spawn(t, s, uxsched.EntitySpec{ID: 1})
	_, err := s.Spawn(uxsched.EntitySpec{ID: 1})
	assert.Error(t, err)

	require.NoError(t, s.Exit(1))
	assert.ErrorIs(t, s.Wake(1), fairsim.ErrUnknownEntity)
}

func TestSim_WakeupPreempts(t *testing.T) {
	t.Parallel()

	s := newSim(t, uxsched.SymmetricTopology(1))
	animator := spawn(t, s, uxsched.EntitySpec{ID: 1, Name: "animator", Tier: uxsched.Tiers.UI})
	worker := spawn(t, s, uxsched.EntitySpec{ID: 2, Name: "worker"})

	require.NoError(t, s.Wake(worker.ID))
	steps(s, 3)
	require.Equal(t, worker, s.Running(0))

	require.NoError(t, s.Wake(animator.ID))

	preempts := decisionsOf(s, fairsim.DecisionPreempt)
	require.Len(t, preempts, 1)
	assert.Equal(t, animator.ID, preempts[0].Entity)
	assert.Equal(t, worker.ID, preempts[0].Displaced)

	s.Step()
	assert.Equal(t, animator, s.Running(0))
	assert.Equal(t, time.Millisecond, s.Runtime(animator.ID))
}

func TestSim_PickOverride(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		overThresh time.Duration
		wantWorker bool
	}{
		"ux entity keeps the core": {
			overThresh: 2 * time.Second,
			wantWorker: false,
		},
		"lead past the threshold yields": {
			overThresh: 5 * time.Millisecond,
			wantWorker: true,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			cfg := uxsched.DefaultConfig()
			cfg.MaxOverThresh = tt.overThresh

			s := newSim(t, uxsched.SymmetricTopology(1), fairsim.WithConfig(cfg))
			worker := spawn(t, s, uxsched.EntitySpec{ID: 1})
			render := spawn(t, s, uxsched.EntitySpec{ID: 2, Tier: uxsched.Tiers.Heavy})
			require.NoError(t, s.Wake(worker.ID))
			require.NoError(t, s.Wake(render.ID))

			steps(s, 30)

			overrides := decisionsOf(s, fairsim.DecisionOverride)
			require.NotEmpty(t, overrides)
			for _, d := range overrides {
				assert.Equal(t, render.ID, d.Entity)
				assert.Equal(t, worker.ID, d.Displaced)
			}
			assert.Equal(t, tt.wantWorker, s.Runtime(worker.ID) > 0)
			assert.NoError(t, s.Assist().Audit())
		})
	}
}

func TestSim_Inheritance(t *testing.T) {
	t.Parallel()

	s := newSim(t, uxsched.SymmetricTopology(1))
	a := s.Assist()
	ui := spawn(t, s, uxsched.EntitySpec{ID: 1, Tier: uxsched.Tiers.UI})
	holder := spawn(t, s, uxsched.EntitySpec{ID: 2})
	other := spawn(t, s, uxsched.EntitySpec{ID: 3})

	for _, e := range []*uxsched.Entity{ui, other, holder} {
		require.NoError(t, s.Wake(e.ID))
	}
	s.Step()
	require.Equal(t, ui, s.Running(0))

	require.NoError(t, s.Block(ui.ID, holder.ID, uxsched.BoostMutex))
	assert.True(t, a.IsUX(holder))
	assert.Equal(t, 1, holder.Depth())
	assert.False(t, a.IsUX(other))

	// The host would pick other, which woke first, but the boosted holder
	// overrides it.
	s.Step()
	assert.Equal(t, holder, s.Running(0))
	overrides := decisionsOf(s, fairsim.DecisionOverride)
	require.Len(t, overrides, 1)
	assert.Equal(t, other.ID, overrides[0].Displaced)

	require.NoError(t, s.Unblock(ui.ID, holder.ID, uxsched.BoostMutex))
	assert.Zero(t, holder.Boosts().Total())
	assert.Zero(t, holder.Depth())
	assert.Equal(t, uxsched.StateRunnable, ui.State())
	assert.NoError(t, a.Audit())
}

func TestSim_Migrate(t *testing.T) {
	t.Parallel()

	s := newSim(t, uxsched.SymmetricTopology(2))
	busy := spawn(t, s, uxsched.EntitySpec{ID: 1, Core: 1})
	require.NoError(t, s.Wake(busy.ID))
	steps(s, 10)

	e := spawn(t, s, uxsched.EntitySpec{ID: 2, Tier: uxsched.Tiers.UI, Affinity: []int{0, 1}})
	require.NoError(t, s.Wake(e.ID))
	steps(s, 2)
	require.Equal(t, e, s.Running(0))

	lag := e.VRuntime() - s.Assist().Core(0).MinVRuntime()
	require.NoError(t, s.Migrate(e.ID, 1))

	assert.Equal(t, 1, e.Core())
	assert.Nil(t, s.Running(0))
	assert.Equal(t, lag, e.VRuntime()-s.Assist().Core(1).MinVRuntime())
	core, ok := e.Linked()
	assert.True(t, ok)
	assert.Equal(t, 1, core)

	assert.Error(t, s.Migrate(e.ID, 5))
	e.SetAffinity([]int{1})
	assert.Error(t, s.Migrate(e.ID, 0))
	assert.NoError(t, s.Assist().Audit())
}

func TestSim_WakeSteering(t *testing.T) {
	t.Parallel()

	s := newSim(t, uxsched.Topology{Cores: 8, LittleCluster: 4, FastWatermark: 7})

	t.Run("ux entity moves to a big core", func(t *testing.T) {
		e := spawn(t, s, uxsched.EntitySpec{ID: 11, TGID: 10, Core: 0, Tier: uxsched.Tiers.Heavy})
		require.NoError(t, s.Wake(e.ID))
		assert.Equal(t, 7, e.Core())
	})

	t.Run("plain entity avoids a core running ui work", func(t *testing.T) {
		animator := spawn(t, s, uxsched.EntitySpec{ID: 20, Core: 2, Tier: uxsched.Tiers.UI, Affinity: []int{2}})
		require.NoError(t, s.Wake(animator.ID))
		s.Step()
		require.Equal(t, animator, s.Running(2))

		e := spawn(t, s, uxsched.EntitySpec{ID: 21, TGID: 20, Core: 2})
		require.NoError(t, s.Wake(e.ID))
		assert.NotEqual(t, 2, e.Core())
	})

	assert.Len(t, decisionsOf(s, fairsim.DecisionMigrate), 2)
}

func TestSim_WakeSteeringKeepsLag(t *testing.T) {
	t.Parallel()

	s := newSim(t, uxsched.SymmetricTopology(2))
	sleeper := spawn(t, s, uxsched.EntitySpec{ID: 11, TGID: 10, Core: 0})
	other := spawn(t, s, uxsched.EntitySpec{ID: 20, Core: 1, Affinity: []int{1}})
	ui := spawn(t, s, uxsched.EntitySpec{ID: 1, Core: 0, Tier: uxsched.Tiers.UI, Affinity: []int{0}})

	require.NoError(t, s.Wake(sleeper.ID))
	steps(s, 500)
	require.NoError(t, s.Wake(ui.ID))
	s.Step()
	require.Equal(t, ui, s.Running(0))

	lag := sleeper.VRuntime() - s.Assist().Core(0).MinVRuntime()
	require.NoError(t, s.Sleep(sleeper.ID))
	require.NoError(t, s.Wake(sleeper.ID))
	require.Equal(t, 1, sleeper.Core(), "the sleeper avoids the core running ui work")
	assert.Equal(t, lag, sleeper.VRuntime()-s.Assist().Core(1).MinVRuntime())

	require.NoError(t, s.Wake(other.ID))
	before := s.Runtime(sleeper.ID)
	steps(s, 200)

	assert.GreaterOrEqual(t, s.Runtime(sleeper.ID)-before, 80*time.Millisecond)
	assert.GreaterOrEqual(t, s.Runtime(other.ID), 80*time.Millisecond)
}

func TestSim_DecisionLoggedOnce(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	var hooked int
	s := newSim(t, uxsched.SymmetricTopology(1),
		fairsim.WithLogger(zap.New(core)),
		fairsim.WithDecisionHook(func(fairsim.Decision) { hooked++ }))

	worker := spawn(t, s, uxsched.EntitySpec{ID: 1})
	render := spawn(t, s, uxsched.EntitySpec{ID: 2, Tier: uxsched.Tiers.Heavy})
	require.NoError(t, s.Wake(worker.ID))
	require.NoError(t, s.Wake(render.ID))
	for range 20 {
		s.Step()
	}

	require.Positive(t, hooked)
	assert.Equal(t, hooked, logs.FilterMessage("decision").Len())
}
