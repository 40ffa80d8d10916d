package uxsched_test

import (
	"testing"
	"time"

	"github.com/tomasbasham/uxsched"
)

func TestAssist_Place(t *testing.T) {
	t.Parallel()

	const minVR = uint64(10 * time.Second)
	latency := uint64(6 * time.Millisecond)

	launcher := uxsched.DefaultConfig()
	launcher.LauncherBoost = true

	camera := uxsched.DefaultConfig()
	camera.CameraOpt = true

	disabled := uxsched.DefaultConfig()
	disabled.Enabled = false

	tests := map[string]struct {
		cfg       uxsched.Config
		spec      uxsched.EntitySpec
		cameraOpt bool
		boost     bool
		initial   bool
		want      uint64
		adjusted  bool
	}{
		"ui tier moves back three periods": {
			cfg:      uxsched.DefaultConfig(),
			spec:     uxsched.EntitySpec{ID: 1, Tier: uxsched.Tiers.UI},
			want:     minVR - 3*latency,
			adjusted: true,
		},
		"heavy tier moves back two periods": {
			cfg:      uxsched.DefaultConfig(),
			spec:     uxsched.EntitySpec{ID: 1, Tier: uxsched.Tiers.Heavy},
			want:     minVR - 2*latency,
			adjusted: true,
		},
		"dynamic boost moves back two periods": {
			cfg:      uxsched.DefaultConfig(),
			spec:     uxsched.EntitySpec{ID: 1},
			boost:    true,
			want:     minVR - 2*latency,
			adjusted: true,
		},
		"launcher boost takes half a period more": {
			cfg:      launcher,
			spec:     uxsched.EntitySpec{ID: 1, Tier: uxsched.Tiers.UI},
			want:     minVR - 3*latency - latency/2,
			adjusted: true,
		},
		"camera provider moves back three periods": {
			cfg:       camera,
			spec:      uxsched.EntitySpec{ID: 1},
			cameraOpt: true,
			want:      minVR - 3*latency,
			adjusted:  true,
		},
		"camera provider without camera policy": {
			cfg:       uxsched.DefaultConfig(),
			spec:      uxsched.EntitySpec{ID: 1},
			cameraOpt: true,
		},
		"plain entity is left alone": {
			cfg:  uxsched.DefaultConfig(),
			spec: uxsched.EntitySpec{ID: 1},
		},
		"initial placement is left alone": {
			cfg:     uxsched.DefaultConfig(),
			spec:    uxsched.EntitySpec{ID: 1, Tier: uxsched.Tiers.UI},
			initial: true,
		},
		"group entity is left alone": {
			cfg:  uxsched.DefaultConfig(),
			spec: uxsched.EntitySpec{ID: 1, Tier: uxsched.Tiers.UI, Group: true},
		},
		"disabled overlay leaves everything alone": {
			cfg:  disabled,
			spec: uxsched.EntitySpec{ID: 1, Tier: uxsched.Tiers.UI},
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			a := newAssist(t, uxsched.SymmetricTopology(1), uxsched.WithConfig(tt.cfg))
			a.Core(0).SetMinVRuntime(minVR)

			e := register(t, a, tt.spec)
			e.SetCameraOpt(tt.cameraOpt)
			if tt.boost {
				a.Acquire(e, uxsched.BoostMutex, 0)
			}

			const untouched = uint64(42)
			e.SetVRuntime(untouched)

			want := tt.want
			if !tt.adjusted {
				want = untouched
			}

			got, adjusted := a.Place(0, e, tt.initial)
			if adjusted != tt.adjusted {
				t.Fatalf("expected adjusted: %t, got: %t", tt.adjusted, adjusted)
			}
			if got != want || e.VRuntime() != want {
				t.Errorf("mismatch:\n  got:  %d (entity %d)\n  want: %d", got, e.VRuntime(), want)
			}
		})
	}
}

func TestAssist_ShouldPreempt(t *testing.T) {
	t.Parallel()

	camera := uxsched.DefaultConfig()
	camera.CameraOpt = true

	disabled := uxsched.DefaultConfig()
	disabled.Enabled = false

	tests := map[string]struct {
		cfg        uxsched.Config
		wake, curr uxsched.Tier
		wakeCamera bool
		want       bool
	}{
		"ui wakes over plain": {
			cfg:  uxsched.DefaultConfig(),
			wake: uxsched.Tiers.UI,
			curr: uxsched.Tiers.None,
			want: true,
		},
		"plain never preempts ui": {
			cfg:  uxsched.DefaultConfig(),
			wake: uxsched.Tiers.None,
			curr: uxsched.Tiers.UI,
			want: false,
		},
		"heavy wakes over plain": {
			cfg:  uxsched.DefaultConfig(),
			wake: uxsched.Tiers.Heavy,
			curr: uxsched.Tiers.None,
			want: true,
		},
		"heavy does not preempt heavy": {
			cfg:  uxsched.DefaultConfig(),
			wake: uxsched.Tiers.Heavy,
			curr: uxsched.Tiers.Heavy,
			want: false,
		},
		"ui wakes over heavy": {
			cfg:  uxsched.DefaultConfig(),
			wake: uxsched.Tiers.UI,
			curr: uxsched.Tiers.Heavy,
			want: true,
		},
		"ui does not preempt ui": {
			cfg:  uxsched.DefaultConfig(),
			wake: uxsched.Tiers.UI,
			curr: uxsched.Tiers.UI,
			want: false,
		},
		"camera provider wakes over heavy": {
			cfg:        camera,
			wakeCamera: true,
			curr:       uxsched.Tiers.Heavy,
			want:       true,
		},
		"camera provider without camera policy": {
			cfg:        uxsched.DefaultConfig(),
			wakeCamera: true,
			curr:       uxsched.Tiers.None,
			want:       false,
		},
		"disabled overlay never preempts": {
			cfg:  disabled,
			wake: uxsched.Tiers.UI,
			curr: uxsched.Tiers.None,
			want: false,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			a := newAssist(t, uxsched.SymmetricTopology(1), uxsched.WithConfig(tt.cfg))
			curr := register(t, a, uxsched.EntitySpec{ID: 1, Tier: tt.curr})
			wake := register(t, a, uxsched.EntitySpec{ID: 2, Tier: tt.wake})
			wake.SetCameraOpt(tt.wakeCamera)

			if got := a.ShouldPreempt(wake, curr); got != tt.want {
				t.Errorf("mismatch:\n  got:  %t\n  want: %t", got, tt.want)
			}
		})
	}
}

func TestAssist_SkipFurtherCheck(t *testing.T) {
	t.Parallel()

	a := newAssist(t, uxsched.SymmetricTopology(1))
	ui := register(t, a, uxsched.EntitySpec{ID: 1, Tier: uxsched.Tiers.UI})
	heavy := register(t, a, uxsched.EntitySpec{ID: 2, Tier: uxsched.Tiers.Heavy})
	group := register(t, a, uxsched.EntitySpec{ID: 3, Tier: uxsched.Tiers.UI, Group: true})

	if !a.SkipFurtherCheck(ui) {
		t.Error("expected ui leaf to skip further checks")
	}
	if a.SkipFurtherCheck(heavy) {
		t.Error("expected heavy tier to go through further checks")
	}
	if a.SkipFurtherCheck(group) {
		t.Error("expected group entity to go through further checks")
	}
}
