package fairsim

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/tomasbasham/uxsched"
)

// Action is what a scenario [Event] does.
type Action string

const (
	ActionWake    Action = "wake"
	ActionSleep   Action = "sleep"
	ActionExit    Action = "exit"
	ActionMigrate Action = "migrate"
	ActionBlock   Action = "block"
	ActionUnblock Action = "unblock"
	ActionAcquire Action = "acquire"
	ActionRelease Action = "release"
	ActionSetTier Action = "set_tier"
)

var actions = []Action{
	ActionWake, ActionSleep, ActionExit, ActionMigrate, ActionBlock,
	ActionUnblock, ActionAcquire, ActionRelease, ActionSetTier,
}

// Scenario is a scripted workload:
//
//	topology: {cores: 8, little_cluster: 4, fast_watermark: 7}
//	tick: 1ms
//	duration: 100ms
//	entities:
//	  - {id: 1, name: RenderThread, group: com.android.launcher, tier: ui}
//	  - {id: 2, name: kworker, runnable: true}
//	events:
//	  - {at: 10ms, action: wake, id: 1}
//	  - {at: 20ms, action: block, id: 1, holder: 2, boost: mutex}
type Scenario struct {
	Topology Topology      `yaml:"topology"`
	Tick     time.Duration `yaml:"tick"`
	Duration time.Duration `yaml:"duration"`
	Entities []Entity      `yaml:"entities"`
	Events   []Event       `yaml:"events"`
}

// Topology is the YAML form of [uxsched.Topology].
type Topology struct {
	Cores         int `yaml:"cores"`
	LittleCluster int `yaml:"little_cluster"`
	FastWatermark int `yaml:"fast_watermark"`
}

// Entity declares an entity spawned when the scenario starts.
type Entity struct {
	ID        uxsched.EntityID `yaml:"id"`
	TGID      uxsched.EntityID `yaml:"tgid"`
	Name      string           `yaml:"name"`
	Group     string           `yaml:"group"`
	Class     uxsched.Class    `yaml:"class"`
	Core      int              `yaml:"core"`
	Tier      uxsched.Tier     `yaml:"tier"`
	CameraOpt bool             `yaml:"camera_opt"`
	Affinity  []int            `yaml:"affinity"`
	Runnable  bool             `yaml:"runnable"`
}

// Event is one scripted step. Which fields apply depends on the action: Holder
// and Boost for block and unblock, Boost for acquire and release, Core for
// migrate and Tier for set_tier. Boost must be given explicitly where it
// applies.
type Event struct {
	At     time.Duration      `yaml:"at"`
	Action Action             `yaml:"action"`
	ID     uxsched.EntityID   `yaml:"id"`
	Holder uxsched.EntityID   `yaml:"holder"`
	Boost  *uxsched.BoostType `yaml:"boost"`
	Core   int                `yaml:"core"`
	Tier   uxsched.Tier       `yaml:"tier"`
}

func (ev Event) needsBoost() bool {
	switch ev.Action {
	case ActionBlock, ActionUnblock, ActionAcquire, ActionRelease:
		return true
	}
	return false
}

// ParseScenario decodes and validates a scenario. Events are sorted by time,
// keeping the file order of simultaneous events.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("decode scenario: empty document")
		}
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if sc.Tick == 0 {
		sc.Tick = DefaultTick
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	slices.SortStableFunc(sc.Events, func(a, b Event) int {
		return cmp.Compare(a.At, b.At)
	})
	return &sc, nil
}

// LoadScenario reads and parses the scenario at path.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	sc, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return sc, nil
}

// Validate reports every problem with the scenario at once.
func (sc *Scenario) Validate() error {
	var errs []error
	if err := sc.topology().Validate(); err != nil {
		errs = append(errs, err)
	}
	if sc.Tick <= 0 {
		errs = append(errs, fmt.Errorf("tick must be positive, got %s", sc.Tick))
	}
	if sc.Duration <= 0 {
		errs = append(errs, fmt.Errorf("duration must be positive, got %s", sc.Duration))
	}

	ids := make(map[uxsched.EntityID]bool, len(sc.Entities))
	for _, e := range sc.Entities {
		if ids[e.ID] {
			errs = append(errs, fmt.Errorf("entity %d declared twice", e.ID))
		}
		ids[e.ID] = true
	}
	for i, ev := range sc.Events {
		if !slices.Contains(actions, ev.Action) {
			errs = append(errs, fmt.Errorf("event %d: unknown action %q", i, ev.Action))
		}
		if !ids[ev.ID] {
			errs = append(errs, fmt.Errorf("event %d: unknown entity %d", i, ev.ID))
		}
		if (ev.Action == ActionBlock || ev.Action == ActionUnblock) && !ids[ev.Holder] {
			errs = append(errs, fmt.Errorf("event %d: unknown holder %d", i, ev.Holder))
		}
		if ev.needsBoost() && ev.Boost == nil {
			errs = append(errs, fmt.Errorf("event %d: %s needs a boost type", i, ev.Action))
		}
		if ev.At < 0 {
			errs = append(errs, fmt.Errorf("event %d: negative time %s", i, ev.At))
		}
	}
	return errors.Join(errs...)
}

func (sc *Scenario) topology() uxsched.Topology {
	return uxsched.Topology{
		Cores:         sc.Topology.Cores,
		LittleCluster: sc.Topology.LittleCluster,
		FastWatermark: sc.Topology.FastWatermark,
	}
}

// NewSim creates a simulator for the scenario's topology and tick. Options
// given here override the scenario's tick.
func (sc *Scenario) NewSim(opts ...Option) (*Sim, error) {
	return New(sc.topology(), append([]Option{WithTick(sc.Tick)}, opts...)...)
}

// Report summarises a replay.
type Report struct {
	Elapsed     time.Duration
	Decisions   []Decision
	Overrides   int
	Preemptions int
	Migrations  int
	Runtime     map[uxsched.EntityID]time.Duration
}

// Replay spawns the scenario's entities on s and steps it until the
// scenario's duration has elapsed, applying events as their time comes. With
// a positive pace every step waits that long in real time, which lets a
// policy be edited while the replay runs.
//
// Replay returns early with ctx's error when ctx is done. A failed event is
// logged and the replay continues.
func (s *Sim) Replay(ctx context.Context, sc *Scenario, pace time.Duration) (*Report, error) {
	for _, spec := range sc.Entities {
		e, err := s.Spawn(uxsched.EntitySpec{
			ID:        spec.ID,
			TGID:      spec.TGID,
			Name:      spec.Name,
			GroupName: spec.Group,
			Class:     spec.Class,
			Core:      spec.Core,
			Tier:      spec.Tier,
			Affinity:  spec.Affinity,
		})
		if err != nil {
			return nil, err
		}
		if spec.CameraOpt {
			e.SetCameraOpt(true)
		}
		if spec.Runnable {
			if err := s.Wake(spec.ID); err != nil {
				return nil, err
			}
		}
	}

	var ticker *time.Ticker
	if pace > 0 {
		ticker = time.NewTicker(pace)
		defer ticker.Stop()
	}

	events := sc.Events
	for s.Now() < sc.Duration {
		if err := ctx.Err(); err != nil {
			return s.report(), err
		}
		for len(events) > 0 && events[0].At <= s.Now() {
			if err := s.apply(events[0]); err != nil {
				s.logger.Warn("event failed",
					zap.Duration("at", events[0].At),
					zap.String("action", string(events[0].Action)),
					zap.Error(err))
			}
			events = events[1:]
		}
		s.Step()

		if ticker != nil {
			select {
			case <-ctx.Done():
				return s.report(), ctx.Err()
			case <-ticker.C:
			}
		}
	}

	if err := s.assist.Audit(); err != nil {
		return s.report(), fmt.Errorf("audit: %w", err)
	}
	return s.report(), nil
}

func (s *Sim) apply(ev Event) error {
	if ev.needsBoost() && ev.Boost == nil {
		return fmt.Errorf("%s needs a boost type", ev.Action)
	}
	switch ev.Action {
	case ActionWake:
		return s.Wake(ev.ID)
	case ActionSleep:
		return s.Sleep(ev.ID)
	case ActionExit:
		return s.Exit(ev.ID)
	case ActionMigrate:
		return s.Migrate(ev.ID, ev.Core)
	case ActionBlock:
		return s.Block(ev.ID, ev.Holder, *ev.Boost)
	case ActionUnblock:
		return s.Unblock(ev.ID, ev.Holder, *ev.Boost)
	case ActionAcquire:
		return s.Acquire(ev.ID, *ev.Boost)
	case ActionRelease:
		return s.Release(ev.ID, *ev.Boost)
	case ActionSetTier:
		return s.SetTier(ev.ID, ev.Tier)
	default:
		return fmt.Errorf("unknown action %q", ev.Action)
	}
}

func (s *Sim) report() *Report {
	r := &Report{
		Elapsed:   s.Now(),
		Decisions: s.decisions,
		Runtime:   make(map[uxsched.EntityID]time.Duration, len(s.tasks)),
	}
	for id, t := range s.tasks {
		r.Runtime[id] = time.Duration(t.runtime)
	}
	for _, d := range s.decisions {
		switch d.Kind {
		case DecisionOverride:
			r.Overrides++
		case DecisionPreempt:
			r.Preemptions++
		case DecisionMigrate:
			r.Migrations++
		}
	}
	return r
}
