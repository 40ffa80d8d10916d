package uxsched

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ErrInvalidConfig is returned when a [Config] fails validation.
var ErrInvalidConfig = errors.New("invalid ux config")

// DepthLimit is the largest inheritance depth a [Config] may allow.
const DepthLimit = 64

// Config holds the tunables of the overlay. An [Assist] holds it as an
// immutable snapshot: every decision reads one snapshot, and
// [Assist.Reconfigure] swaps in a new one whole.
type Config struct {
	// Enabled is the global switch. When false nothing is classified as UX.
	Enabled bool

	// MinSchedDelay is how long a UX entity must have been ready before it
	// may override the host's pick.
	MinSchedDelay time.Duration

	// MaxDynamicGranularity is how long a dynamic boost keeps an entity
	// classified as UX after it was last refreshed.
	MaxDynamicGranularity time.Duration

	// MaxDynamicExist is the age past which a dynamic boost is discarded
	// outright when the entity leaves the ready set.
	MaxDynamicExist time.Duration

	// MaxOverThresh bounds how far a UX entity's vruntime may be ahead of the
	// host's pick before an override is refused.
	MaxOverThresh time.Duration

	// DepthMax bounds how many hops a dynamic boost may propagate.
	DepthMax int

	// Latency is the host's scheduling latency period. Placement shifts UX
	// entities back by multiples of it.
	Latency time.Duration

	// LauncherBoost shifts placement back by a further half latency period.
	LauncherBoost bool

	// CameraOpt enables the camera provider bias for entities that carry it.
	CameraOpt bool

	// SlideBoost keeps the compositor's main thread off the little cores and
	// away from cores running a heavy UX entity when it is being placed.
	SlideBoost bool

	// NameRules assign static boosts by process and thread name.
	NameRules []NameRule
}

// DefaultConfig returns the stock tunables with the overlay enabled.
func DefaultConfig() Config {
	return Config{
		Enabled:               true,
		MinSchedDelay:         0,
		MaxDynamicGranularity: 64 * time.Millisecond,
		MaxDynamicExist:       time.Second,
		MaxOverThresh:         2 * time.Second,
		DepthMax:              5,
		Latency:               6 * time.Millisecond,
	}
}

// Validate reports whether the config can be installed.
func (c Config) Validate() error {
	var errs []error
	for name, d := range map[string]time.Duration{
		"min sched delay":         c.MinSchedDelay,
		"max dynamic granularity": c.MaxDynamicGranularity,
		"max dynamic exist":       c.MaxDynamicExist,
		"max over thresh":         c.MaxOverThresh,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %s", name, d))
		}
	}
	if c.Latency <= 0 {
		errs = append(errs, fmt.Errorf("latency must be positive, got %s", c.Latency))
	}
	if c.DepthMax < 1 || c.DepthMax > DepthLimit {
		errs = append(errs, fmt.Errorf("depth max must be within [1, %d], got %d", DepthLimit, c.DepthMax))
	}
	for i, r := range c.NameRules {
		if r.Group == "" && r.Thread == "" {
			errs = append(errs, fmt.Errorf("name rule %d matches every thread", i))
		}
		if !r.Tier.IsValid() {
			errs = append(errs, fmt.Errorf("name rule %d has an invalid tier", i))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (c Config) clone() *Config {
	c.NameRules = slices.Clone(c.NameRules)
	return &c
}

// NameRule assigns a static boost to threads by name. A pattern matches when
// it is a substring of the corresponding name; an empty pattern matches
// anything.
type NameRule struct {
	Group      string
	Thread     string
	Tier       Tier
	CameraOpt  bool
	Compositor bool
}

func (r NameRule) matches(group, thread string) bool {
	return strings.Contains(group, r.Group) && strings.Contains(thread, r.Thread)
}

// NameMatch is the boost a [NameMatcher] assigns to a thread.
type NameMatch struct {
	Tier       Tier
	CameraOpt  bool
	Compositor bool
}

// NameMatcher decides the static boost of a thread from the name of its
// process (group leader) and its own name.
type NameMatcher interface {
	Match(group, thread string) (NameMatch, bool)
}

// NameMatcherFunc adapts a function to the [NameMatcher] interface.
type NameMatcherFunc func(group, thread string) (NameMatch, bool)

// Match calls f.
func (f NameMatcherFunc) Match(group, thread string) (NameMatch, bool) {
	return f(group, thread)
}

// ruleMatcher consults the rules of the live config snapshot, first match
// wins.
type ruleMatcher struct {
	a *Assist
}

func (m ruleMatcher) Match(group, thread string) (NameMatch, bool) {
	for _, r := range m.a.config().NameRules {
		if r.matches(group, thread) {
			return NameMatch{Tier: r.Tier, CameraOpt: r.CameraOpt, Compositor: r.Compositor}, true
		}
	}
	return NameMatch{}, false
}
