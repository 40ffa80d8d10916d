// Package policyfile reads UX overlay tunables from YAML policy files and
// follows them for changes.
//
// A policy only needs to name the tunables it changes; everything else keeps
// its default. Durations are written the way [time.ParseDuration] reads them:
//
//	enabled: true
//	min_sched_delay: 2ms
//	max_dynamic_granularity: 64ms
//	camera_opt: true
//	slide_boost: true
//	name_rules:
//	  - group: launcher
//	    tier: ui
//	  - thread: provider@2.4-se
//	    camera_opt: true
//	  - group: surfaceflinger
//	    thread: surfaceflinger
//	    compositor: true
package policyfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tomasbasham/uxsched"
)

// document mirrors uxsched.Config with YAML field names.
type document struct {
	Enabled               bool          `yaml:"enabled"`
	MinSchedDelay         time.Duration `yaml:"min_sched_delay"`
	MaxDynamicGranularity time.Duration `yaml:"max_dynamic_granularity"`
	MaxDynamicExist       time.Duration `yaml:"max_dynamic_exist"`
	MaxOverThresh         time.Duration `yaml:"max_over_thresh"`
	DepthMax              int           `yaml:"depth_max"`
	Latency               time.Duration `yaml:"latency"`
	LauncherBoost         bool          `yaml:"launcher_boost"`
	CameraOpt             bool          `yaml:"camera_opt"`
	SlideBoost            bool          `yaml:"slide_boost"`
	NameRules             []rule        `yaml:"name_rules,omitempty"`
}

type rule struct {
	Group      string       `yaml:"group,omitempty"`
	Thread     string       `yaml:"thread,omitempty"`
	Tier       uxsched.Tier `yaml:"tier,omitempty"`
	CameraOpt  bool         `yaml:"camera_opt,omitempty"`
	Compositor bool         `yaml:"compositor,omitempty"`
}

func fromConfig(cfg uxsched.Config) document {
	doc := document{
		Enabled:               cfg.Enabled,
		MinSchedDelay:         cfg.MinSchedDelay,
		MaxDynamicGranularity: cfg.MaxDynamicGranularity,
		MaxDynamicExist:       cfg.MaxDynamicExist,
		MaxOverThresh:         cfg.MaxOverThresh,
		DepthMax:              cfg.DepthMax,
		Latency:               cfg.Latency,
		LauncherBoost:         cfg.LauncherBoost,
		CameraOpt:             cfg.CameraOpt,
		SlideBoost:            cfg.SlideBoost,
	}
	for _, r := range cfg.NameRules {
		doc.NameRules = append(doc.NameRules, rule(r))
	}
	return doc
}

func (d document) config() uxsched.Config {
	cfg := uxsched.Config{
		Enabled:               d.Enabled,
		MinSchedDelay:         d.MinSchedDelay,
		MaxDynamicGranularity: d.MaxDynamicGranularity,
		MaxDynamicExist:       d.MaxDynamicExist,
		MaxOverThresh:         d.MaxOverThresh,
		DepthMax:              d.DepthMax,
		Latency:               d.Latency,
		LauncherBoost:         d.LauncherBoost,
		CameraOpt:             d.CameraOpt,
		SlideBoost:            d.SlideBoost,
	}
	for _, r := range d.NameRules {
		cfg.NameRules = append(cfg.NameRules, uxsched.NameRule(r))
	}
	return cfg
}

// Parse decodes a policy on top of [uxsched.DefaultConfig] and validates the
// result. Unknown keys are rejected. An empty document yields the defaults.
func Parse(data []byte) (uxsched.Config, error) {
	doc := fromConfig(uxsched.DefaultConfig())

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return uxsched.Config{}, fmt.Errorf("decode policy: %w", err)
	}

	var extra any
	if err := dec.Decode(&extra); err == nil {
		return uxsched.Config{}, errors.New("decode policy: multiple documents are not supported")
	} else if !errors.Is(err, io.EOF) {
		return uxsched.Config{}, fmt.Errorf("decode policy: %w", err)
	}

	cfg := doc.config()
	if err := cfg.Validate(); err != nil {
		return uxsched.Config{}, err
	}
	return cfg, nil
}

// Load reads and parses the policy at path.
func Load(path string) (uxsched.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return uxsched.Config{}, fmt.Errorf("read policy: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return uxsched.Config{}, fmt.Errorf("policy %s: %w", path, err)
	}
	return cfg, nil
}

// Marshal renders cfg as a policy document that [Parse] reads back.
func Marshal(cfg uxsched.Config) ([]byte, error) {
	return yaml.Marshal(fromConfig(cfg))
}
