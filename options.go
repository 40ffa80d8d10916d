package uxsched

import "go.uber.org/zap"

// Options holds configuration options for the [Assist].
type Options struct {
	Config  Config
	Clock   Clock
	Logger  *zap.Logger
	Metrics MetricsHook
	Matcher NameMatcher
}

// Option is a function that configures [Options].
type Option func(*Options)

// WithConfig sets the initial tunables for the [Assist]. Without it the
// [Assist] starts from [DefaultConfig].
func WithConfig(cfg Config) Option {
	return func(o *Options) {
		o.Config = cfg
	}
}

// WithClock sets the clock the [Assist] reads for enqueue times and boost
// decay. It should be the host's ready-queue clock.
func WithClock(c Clock) Option {
	return func(o *Options) {
		o.Clock = c
	}
}

// WithLogger sets the logger for the [Assist].
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithMetricsHook sets the metrics hook for the [Assist].
func WithMetricsHook(hook MetricsHook) Option {
	return func(o *Options) {
		o.Metrics = hook
	}
}

// WithNameMatcher replaces the configured [NameRule] list with an arbitrary
// predicate over process and thread names.
func WithNameMatcher(m NameMatcher) Option {
	return func(o *Options) {
		o.Matcher = m
	}
}
