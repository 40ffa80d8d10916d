// Package metrics exports overlay, simulator and policy reload events as
// Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomasbasham/uxsched"
	"github.com/tomasbasham/uxsched/internal/fairsim"
)

const namespace = "uxsched"

// Ensure Collector implements [uxsched.MetricsHook].
var _ uxsched.MetricsHook = (*Collector)(nil)

// Collector counts overlay events on its own registry.
type Collector struct {
	registry *prometheus.Registry

	links     *prometheus.CounterVec
	unlinks   *prometheus.CounterVec
	overrides *prometheus.CounterVec
	boosts    *prometheus.CounterVec
	releases  *prometheus.CounterVec
	depth     prometheus.Histogram
	decisions *prometheus.CounterVec
	reloads   *prometheus.CounterVec
}

// New creates a Collector with every metric registered.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		links: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "links_total",
				Help:      "Entities linked on a UX queue.",
			},
			[]string{"core"},
		),
		unlinks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unlinks_total",
				Help:      "Entities removed from a UX queue, by reason.",
			},
			[]string{"core", "reason"},
		),
		overrides: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "overrides_total",
				Help:      "Picks replaced by a UX entity.",
			},
			[]string{"core"},
		),
		boosts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "boosts_total",
				Help:      "Dynamic boost references taken, by type.",
			},
			[]string{"type"},
		),
		releases: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "releases_total",
				Help:      "Dynamic boost references dropped, by type and whether the last one went.",
			},
			[]string{"type", "cleared"},
		),
		depth: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "boost_depth",
				Help:      "Inheritance depth of an entity after taking a boost.",
				Buckets:   prometheus.LinearBuckets(1, 1, 8),
			},
		),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Simulated scheduling decisions, by kind.",
			},
			[]string{"kind"},
		),
		reloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_reloads_total",
				Help:      "Policy reload attempts, by result.",
			},
			[]string{"result"},
		),
	}

	c.registry.MustRegister(
		c.links, c.unlinks, c.overrides, c.boosts,
		c.releases, c.depth, c.decisions, c.reloads,
	)
	return c
}

// Registry returns the registry the metrics live on.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) OnLink(core int, e *uxsched.Entity) {
	c.links.WithLabelValues(strconv.Itoa(core)).Inc()
}

func (c *Collector) OnUnlink(core int, id uxsched.EntityID, reason uxsched.UnlinkReason) {
	c.unlinks.WithLabelValues(strconv.Itoa(core), reason.String()).Inc()
}

func (c *Collector) OnOverride(core int, picked, displaced *uxsched.Entity) {
	c.overrides.WithLabelValues(strconv.Itoa(core)).Inc()
}

func (c *Collector) OnBoost(e *uxsched.Entity, t uxsched.BoostType, depth int) {
	c.boosts.WithLabelValues(t.String()).Inc()
	c.depth.Observe(float64(depth))
}

func (c *Collector) OnRelease(e *uxsched.Entity, t uxsched.BoostType, cleared bool) {
	c.releases.WithLabelValues(t.String(), strconv.FormatBool(cleared)).Inc()
}

// OnDecision counts a simulator decision. It has the shape of a
// [fairsim.WithDecisionHook] function.
func (c *Collector) OnDecision(d fairsim.Decision) {
	c.decisions.WithLabelValues(d.Kind.String()).Inc()
}

// OnReload counts a policy reload attempt; a nil err is a success.
func (c *Collector) OnReload(err error) {
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	c.reloads.WithLabelValues(result).Inc()
}
