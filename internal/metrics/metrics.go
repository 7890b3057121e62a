// Package metrics exposes prometheus counters for ledger activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Submission outcomes.
const (
	OutcomeAccepted      = "accepted"
	OutcomeAlreadyToday  = "already_submitted"
	OutcomeNotAMember    = "not_a_member"
	OutcomeInvalid       = "invalid"
	OutcomeGroupNotFound = "group_not_found"
	OutcomeError         = "error"
)

// Recorder owns a registry and the ledger counters registered in it.
type Recorder struct {
	registry       *prometheus.Registry
	requests       *prometheus.CounterVec
	submissions    *prometheus.CounterVec
	streakAdvances prometheus.Counter
	groupEvents    *prometheus.CounterVec
}

// New constructs a Recorder with its own registry, including Go and process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tipidbuddy",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tipidbuddy",
			Name:      "submissions_total",
			Help:      "Daily savings submissions by outcome.",
		}, []string{"outcome"}),
		streakAdvances: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tipidbuddy",
			Name:      "group_streak_advances_total",
			Help:      "Group streak advances.",
		}),
		groupEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tipidbuddy",
			Name:      "group_events_total",
			Help:      "Group lifecycle events (created, joined, left).",
		}, []string{"event"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.requests,
		r.submissions,
		r.streakAdvances,
		r.groupEvents,
	)
	return r
}

// Request counts one HTTP request.
func (r *Recorder) Request(route, code string) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(route, code).Inc()
}

// Submission counts one submission attempt; advanced marks a group streak advance.
func (r *Recorder) Submission(outcome string, advanced bool) {
	if r == nil {
		return
	}
	r.submissions.WithLabelValues(outcome).Inc()
	if advanced {
		r.streakAdvances.Inc()
	}
}

// GroupEvent counts a group lifecycle event.
func (r *Recorder) GroupEvent(event string) {
	if r == nil {
		return
	}
	r.groupEvents.WithLabelValues(event).Inc()
}

// Handler serves the registry in the prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}
