// Package metrics collects and exposes Prometheus metrics for the
// account flows.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the metrics surface used by the session context. A nil
// *Collector satisfies every method, so metrics stay optional.
type Recorder interface {
	RecordLogin(method string, success bool)
	RecordProfileCreated()
	RecordCompanySaved()
	RecordFlagRepair()
}

// Collector registers and records account metrics.
type Collector struct {
	logins          *prometheus.CounterVec
	profilesCreated prometheus.Counter
	companiesSaved  prometheus.Counter
	flagRepairs     prometheus.Counter
	registry        *prometheus.Registry
}

// NewCollector creates a Collector with its own registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accounts_logins_total",
			Help: "Login attempts by method and outcome.",
		}, []string{"method", "outcome"}),
		profilesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "accounts_profiles_created_total",
			Help: "User profiles created by reconciliation.",
		}),
		companiesSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "accounts_companies_saved_total",
			Help: "Company upserts performed.",
		}),
		flagRepairs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "accounts_company_flag_repairs_total",
			Help: "has_company flags repaired during resolution.",
		}),
		registry: reg,
	}

	reg.MustRegister(c.logins, c.profilesCreated, c.companiesSaved, c.flagRepairs)
	return c
}

func (c *Collector) RecordLogin(method string, success bool) {
	if c == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	c.logins.WithLabelValues(method, outcome).Inc()
}

func (c *Collector) RecordProfileCreated() {
	if c == nil {
		return
	}
	c.profilesCreated.Inc()
}

func (c *Collector) RecordCompanySaved() {
	if c == nil {
		return
	}
	c.companiesSaved.Inc()
}

func (c *Collector) RecordFlagRepair() {
	if c == nil {
		return
	}
	c.flagRepairs.Inc()
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
