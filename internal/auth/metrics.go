// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Petiverso Contributors

package auth

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for authentication events.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Attempts            *prometheus.CounterVec
	Registrations       *prometheus.CounterVec
	Validations         *prometheus.CounterVec
	AuditWriteFailures  prometheus.Counter
	AuditSpooledEntries prometheus.Counter
}

// NewMetrics creates authentication metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "petiverso_auth_attempts_total",
				Help: "Total number of authentication attempts by outcome",
			},
			[]string{"outcome"},
		),
		Registrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "petiverso_auth_registrations_total",
				Help: "Total number of registrations by outcome",
			},
			[]string{"outcome"},
		),
		Validations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "petiverso_auth_validations_total",
				Help: "Total number of session validations by outcome",
			},
			[]string{"outcome"},
		),
		AuditWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "petiverso_auth_audit_write_failures_total",
			Help: "Total number of login attempts that could not be written to the store",
		}),
		AuditSpooledEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "petiverso_auth_audit_spooled_total",
			Help: "Total number of login attempts written to the local spool file",
		}),
	}

	reg.MustRegister(m.Attempts, m.Registrations, m.Validations, m.AuditWriteFailures, m.AuditSpooledEntries)

	return m
}

func (m *Metrics) attempt(outcome string) {
	if m != nil {
		m.Attempts.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) registration(outcome string) {
	if m != nil {
		m.Registrations.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) validation(outcome Outcome) {
	if m != nil {
		m.Validations.WithLabelValues(outcome.String()).Inc()
	}
}

func (m *Metrics) auditFailure() {
	if m != nil {
		m.AuditWriteFailures.Inc()
	}
}

func (m *Metrics) auditSpooled() {
	if m != nil {
		m.AuditSpooledEntries.Inc()
	}
}
