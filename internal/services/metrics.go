package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// creditsReserved counts credits debited for submissions, by job kind.
	creditsReserved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credits_reserved_total",
			Help: "Credits debited before job submission.",
		},
		[]string{"kind"},
	)

	// creditsRefunded counts credits returned after failures, by job kind.
	creditsRefunded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credits_refunded_total",
			Help: "Credits refunded after a failed job.",
		},
		[]string{"kind"},
	)

	// reservationsRejected counts reservations that did not apply.
	reservationsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_reservations_rejected_total",
			Help: "Reservations rejected, by reason.",
		},
		[]string{"reason"},
	)

	// reconciliations counts webhook outcomes by kind and result
	// (success, fail, duplicate, pending, not_found).
	reconciliations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_reconciliations_total",
			Help: "Generation callbacks processed, by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	// submissions counts generator submissions by kind and result.
	submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_submissions_total",
			Help: "Generation submissions, by kind and result.",
		},
		[]string{"kind", "result"},
	)
)

func init() {
	prometheus.MustRegister(creditsReserved, creditsRefunded, reservationsRejected, reconciliations, submissions)
}
