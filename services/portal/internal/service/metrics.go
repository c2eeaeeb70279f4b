package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ChallengesIssued       *prometheus.CounterVec
	ChallengeVerifications *prometheus.CounterVec
	StatesCreated          prometheus.Counter
	InvitationsCreated     *prometheus.CounterVec
	InvitationResponses    *prometheus.CounterVec
	Admissions             *prometheus.CounterVec
	Notifications          *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		ChallengesIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_two_factor_challenges_total",
				Help: "Verification codes issued, by delivery outcome.",
			},
			[]string{"delivery"},
		),
		ChallengeVerifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_two_factor_verifications_total",
				Help: "Verification attempts, by result.",
			},
			[]string{"result"},
		),
		StatesCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "portal_two_factor_states_created_total",
				Help: "Two-factor states created lazily.",
			},
		),
		InvitationsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_invitations_created_total",
				Help: "Invitations created, by outcome.",
			},
			[]string{"result"},
		),
		InvitationResponses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_invitation_responses_total",
				Help: "Invitation responses, by result.",
			},
			[]string{"result"},
		),
		Admissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_admissions_total",
				Help: "Event admissions, by kind and result.",
			},
			[]string{"kind", "result"},
		),
		Notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_notifications_total",
				Help: "Outbound notifications, by kind and status.",
			},
			[]string{"kind", "status"},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.ChallengesIssued,
			m.ChallengeVerifications,
			m.StatesCreated,
			m.InvitationsCreated,
			m.InvitationResponses,
			m.Admissions,
			m.Notifications,
		)
	}

	return m
}

func (m *Metrics) IncChallenge(delivered bool) {
	if m == nil {
		return
	}
	m.ChallengesIssued.WithLabelValues(deliveryLabel(delivered)).Inc()
}

func (m *Metrics) IncVerification(result string) {
	if m == nil {
		return
	}
	m.ChallengeVerifications.WithLabelValues(result).Inc()
}

func (m *Metrics) IncStateCreated() {
	if m == nil {
		return
	}
	m.StatesCreated.Inc()
}

func (m *Metrics) IncInvitationCreated(result string) {
	if m == nil {
		return
	}
	m.InvitationsCreated.WithLabelValues(result).Inc()
}

func (m *Metrics) IncResponse(result string) {
	if m == nil {
		return
	}
	m.InvitationResponses.WithLabelValues(result).Inc()
}

func (m *Metrics) IncAdmission(kind, result string) {
	if m == nil {
		return
	}
	m.Admissions.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) IncNotification(kind string, delivered bool) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(kind, deliveryLabel(delivered)).Inc()
}

func deliveryLabel(delivered bool) string {
	if delivered {
		return "sent"
	}
	return "failed"
}
