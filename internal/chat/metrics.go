package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts chat activity. A nil *Metrics records nothing.
type Metrics struct {
	// SessionsCreated counts new sessions.
	SessionsCreated prometheus.Counter

	// Claims counts claim attempts.
	// Labels: result (won|lost|closed|missing)
	Claims *prometheus.CounterVec

	// SessionsClosed counts open/assigned -> closed transitions.
	// Labels: by (agent|system)
	SessionsClosed *prometheus.CounterVec

	// Messages counts appended messages.
	// Labels: sender (customer|agent|system|ai)
	Messages *prometheus.CounterVec

	// AutoReplies counts automated responder outcomes.
	// Labels: result (posted|suppressed|failed|empty|disabled)
	AutoReplies *prometheus.CounterVec
}

// NewMetrics registers the chat metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "support_sessions_created_total",
			Help: "Support chat sessions created",
		}),
		Claims: f.NewCounterVec(prometheus.CounterOpts{
			Name: "support_claims_total",
			Help: "Session claim attempts by result",
		}, []string{"result"}),
		SessionsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "support_sessions_closed_total",
			Help: "Sessions closed by closer kind",
		}, []string{"by"}),
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "support_messages_total",
			Help: "Messages appended by sender kind",
		}, []string{"sender"}),
		AutoReplies: f.NewCounterVec(prometheus.CounterOpts{
			Name: "support_auto_replies_total",
			Help: "Automated responder outcomes",
		}, []string{"result"}),
	}
}

func (m *Metrics) sessionCreated() {
	if m != nil {
		m.SessionsCreated.Inc()
	}
}

func (m *Metrics) claim(result string) {
	if m != nil {
		m.Claims.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) closed(by string) {
	if m != nil {
		m.SessionsClosed.WithLabelValues(by).Inc()
	}
}

func (m *Metrics) message(kind SenderKind) {
	if m != nil {
		m.Messages.WithLabelValues(string(kind)).Inc()
	}
}

func (m *Metrics) autoReply(result string) {
	if m != nil {
		m.AutoReplies.WithLabelValues(result).Inc()
	}
}
