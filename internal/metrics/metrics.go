package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	SessionState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "im_sentinel_session_state",
		Help: "1 for the supervisor's current session state, 0 otherwise.",
	}, []string{"state"})

	ConnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_sentinel_connect_attempts_total",
		Help: "Total connect attempts issued to the gateway.",
	})
	Reconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "im_sentinel_reconnects_scheduled_total",
		Help: "Total reconnects scheduled, by close reason.",
	}, []string{"reason"})
	CrashRecoveries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_sentinel_crash_recoveries_total",
		Help: "Total recovered panics that triggered a session restart.",
	})
	CredentialSaveFail = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_sentinel_credential_save_fail_total",
		Help: "Total credential persist attempts that failed.",
	})

	EventsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "im_sentinel_events_dispatched_total",
		Help: "Total inbound events run through the pipeline, by kind.",
	}, []string{"kind"})
	EventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "im_sentinel_events_dropped_total",
		Help: "Total inbound events filtered before the pipeline, by reason.",
	}, []string{"reason"})
	HandlerResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "im_sentinel_handler_results_total",
		Help: "Total policy handler results, by handler and result.",
	}, []string{"handler", "result"})

	GreetingsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_sentinel_greetings_total",
		Help: "Total greetings sent to first-time senders.",
	})
	MediaCaptured = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "im_sentinel_viewonce_captured_total",
		Help: "Total view-once media captured, by kind.",
	}, []string{"kind"})
	DeletionsLogged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_sentinel_deletions_logged_total",
		Help: "Total deletion records appended to the log.",
	})
	StatusReactions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_sentinel_status_reactions_total",
		Help: "Total status updates read and reacted to.",
	})
	ForwardBreakerDrop = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_sentinel_forward_breaker_drop_total",
		Help: "Total owner forwards skipped while the breaker was open.",
	})
	AuditPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "im_sentinel_audit_published_total",
		Help: "Audit events handed to the broker, by tag and outcome.",
	}, []string{"tag", "outcome"})
)

func Register() {
	prometheus.MustRegister(
		SessionState,
		ConnectAttempts, Reconnects, CrashRecoveries, CredentialSaveFail,
		EventsDispatched, EventsDropped, HandlerResults,
		GreetingsSent, MediaCaptured, DeletionsLogged, StatusReactions,
		ForwardBreakerDrop, AuditPublished,
	)
}
