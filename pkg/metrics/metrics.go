package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values shared by the counters below.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

var (
	// SMTP pool metrics
	PoolConnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_smtp_connects_total",
		Help: "Total number of SMTP session establishments by result",
	}, []string{"host", "result"})
	PoolReplacements = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_smtp_replacements_total",
		Help: "Total number of pool entries replaced after a send failure",
	}, []string{"host"})
	PoolEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_smtp_pool_entries",
		Help: "Number of live sessions held by the connection pool",
	})
	KeepAlives = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_smtp_keepalive_total",
		Help: "Total number of keep-alive NOOPs by result",
	}, []string{"host", "result"})

	// Mail metrics
	MailSendSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_mail_send_success_total",
		Help: "Total number of successful mail sends",
	}, []string{"host"})
	MailSendFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_mail_send_failure_total",
		Help: "Total number of failed mail sends after the retry was exhausted",
	}, []string{"host"})
	MailSendRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_mail_send_retries_total",
		Help: "Total number of sends retried on a fresh session",
	}, []string{"host"})
	MailMessagesSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_mail_messages_submitted_total",
		Help: "Total number of messages accepted by SMTP servers, counting repeats",
	})

	// Fan-out and SMS metrics
	FanoutSenders = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_fanout_senders_total",
		Help: "Per-sender outcomes of fan-out sends",
	}, []string{"kind", "result"})
	SMSDestinations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_sms_destinations_total",
		Help: "Carrier gateway destinations attempted by result",
	}, []string{"multimedia", "result"})
	RewriteRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_rewrite_requests_total",
		Help: "Rewrite hook invocations by result",
	}, []string{"result"})

	// Event sink metrics
	EventsWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_events_written_total",
		Help: "Delivery events written per sink",
	}, []string{"sink"})
	EventsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_events_failed_total",
		Help: "Delivery events that a sink failed to write",
	}, []string{"sink"})

	// API metrics
	APIRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_api_requests_total",
		Help: "API requests by route and HTTP status code",
	}, []string{"route", "status"})
	APIRateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_api_rate_limited_total",
		Help: "API requests rejected by the rate limiter",
	})
)

func init() {
	prometheus.MustRegister(PoolConnects)
	prometheus.MustRegister(PoolReplacements)
	prometheus.MustRegister(PoolEntries)
	prometheus.MustRegister(KeepAlives)
	prometheus.MustRegister(MailSendSuccess)
	prometheus.MustRegister(MailSendFailure)
	prometheus.MustRegister(MailSendRetries)
	prometheus.MustRegister(MailMessagesSubmitted)
	prometheus.MustRegister(FanoutSenders)
	prometheus.MustRegister(SMSDestinations)
	prometheus.MustRegister(RewriteRequests)
	prometheus.MustRegister(EventsWritten)
	prometheus.MustRegister(EventsFailed)
	prometheus.MustRegister(APIRequests)
	prometheus.MustRegister(APIRateLimited)
}

// Result maps an error to a result label value.
func Result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
