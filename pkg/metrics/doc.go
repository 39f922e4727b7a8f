// Package metrics defines Prometheus metrics for the gateway, covering SMTP
// pool lifecycle, keep-alives, mail delivery, fan-out, SMS translation, the
// rewrite hook and API traffic.
package metrics
