// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package telemetry installs the global OpenTelemetry tracer provider for the
// gateway. The pool, delivery engine and SMS translator create their spans
// through otel.Tracer, so they only need Setup to have run.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/telekom/mail-sms-gateway/pkg/config"
	"github.com/telekom/mail-sms-gateway/pkg/version"
)

// Exporters accepted in tracing.exporter.
const (
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
	ExporterNone   = "none"
)

const shutdownTimeout = 5 * time.Second

// Provider is the tracer provider installed by Setup.
type Provider struct {
	sdk *sdktrace.TracerProvider
	log *zap.SugaredLogger
}

// Option customises Setup.
type Option func(*setup)

type setup struct {
	stdout io.Writer
}

// WithStdout redirects the stdout exporter.
func WithStdout(w io.Writer) Option {
	return func(s *setup) { s.stdout = w }
}

// Setup installs a tracer provider described by cfg.Tracing. Spans carry the
// gateway's identity and its SMTP and storage settings as resource
// attributes. With tracing disabled a no-op provider is installed.
func Setup(ctx context.Context, cfg config.Config, log *zap.SugaredLogger, opts ...Option) (*Provider, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log = log.Named("telemetry")
	if !cfg.Tracing.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return &Provider{log: log}, nil
	}

	s := setup{stdout: os.Stdout}
	for _, opt := range opts {
		opt(&s)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(gatewayAttributes(cfg)...),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("building trace resource: %w", err)
	}

	rate := cfg.Tracing.SamplingRateValue()
	providerOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler(rate))),
	}
	exporter, err := newExporter(ctx, cfg.Tracing, s.stdout)
	if err != nil {
		return nil, err
	}
	if exporter != nil {
		providerOpts = append(providerOpts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(providerOpts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		log.Warnw("Trace export failed", "error", err)
	}))

	log.Infow("Tracing enabled", "exporter", exporterName(cfg.Tracing), "endpoint", cfg.Tracing.Endpoint, "samplingRate", rate)
	return &Provider{sdk: tp, log: log}, nil
}

// Enabled reports whether spans are recorded and exported.
func (p *Provider) Enabled() bool {
	return p != nil && p.sdk != nil
}

// Shutdown flushes pending spans. It is safe to call more than once and on
// a disabled provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := p.sdk.Shutdown(ctx); err != nil {
		return fmt.Errorf("flushing spans: %w", err)
	}
	p.log.Debug("Tracer provider shut down")
	return nil
}

func gatewayAttributes(cfg config.Config) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("service.name", version.Name),
		attribute.String("service.version", version.Version),
		attribute.String("vcs.revision", version.GitCommit),
		attribute.String("gateway.storage.driver", cfg.Storage.Driver),
		attribute.String("gateway.smtp.tls_mode", cfg.SMTP.TLSMode),
		attribute.Bool("gateway.smtp.require_tls", cfg.SMTP.RequireTLS),
		attribute.Bool("gateway.rewrite.enabled", cfg.Rewrite.Enabled),
	}
	if cfg.SMTP.LocalName != "" {
		attrs = append(attrs, attribute.String("gateway.smtp.local_name", cfg.SMTP.LocalName))
	}
	return attrs
}

// sampler maps a sampling rate in [0,1] to a root sampler.
func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate <= 0:
		return sdktrace.NeverSample()
	case rate >= 1:
		return sdktrace.AlwaysSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

func exporterName(t config.Tracing) string {
	if t.Exporter == "" {
		return ExporterOTLP
	}
	return t.Exporter
}

// newExporter returns nil for ExporterNone.
func newExporter(ctx context.Context, t config.Tracing, stdout io.Writer) (sdktrace.SpanExporter, error) {
	switch exporterName(t) {
	case ExporterOTLP:
		var grpcOpts []otlptracegrpc.Option
		if t.Endpoint != "" {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithEndpoint(t.Endpoint))
		}
		if t.Insecure {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, grpcOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating OTLP exporter for %q: %w", t.Endpoint, err)
		}
		return exp, nil
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithWriter(stdout))
		if err != nil {
			return nil, fmt.Errorf("creating stdout exporter: %w", err)
		}
		return exp, nil
	case ExporterNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("tracing.exporter %q: supported values are otlp, stdout, none", t.Exporter)
	}
}
