package cli

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/telekom/mail-sms-gateway/pkg/api"
	"github.com/telekom/mail-sms-gateway/pkg/config"
	"github.com/telekom/mail-sms-gateway/pkg/events"
	"github.com/telekom/mail-sms-gateway/pkg/gateway"
	"github.com/telekom/mail-sms-gateway/pkg/mail"
	"github.com/telekom/mail-sms-gateway/pkg/rewrite"
	"github.com/telekom/mail-sms-gateway/pkg/sms"
	"github.com/telekom/mail-sms-gateway/pkg/smtppool"
	"github.com/telekom/mail-sms-gateway/pkg/store"
	"github.com/telekom/mail-sms-gateway/pkg/telemetry"
)

// App is the fully wired gateway process.
type App struct {
	Config    config.Config
	Store     store.Store
	Pool      *smtppool.Pool
	Publisher *events.Publisher
	Service   *gateway.Service
	Server    *api.Server

	log     *zap.SugaredLogger
	tracing *telemetry.Provider
}

// NewDialer maps the smtp section of the configuration.
func NewDialer(cfg config.SMTP, log *zap.SugaredLogger) *smtppool.SMTPDialer {
	return &smtppool.SMTPDialer{
		LocalName:          cfg.LocalName,
		DialTimeout:        cfg.DialTimeoutDuration(log),
		CommandTimeout:     cfg.CommandTimeoutDuration(log),
		SubmissionTimeout:  cfg.SubmissionTimeoutDuration(log),
		TLSMode:            cfg.TLSMode,
		RequireTLS:         cfg.RequireTLS,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
}

// NewApp opens storage, seeds carriers and wires the pool, engine,
// translator, service and HTTP server. Everything opened so far is released
// when a step fails.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger, debug bool) (app *App, err error) {
	log := logger.Sugar()
	app = &App{Config: cfg, log: log}
	defer func() {
		if err != nil {
			if cerr := app.Close(context.Background()); cerr != nil {
				log.Warnw("Releasing partially built app failed", "error", cerr)
			}
			app = nil
		}
	}()

	app.tracing, err = telemetry.Setup(ctx, cfg, log)
	if err != nil {
		return app, fmt.Errorf("initializing tracing: %w", err)
	}

	app.Store, err = store.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return app, err
	}
	if len(cfg.Storage.SeedCarriers) > 0 {
		if _, err = store.SeedCarriers(ctx, app.Store, cfg.Storage.SeedCarriers, log); err != nil {
			return app, err
		}
	}

	sinks := []events.Sink{events.NewLogSink(logger)}
	if k := cfg.Events.Kafka; k.Enabled {
		sink, kerr := events.NewKafkaSink(events.KafkaSinkConfig{
			Brokers:      k.Brokers,
			Topic:        k.Topic,
			BatchTimeout: k.BatchTimeoutDuration(log),
			WriteTimeout: k.WriteTimeoutDuration(log),
			Async:        k.Async,
		}, logger)
		if kerr != nil {
			return app, fmt.Errorf("creating kafka event sink: %w", kerr)
		}
		sinks = append(sinks, sink)
		log.Infow("Publishing delivery events to kafka", "brokers", k.Brokers, "topic", k.Topic)
	}
	app.Publisher = events.NewPublisher(log, sinks...)

	dialer := NewDialer(cfg.SMTP, log)
	app.Pool = smtppool.New(dialer, app.Store,
		smtppool.WithKeepAliveInterval(cfg.SMTP.KeepAliveIntervalDuration(log)),
		smtppool.WithKeepAliveTimeout(cfg.SMTP.KeepAliveTimeoutDuration(log)),
		smtppool.WithLogger(log),
		smtppool.WithEvents(app.Publisher),
	)

	engine := mail.NewEngine(app.Pool, app.Store, log,
		mail.WithMaxRepeat(cfg.SMTP.MaxRepeatValue()),
		mail.WithEvents(app.Publisher),
	)

	var smsOpts []sms.Option
	if r := cfg.Rewrite; r.Enabled {
		smsOpts = append(smsOpts,
			sms.WithRewriter(rewrite.NewChatClient(rewrite.Config{
				BaseURL:     r.BaseURL,
				APIKey:      r.APIKey,
				Model:       r.Model,
				Temperature: r.Temperature,
				TopP:        r.TopP,
				MaxTokens:   r.MaxTokens,
				Timeout:     r.TimeoutDuration(log),
			}, log)),
			sms.WithInstruction(r.Instruction),
		)
		log.Infow("Message rewriting enabled", "model", r.Model)
	}
	translator := sms.NewTranslator(engine, app.Store, log, smsOpts...)

	app.Service = gateway.NewService(app.Store, app.Pool, dialer, engine, translator, log,
		gateway.WithDefaultPort(cfg.SMTP.DefaultPort),
	)

	app.Server = api.NewServer(logger, cfg.Server, debug)
	if err = app.Server.RegisterAll([]api.APIController{gateway.NewController(log, app.Service)}); err != nil {
		return app, fmt.Errorf("registering gateway controller: %w", err)
	}
	return app, nil
}

// Warm connects every stored sender. Failed senders are logged and skipped.
func (a *App) Warm(ctx context.Context) {
	report, err := a.Service.InitializeConnections(ctx)
	if err != nil {
		a.log.Warnw("Warming the connection pool failed", "error", err)
		return
	}
	if len(report.Failed) > 0 {
		a.log.Warnw("Some senders could not be connected; they are retried on first use", "failed", report.Failed)
	}
}

// Close shuts down the pool, flushes events and closes storage and tracing.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Pool != nil {
		if err := a.Pool.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing connection pool: %w", err))
		}
	}
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing event publisher: %w", err))
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing store: %w", err))
		}
	}
	if err := a.tracing.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down tracing: %w", err))
	}
	return errors.Join(errs...)
}
