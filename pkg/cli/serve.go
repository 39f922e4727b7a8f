package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/telekom/mail-sms-gateway/pkg/version"
)

func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rt)
		},
	}
}

// runServe blocks until ctx is cancelled or the listener fails.
func runServe(ctx context.Context, rt *runtimeState) error {
	log := rt.log.Sugar()
	log.Infow("Starting "+version.Name, "version", version.Version, "commit", version.GitCommit)
	if rt.debug {
		log.Debugf("%#v", rt.cfg)
	}

	app, err := NewApp(ctx, rt.cfg, rt.log, rt.debug)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.Server.ShutdownTimeoutDuration(log))
		defer cancel()
		if err := app.Close(shutdownCtx); err != nil {
			log.Warnw("Shutdown incomplete", "error", err)
		}
	}()

	if rt.cfg.SMTP.WarmOnStart {
		app.Warm(ctx)
	}

	return app.Server.Listen(ctx)
}
