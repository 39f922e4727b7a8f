package cli

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/telekom/mail-sms-gateway/pkg/config"
)

type Config struct {
	// ConfigPath overrides GATEWAY_CONFIG_PATH and ./config.yaml.
	ConfigPath   string
	OutputWriter io.Writer
	// NewLogger builds the process logger once --debug is known.
	NewLogger func(debug bool) (*zap.Logger, error)
}

type runtimeState struct {
	configPath string
	debug      bool
	cfg        config.Config
	log        *zap.Logger
	newLogger  func(debug bool) (*zap.Logger, error)
	writer     io.Writer
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{
		OutputWriter: os.Stdout,
		NewLogger: func(debug bool) (*zap.Logger, error) {
			if debug {
				return zap.NewDevelopment()
			}
			return zap.NewProduction()
		},
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{configPath: cfg.ConfigPath, writer: cfg.OutputWriter, newLogger: cfg.NewLogger}

	root := &cobra.Command{
		Use:          "gateway",
		Short:        "Send email and email-to-SMS through pooled SMTP sessions",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = cmd.OutOrStdout()
			}
			if cmd.Name() == "version" {
				return nil
			}

			if rt.newLogger == nil {
				rt.newLogger = DefaultConfig().NewLogger
			}
			log, err := rt.newLogger(rt.debug)
			if err != nil {
				return err
			}
			rt.log = log

			cfg, err := config.Load(rt.configPath)
			if err != nil {
				return err
			}
			rt.cfg = cfg
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if rt.log != nil {
				_ = rt.log.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to config file (default $"+config.EnvConfigPath+" or "+config.DefaultConfigPath+")")
	root.PersistentFlags().BoolVar(&rt.debug, "debug", false, "Enable debug level logging")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewServeCommand(),
		NewCheckSenderCommand(),
		NewVersionCommand(),
	)

	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer == nil {
		return os.Stdout
	}
	return rt.writer
}
