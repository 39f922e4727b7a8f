package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/telekom/mail-sms-gateway/pkg/smtppool"
	"github.com/telekom/mail-sms-gateway/pkg/store"
)

// EnvSenderPassword supplies --password when the flag is omitted.
const EnvSenderPassword = "GATEWAY_SENDER_PASSWORD"

func NewCheckSenderCommand() *cobra.Command {
	var (
		address  string
		password string
		host     string
		port     int
	)

	cmd := &cobra.Command{
		Use:   "check-sender",
		Short: "Verify sender credentials against an SMTP host without storing them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if password == "" {
				password = os.Getenv(EnvSenderPassword)
			}
			if password == "" {
				return fmt.Errorf("--password or %s is required", EnvSenderPassword)
			}
			if port == 0 {
				port = rt.cfg.SMTP.DefaultPort
			}

			log := rt.log.Sugar()
			sender := store.Sender{Address: address, Secret: password, Host: host, Port: port}
			ctx, cancel := context.WithTimeout(cmd.Context(), rt.cfg.SMTP.DialTimeoutDuration(log)+rt.cfg.SMTP.CommandTimeoutDuration(log))
			defer cancel()

			if err := smtppool.Verify(ctx, NewDialer(rt.cfg.SMTP, log), sender); err != nil {
				return fmt.Errorf("verifying %s: %w", address, err)
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Sender %s verified against %s:%d\n", address, host, port)
			return nil
		},
	}

	cmd.Flags().StringVar(&address, "email", "", "Sender address used as SMTP login")
	cmd.Flags().StringVar(&password, "password", "", "SMTP password (default $"+EnvSenderPassword+")")
	cmd.Flags().StringVar(&host, "host", "", "SMTP host")
	cmd.Flags().IntVar(&port, "port", 0, "SMTP port (default smtp.defaultPort)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("host")

	return cmd
}
