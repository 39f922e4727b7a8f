package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/telekom/mail-sms-gateway/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show build information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.GetBuildInfo()

			rt, _ := getRuntime(cmd)
			writer := cmd.OutOrStdout()
			if rt != nil {
				writer = rt.Writer()
			}

			switch outputFormat {
			case "json":
				encoder := json.NewEncoder(writer)
				encoder.SetIndent("", "  ")
				return encoder.Encode(info)
			case "yaml":
				data, err := yaml.Marshal(info)
				if err != nil {
					return fmt.Errorf("failed to marshal to YAML: %w", err)
				}
				_, _ = fmt.Fprint(writer, string(data))
				return nil
			case "":
				_, _ = fmt.Fprintln(writer, info.String())
				return nil
			default:
				return fmt.Errorf("unsupported output format %q: use json or yaml", outputFormat)
			}
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "output", "o", "", "Output format: json, yaml")

	return cmd
}
