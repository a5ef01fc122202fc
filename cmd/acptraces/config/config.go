// Package configcmder provides the config command for managing persistent
// acp-traces configuration stored in the .acptraces/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent acp-traces configuration.

Configuration is stored as config.toml in the .acptraces/ directory and
provides default values for command flags. CLI flags always take precedence
over config file values, and ACP_TRACES_* environment variables sit between
the two.

Keys use dotted notation matching the TOML section structure:
  otlp.endpoint, otlp.protocol, otlp.service_name, otlp.record_content

Use subcommands to get, set, or list configuration values:
  acp-traces config set <key> <value>    Set a configuration value
  acp-traces config get <key>            Get a configuration value
  acp-traces config list                 List all configuration values

Examples:
  acp-traces config set otlp.endpoint http://collector:4317
  acp-traces config set otlp.protocol http
  acp-traces config get otlp.service_name
  acp-traces config list`

const configShortDesc string = "Manage persistent acp-traces configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}
