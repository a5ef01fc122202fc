// Package acptracescmder provides the acp-traces root command.
package acptracescmder

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	configcmder "github.com/papercomputeco/acptraces/cmd/acptraces/config"
	versioncmder "github.com/papercomputeco/acptraces/cmd/version"
	"github.com/papercomputeco/acptraces/interceptor"
	"github.com/papercomputeco/acptraces/pkg/config"
	"github.com/papercomputeco/acptraces/pkg/logger"
	"github.com/papercomputeco/acptraces/pkg/telemetry"
	"github.com/papercomputeco/acptraces/pkg/utils"
)

const acpTracesLongDesc string = `acp-traces is an OpenTelemetry tracing proxy for the Agent Client Protocol.

Wrap any ACP-speaking agent command and every JSON-RPC frame between the
editor and the agent is forwarded unchanged while prompt turns, streaming
output and tool invocations are emitted as GenAI semantic convention
traces and metrics over OTLP.

Examples:
  acp-traces -- my-agent --acp
  acp-traces --otlp-endpoint http://localhost:4317 -- my-agent
  acp-traces --record-content -vv -- my-agent`

const acpTracesShortDesc string = "OTel tracing proxy for the Agent Client Protocol"

// errUsage marks CLI misuse so Execute can map it to exit code 2.
var errUsage = errors.New("invalid usage")

type rootCommander struct {
	otlpEndpoint  string
	otlpProtocol  string
	serviceName   string
	recordContent bool
	verbosity     int

	// exitCode carries the child's exit status out of RunE, which can only
	// return an error.
	exitCode int

	logger *zap.Logger
}

// NewAcpTracesCmd returns the fully wired root command.
func NewAcpTracesCmd() *cobra.Command {
	cmd, _ := newRootCmd()
	return cmd
}

// Execute runs the CLI and returns the process exit code: the agent's own
// code on a normal run, 1 on a fatal error, 2 on malformed usage.
func Execute() int {
	cmd, cmder := newRootCmd()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, errUsage) {
			return 2
		}
		return 1
	}

	return cmder.exitCode
}

func newRootCmd() (*cobra.Command, *rootCommander) {
	cmder := &rootCommander{}

	cmd := &cobra.Command{
		Use:     "acp-traces [flags] -- <command> [args...]",
		Short:   acpTracesShortDesc,
		Long:    acpTracesLongDesc,
		Version: utils.Version,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("%w: an agent command is required after --", errUsage)
			}
			return nil
		},
		// Usage spam on agent failures would pollute stderr shared with the
		// agent's own output.
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			if !cmd.Flags().Changed("otlp-endpoint") {
				cmder.otlpEndpoint = v.GetString("otlp.endpoint")
			}
			if !cmd.Flags().Changed("otlp-protocol") {
				cmder.otlpProtocol = v.GetString("otlp.protocol")
			}
			if !cmd.Flags().Changed("service-name") {
				cmder.serviceName = v.GetString("otlp.service_name")
			}
			if !cmd.Flags().Changed("record-content") {
				cmder.recordContent = v.GetBool("otlp.record_content")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), args)
		},
	}

	// Everything after the agent command belongs to the agent.
	cmd.Flags().SetInterspersed(false)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errUsage, err)
	})

	defaults := config.NewDefaultConfig()
	cmd.Flags().StringVar(&cmder.otlpEndpoint, "otlp-endpoint", defaults.OTLP.Endpoint, "OTLP exporter endpoint")
	cmd.Flags().StringVar(&cmder.otlpProtocol, "otlp-protocol", defaults.OTLP.Protocol, "OTLP transport (grpc or http)")
	cmd.Flags().StringVar(&cmder.serviceName, "service-name", defaults.OTLP.ServiceName, "service.name resource attribute")
	cmd.Flags().BoolVar(&cmder.recordContent, "record-content", defaults.OTLP.RecordContent, "Record message content attributes (contains sensitive data)")
	cmd.Flags().CountVarP(&cmder.verbosity, "verbose", "v", "Increase stderr log verbosity (repeat for more: -v, -vv)")

	cmd.PersistentFlags().String("config-dir", "", "Override the .acptraces config directory")

	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd, cmder
}

func (c *rootCommander) run(ctx context.Context, command []string) error {
	c.logger = logger.NewLogger(c.verbosity)
	defer func() { _ = c.logger.Sync() }()

	if c.otlpProtocol != config.ProtocolGRPC && c.otlpProtocol != config.ProtocolHTTP {
		return fmt.Errorf("%w: unknown --otlp-protocol %q", errUsage, c.otlpProtocol)
	}

	exporter, err := telemetry.New(ctx, telemetry.Config{
		Endpoint:    c.otlpEndpoint,
		Protocol:    c.otlpProtocol,
		ServiceName: c.serviceName,
	}, c.logger)
	if err != nil {
		return fmt.Errorf("creating telemetry exporter: %w", err)
	}

	c.logger.Info("starting interceptor",
		zap.String("otlp_endpoint", c.otlpEndpoint),
		zap.String("otlp_protocol", c.otlpProtocol),
		zap.String("service_name", c.serviceName),
		zap.Bool("record_content", c.recordContent),
	)

	ic := interceptor.New(command, exporter, c.recordContent, c.logger)
	code, err := ic.Run(ctx)
	if err != nil {
		return err
	}

	c.exitCode = code
	return nil
}
