package app

import (
	"context"
	"flag"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/component-base/cli/globalflag"

	"github.com/autopeer-io/velopark/cmd/velopark/app/options"
)

const (
	commandName = "velopark"
	commandDesc = `Velopark orchestrates bike and scooter rides across parking lots. It embeds
the MQTT bus the onboard devices talk to, bills rides and drives the vehicle
locks over the bus.`
)

func NewVeloparkCommand(ctx context.Context) *cobra.Command {
	opts := options.NewVeloparkOptions()
	loader := newConfigLoader()

	cmd := &cobra.Command{
		Use:           commandName,
		Short:         "Ride orchestration over an MQTT device bus",
		Long:          commandDesc,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	fs := cmd.PersistentFlags()
	fs.StringVar(&loader.path, "config", "", "Path to a YAML or JSON configuration file. Environment variables prefixed with VELOPARK_ override it.")
	namedfs := opts.Flags()
	globalflag.AddGlobalFlags(namedfs.FlagSet("global"), cmd.Name())
	for _, f := range namedfs.FlagSets {
		fs.AddFlagSet(f)
	}

	cmd.AddCommand(
		newServeCommand(ctx, opts, loader),
		newSimulateCommand(ctx, opts, loader),
		newHealthCommand(ctx),
	)
	return cmd
}
