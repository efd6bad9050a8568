package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/autopeer-io/velopark/cmd/velopark/app/options"
	"github.com/autopeer-io/velopark/pkg/log"
)

func newServeCommand(ctx context.Context, opts *options.VeloparkOptions, loader *configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator with its embedded bus until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loader.load(cmd, opts); err != nil {
				return err
			}
			log.Init(opts.LogOptions)
			defer func() { _ = log.Sync() }()
			loader.watchLogLevel()

			cfg, err := opts.Config()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			server, err := cfg.NewServer(ctx)
			if err != nil {
				log.Error(err, "failed to create velopark server")
				return err
			}

			return server.Run(ctx)
		},
	}
}
