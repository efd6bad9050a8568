package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/autopeer-io/velopark/cmd/velopark/app/options"
	"github.com/autopeer-io/velopark/internal/device"
	"github.com/autopeer-io/velopark/internal/registry"
	"github.com/autopeer-io/velopark/internal/velopark"
	"github.com/autopeer-io/velopark/pkg/log"
)

const connectTimeout = 30 * time.Second

type simulateConfig struct {
	Sim *options.SimulateOptions `mapstructure:"sim"`
}

func newSimulateCommand(ctx context.Context, opts *options.VeloparkOptions, loader *configLoader) *cobra.Command {
	simOpts := options.NewSimulateOptions()

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Seed a fleet of simulated devices, drive rides and print a report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loader.load(cmd, opts); err != nil {
				return err
			}
			if err := loader.load(cmd, &simulateConfig{Sim: simOpts}); err != nil {
				return err
			}
			log.Init(opts.LogOptions)
			defer func() { _ = log.Sync() }()

			if err := simOpts.Validate(); err != nil {
				return err
			}
			cfg, err := opts.Config()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			return simulate(ctx, cmd.OutOrStdout(), cfg, simOpts)
		},
	}

	fs := cmd.Flags()
	for _, f := range simOpts.Flags().FlagSets {
		fs.AddFlagSet(f)
	}
	return cmd
}

func simulate(ctx context.Context, out io.Writer, cfg *velopark.Config, simOpts *options.SimulateOptions) error {
	fleet, err := simOpts.Fleet()
	if err != nil {
		return err
	}

	server, err := cfg.NewServer(ctx)
	if err != nil {
		return err
	}
	if err := server.Start(ctx); err != nil {
		return err
	}

	serveCtx, stop := context.WithCancel(ctx)
	defer stop()
	var g errgroup.Group
	g.Go(func() error { return server.Serve(serveCtx) })

	report, states, stats, err := drive(ctx, server, fleet, simOpts.Simulation())
	stop()
	if werr := g.Wait(); err == nil {
		err = werr
	}
	if err != nil {
		return err
	}

	printReport(out, report, stats)
	printFleet(out, states)
	return nil
}

func drive(ctx context.Context, server *velopark.Server, fleet velopark.Fleet, sim velopark.Simulation) (velopark.Report, []device.State, registry.Stats, error) {
	if err := server.Seed(ctx, fleet); err != nil {
		return velopark.Report{}, nil, registry.Stats{}, err
	}

	err := wait.PollUntilContextTimeout(ctx, 50*time.Millisecond, connectTimeout, true, func(ctx context.Context) (bool, error) {
		s, err := server.Registry().Stats(ctx)
		if err != nil {
			return false, err
		}
		return s.Connected == fleet.Vehicles, nil
	})
	if err != nil {
		return velopark.Report{}, nil, registry.Stats{}, fmt.Errorf("device agents did not connect: %w", err)
	}

	report, err := server.Simulate(ctx, sim)
	if err != nil {
		return report, nil, registry.Stats{}, err
	}

	states, err := server.Registry().Snapshot(ctx)
	if err != nil {
		return report, nil, registry.Stats{}, err
	}
	stats, err := server.Registry().Stats(ctx)
	return report, states, stats, err
}

func printReport(out io.Writer, r velopark.Report, s registry.Stats) {
	table := uitable.New()
	table.AddRow("RIDES STARTED:", r.Started)
	table.AddRow("RIDES ENDED:", r.Ended)
	table.AddRow("REJECTED:", r.Rejected)
	table.AddRow("MAINTENANCE:", r.Maintenance)
	table.AddRow("REVENUE:", r.Revenue.StringFixed(2))
	table.AddRow("ELAPSED:", r.Elapsed.Round(time.Millisecond))
	table.AddRow("")
	table.AddRow("AGENTS:", s.Total)
	table.AddRow("CONNECTION RATE:", fmt.Sprintf("%.0f%%", s.ConnectionRate()*100))
	table.AddRow("FAULTED:", s.Faulted)
	table.AddRow("LOW BATTERY:", s.LowBattery)
	table.AddRow("AVERAGE BATTERY:", fmt.Sprintf("%.1f%%", s.AverageBattery))
	fmt.Fprintln(out, table)
	fmt.Fprintln(out)
}

func printFleet(out io.Writer, states []device.State) {
	table := uitable.New()
	table.MaxColWidth = 40
	table.AddRow("VEHICLE", "LOT", "CONNECTION", "LOCK", "BATTERY", "RIDE")
	for _, s := range states {
		battery := "-"
		if level := s.BatteryLevel(); level != nil {
			battery = fmt.Sprintf("%.1f%%", *level)
		}
		ride := s.RideID
		if ride == "" {
			ride = "-"
		}
		table.AddRow(s.VehicleID, s.LotID, s.Conn, s.Lock, battery, ride)
	}
	fmt.Fprintln(out, table)
}
