package app

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/autopeer-io/velopark/internal/server/grpc"
)

func newHealthCommand(ctx context.Context) *cobra.Command {
	var (
		addr    = "127.0.0.1:8091"
		service = grpc.ServiceName
		timeout = 5 * time.Second
	)

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query the gRPC health service of a running orchestrator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			status, err := grpc.Check(ctx, addr, service)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status)
			if status != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("%s is %s", addr, status)
			}
			return nil
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&addr, "addr", addr, "Address of the gRPC health service.")
	fs.StringVar(&service, "service", service, "Service to check. Empty checks the whole server.")
	fs.DurationVar(&timeout, "timeout", timeout, "Deadline of the check.")
	return cmd
}
