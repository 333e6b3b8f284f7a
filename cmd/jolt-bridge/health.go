package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/srand/jolt/bridge/pkg/log"
	"github.com/srand/jolt/bridge/pkg/utils"
	"github.com/srand/jolt/bridge/pkg/worker"
)

var healthCmd = &cobra.Command{
	Use:   "health [address]",
	Short: "Check the health of a served worker over gRPC",
	Long: `Check the health of a served worker over gRPC.

The address defaults to localhost:9090. Exits with a non-zero status
unless the worker is serving.`,
	Args: cobra.MaximumNArgs(1),
	Run:  Health,
}

func init() {
	healthCmd.Flags().Duration("timeout", 5*time.Second, "Time to wait for a response")
}

func Health(cmd *cobra.Command, args []string) {
	timeout, _ := cmd.Flags().GetDuration("timeout")

	config, err := LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	target := ""
	if len(args) > 0 {
		target = args[0]
	}
	address, err := utils.ParseGrpcTarget(target)
	if err != nil {
		log.Fatal(err)
	}

	conn, err := grpc.NewClient(address, config.Grpc.ToDialOptions()...)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	response, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{
		Service: worker.HealthService,
	})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(response.GetStatus())
	if response.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		os.Exit(1)
	}
}
