package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/srand/jolt/bridge/pkg/log"
	"github.com/srand/jolt/bridge/pkg/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Execute tasks and serve objects until terminated",
	Run:   Serve,
}

func init() {
	serveCmd.Flags().StringSliceP("listen-http", "l", []string{"tcp://:8080"}, "Address and port to listen on for HTTP (repeatable)")
	serveCmd.Flags().StringSliceP("listen-grpc", "g", nil, "Address and port to listen on for gRPC health checks (repeatable)")

	viper.BindPFlag("listen_http", serveCmd.Flags().Lookup("listen-http"))
	viper.BindPFlag("listen_grpc", serveCmd.Flags().Lookup("listen-grpc"))
}

func Serve(cmd *cobra.Command, args []string) {
	config, err := LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	config.Log()

	w, err := worker.NewWorker(config)
	if err != nil {
		log.Fatal(err)
	}

	w.Start()
	defer w.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dumpOnSignal(ctx, w)

	if err := w.Serve(ctx); err != nil {
		log.Fatal(err)
	}
	log.Info("Terminating")
}
