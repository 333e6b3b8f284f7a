package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/srand/jolt/bridge/pkg/buffer"
	"github.com/srand/jolt/bridge/pkg/log"
	"github.com/srand/jolt/bridge/pkg/task"
	"github.com/srand/jolt/bridge/pkg/worker"
)

var runCmd = &cobra.Command{
	Use:   "run <function> [args...]",
	Short: "Run a single task and print its results",
	Args:  cobra.MinimumNArgs(1),
	Run:   Run,
}

func init() {
	runCmd.Flags().IntP("returns", "n", 1, "Number of return values")
	runCmd.Flags().StringP("meta", "m", "", "Metadata of all arguments, such as application/json")
	runCmd.Flags().StringSlice("require", nil, "Required resource, name=quantity (repeatable)")
}

func Run(cmd *cobra.Command, args []string) {
	returns, _ := cmd.Flags().GetInt("returns")
	meta, _ := cmd.Flags().GetString("meta")
	required, _ := cmd.Flags().GetStringSlice("require")

	resources, err := task.ParseResources(required)
	if err != nil {
		log.Fatal(err)
	}

	config, err := LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	w, err := worker.NewWorker(config)
	if err != nil {
		log.Fatal(err)
	}
	w.Start()
	defer w.Stop()

	var metadata []byte
	if meta != "" {
		metadata = []byte(meta)
	}

	values := make([]buffer.DataValue, len(args)-1)
	for i, arg := range args[1:] {
		values[i] = buffer.BorrowValue([]byte(arg), metadata)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	results, err := w.Call(ctx, args[0], values, returns, resources)
	if err != nil {
		log.Fatal(err)
	}

	for _, result := range results {
		fmt.Println(string(result.Data.Bytes()))
		result.Release()
	}
}
