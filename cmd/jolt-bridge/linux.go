//go:build linux

package main

import (
	"context"
	"fmt"
	"syscall"

	"github.com/srand/jolt/bridge/pkg/log"
	"github.com/srand/jolt/bridge/pkg/utils"
	"github.com/srand/jolt/bridge/pkg/worker"
)

func init() {
	log.Debug("Disabling transparent huge pages")
	if err := utils.DisableTHP(); err != nil {
		log.Warn("Failed to disable transparent huge pages:", err)
	}
}

// SIGUSR1 dumps worker statistics and goroutine stacks to the log.
func dumpOnSignal(ctx context.Context, w *worker.Worker) {
	utils.DumpOnSignal(ctx, func() string {
		return fmt.Sprintf("%+v\n\n%s", w.Statistics(), utils.Stacks())
	}, syscall.SIGUSR1)
}
