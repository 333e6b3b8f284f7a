//go:build !linux

package main

import (
	"context"

	"github.com/srand/jolt/bridge/pkg/worker"
)

func dumpOnSignal(ctx context.Context, w *worker.Worker) {}
