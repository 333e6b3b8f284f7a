package utils

import (
	"context"
	"os"
	"os/signal"
	"runtime"

	"github.com/srand/jolt/bridge/pkg/log"
)

// Stacks returns the stack traces of all goroutines.
func Stacks() string {
	buf := make([]byte, 1<<16)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return string(buf[:n])
		}
		buf = make([]byte, 2*len(buf))
	}
}

// DumpOnSignal logs the output of dump every time one of the signals is
// received, until ctx is done.
func DumpOnSignal(ctx context.Context, dump func() string, sigs ...os.Signal) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)

	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case sig := <-ch:
				log.Infof("Received %v:\n%s", sig, dump())
			case <-ctx.Done():
				return
			}
		}
	}()
}
