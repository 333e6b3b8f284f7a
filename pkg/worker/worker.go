// Package worker assembles a single node worker: object store, local
// runtime, bridge and Go function registry, served over HTTP and gRPC.
package worker

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/srand/jolt/bridge/pkg/bridge"
	"github.com/srand/jolt/bridge/pkg/buffer"
	"github.com/srand/jolt/bridge/pkg/codec"
	"github.com/srand/jolt/bridge/pkg/executor"
	"github.com/srand/jolt/bridge/pkg/ids"
	"github.com/srand/jolt/bridge/pkg/local"
	"github.com/srand/jolt/bridge/pkg/log"
	"github.com/srand/jolt/bridge/pkg/store"
	"github.com/srand/jolt/bridge/pkg/task"
	"github.com/srand/jolt/bridge/pkg/utils"
)

// Name under which the worker reports its health.
const HealthService = "jolt.bridge"

type Worker struct {
	config    *WorkerConfig
	store     *store.MemoryStore
	runtime   *local.CoreWorker
	bridge    *bridge.Bridge
	functions *executor.Registry
	codecs    *codec.Registry
	health    *health.Server
}

func NewWorker(config *WorkerConfig) (*Worker, error) {
	node := local.NewNodeWithDefaults()
	if err := node.AddResources(config.Resources); err != nil {
		return nil, err
	}

	spill, err := newSpillCache(config)
	if err != nil {
		return nil, err
	}

	objects := store.NewMemoryStore(nil, int64(config.StoreMaxSize), spill)

	runtime := local.NewCoreWorker(objects, local.Config{
		JobID:           ids.NewJobID(config.JobID),
		IP:              config.IP,
		Port:            config.Port,
		Node:            node,
		InlineThreshold: int64(config.InlineThreshold),
		Threads:         config.ThreadCount,
	})

	w := &Worker{
		config:    config,
		store:     objects,
		runtime:   runtime,
		functions: executor.NewRegistry(),
		codecs:    codec.NewRegistry(),
		health:    health.NewServer(),
	}

	w.functions.Register("sum", executor.Typed(w.codecs, codec.ContentTypeJSON, sum))

	w.bridge = bridge.New(runtime, bridge.WithExecutor(w.functions))
	runtime.SetTaskHandler(w.bridge.Handler())

	log.Info("Node:")
	for _, line := range strings.Split(strings.TrimSpace(node.String()), "\n") {
		log.Infof("  %s", line)
	}

	return w, nil
}

func newSpillCache(config *WorkerConfig) (*store.SpillCache, error) {
	if config.SpillPath == "" {
		return nil, nil
	}

	log.Info("Spilling objects to", config.SpillPath)
	fs, err := utils.NewFs(config.SpillPath)
	if err != nil {
		return nil, err
	}
	return store.NewSpillCache(fs, config.spill())
}

// Adds up all numbers of all arguments.
func sum(ctx context.Context, args [][]float64) (float64, error) {
	var total float64
	for _, arg := range args {
		for _, n := range arg {
			total += n
		}
	}
	return total, nil
}

func (w *Worker) Bridge() *bridge.Bridge {
	return w.bridge
}

func (w *Worker) Functions() *executor.Registry {
	return w.functions
}

func (w *Worker) Codecs() *codec.Registry {
	return w.codecs
}

// Start executing tasks.
func (w *Worker) Start() {
	w.runtime.Start()
	w.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
}

// Stop executing tasks.
func (w *Worker) Stop() {
	w.health.Shutdown()
	w.runtime.Stop()
	w.bridge.Close()
}

// Serve HTTP and gRPC on all configured addresses until ctx is done.
func (w *Worker) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	handler := NewHttpHandler(w)
	for _, uri := range w.config.ListenHttp {
		address, err := utils.ParseHttpUrl(uri)
		if err != nil {
			return err
		}

		server := &http.Server{Addr: address, Handler: handler}
		g.Go(func() error {
			log.Info("Listening on", address)
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return server.Shutdown(context.Background())
		})
	}

	for _, uri := range w.config.ListenGrpc {
		address, err := utils.ParseGrpcUrl(uri)
		if err != nil {
			return err
		}

		socket, err := net.Listen("tcp", address)
		if err != nil {
			return err
		}

		server := grpc.NewServer(w.config.Grpc.ToServerOptions()...)
		healthpb.RegisterHealthServer(server, w.health)

		g.Go(func() error {
			log.Info("Listening on", address, "(gRPC)")
			return server.Serve(socket)
		})
		g.Go(func() error {
			<-ctx.Done()
			server.GracefulStop()
			return nil
		})
	}

	return g.Wait()
}

// Call submits a task with by-value arguments, waits for all of its returns
// and returns their values. The values must be released by the caller.
func (w *Worker) Call(ctx context.Context, function string, args []buffer.DataValue, numReturns int, resources task.Resources) ([]buffer.DataValue, error) {
	taskArgs := make([]task.Arg, len(args))
	for i, arg := range args {
		taskArgs[i] = task.ByValue(arg)
	}

	returnIDs, err := w.bridge.Submit(function, taskArgs, numReturns, resources)
	if err != nil {
		return nil, err
	}

	// The caller of Submit holds one reference to every return.
	defer func() {
		for _, id := range returnIDs {
			if err := w.bridge.RemoveLocalReference(id); err != nil {
				log.Debugf("Releasing %s: %v", id.Hex(), err)
			}
		}
	}()

	return w.bridge.Get(ctx, returnIDs, -1)
}

// Statistics of all components.
type Stats struct {
	Bridge  bridge.Stats
	Runtime local.Stats
}

func (w *Worker) Statistics() Stats {
	return Stats{
		Bridge:  w.bridge.Statistics(),
		Runtime: w.runtime.Statistics(),
	}
}
