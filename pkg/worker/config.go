package worker

import (
	"errors"
	"fmt"

	"github.com/srand/jolt/bridge/pkg/log"
	"github.com/srand/jolt/bridge/pkg/store"
	"github.com/srand/jolt/bridge/pkg/task"
	"github.com/srand/jolt/bridge/pkg/utils"
)

type WorkerConfig struct {
	Grpc utils.GRPCOptions `mapstructure:"grpc"`

	// Log sink and level.
	Logging log.Config `mapstructure:"log"`

	// Job that objects and tasks created by this worker belong to.
	JobID uint32 `mapstructure:"job_id"`

	// Address other workers use to reach this one.
	IP   string `mapstructure:"ip"`
	Port int32  `mapstructure:"port"`

	// Maximum size of objects kept in memory. Zero means unlimited.
	StoreMaxSize utils.ByteSize `mapstructure:"store_max_size"`

	// Directory objects are spilled to when the store is full,
	// "memory" to spill into a compressed in-memory file system,
	// or empty to fail writes instead.
	SpillPath string `mapstructure:"spill_path"`

	// Maximum size of spilled objects after compression.
	// Objects that do not fit stay in memory.
	SpillMaxSize utils.ByteSize `mapstructure:"spill_max_size"`

	// Combined size of a task's return values that are inlined.
	InlineThreshold utils.ByteSize `mapstructure:"inline_threshold"`

	// Number of tasks executed concurrently. Zero uses all CPUs.
	ThreadCount int `mapstructure:"threads"`

	// Addresses to listen on for HTTP.
	// Ex: tcp://127.0.0.1:8080
	ListenHttp []string `mapstructure:"listen_http"`

	// Addresses to listen on for gRPC health checks.
	// Ex: tcp://127.0.0.1:9090
	ListenGrpc []string `mapstructure:"listen_grpc"`

	// Additional node resources, "name=quantity".
	Resources []string `mapstructure:"resources"`
}

func NewWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		JobID:           1,
		IP:              "127.0.0.1",
		SpillMaxSize:    utils.ByteSize(1 << 30),
		InlineThreshold: utils.ByteSize(100 << 10),
	}
}

// Checks if the worker configuration is valid.
func (c *WorkerConfig) Validate() error {
	if c.JobID == 0 {
		return errors.New("The job id must be greater than zero")
	}

	if c.ThreadCount < 0 {
		return errors.New("The thread count must not be negative")
	}

	if c.StoreMaxSize < 0 {
		return errors.New("The store size must not be negative")
	}

	if c.InlineThreshold < 0 {
		return errors.New("The inline threshold must not be negative")
	}

	if c.SpillPath != "" && c.SpillMaxSize <= 0 {
		return errors.New("The spill size must be greater than zero")
	}

	if c.Logging.Level != "" && !log.ValidLogLevel(log.LogLevel(c.Logging.Level)) {
		return fmt.Errorf("Invalid log level: %s", c.Logging.Level)
	}

	for _, uri := range c.ListenHttp {
		if _, err := utils.ParseHttpUrl(uri); err != nil {
			return fmt.Errorf("Invalid HTTP listen address %s: %v", uri, err)
		}
	}

	for _, uri := range c.ListenGrpc {
		if _, err := utils.ParseGrpcUrl(uri); err != nil {
			return fmt.Errorf("Invalid gRPC listen address %s: %v", uri, err)
		}
	}

	if _, err := task.ParseResources(c.Resources); err != nil {
		return err
	}

	return nil
}

// Spill tier settings.
func (c *WorkerConfig) spill() store.SpillConfig {
	return spillConfig{c}
}

type spillConfig struct {
	c *WorkerConfig
}

func (s spillConfig) MaxSize() int64 {
	return int64(s.c.SpillMaxSize)
}

func (c *WorkerConfig) Log() {
	log.Info("Worker configuration:")
	log.Infof("  job_id = %d", c.JobID)
	log.Infof("  ip = %s", c.IP)
	log.Infof("  port = %d", c.Port)
	log.Infof("  store_max_size = %s", c.StoreMaxSize)
	log.Infof("  spill_path = %s", c.SpillPath)
	log.Infof("  spill_max_size = %s", c.SpillMaxSize)
	log.Infof("  inline_threshold = %s", c.InlineThreshold)
	log.Infof("  threads = %d", c.ThreadCount)
	log.Infof("  listen_http = %v", c.ListenHttp)
	log.Infof("  listen_grpc = %v", c.ListenGrpc)
	log.Infof("  resources = %v", c.Resources)
	c.Grpc.Log()
}
