package main

import (
	"github.com/spf13/viper"

	"github.com/srand/jolt/bridge/pkg/log"
	"github.com/srand/jolt/bridge/pkg/utils"
	"github.com/srand/jolt/bridge/pkg/worker"
)

// Loads the worker configuration from file, environment and flags,
// and applies its log settings.
func LoadConfig() (*worker.WorkerConfig, error) {
	config := worker.NewWorkerConfig()

	if err := utils.UnmarshalConfig(viper.GetViper(), config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.Logging.Level != "" || config.Logging.File != "" || config.Logging.Format != "" {
		if err := log.Setup(config.Logging); err != nil {
			return nil, err
		}
	}

	return config, nil
}
