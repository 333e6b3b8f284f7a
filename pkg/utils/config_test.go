package utils

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Size    ByteSize      `mapstructure:"size"`
	Timeout time.Duration `mapstructure:"timeout"`
	Enabled bool          `mapstructure:"enabled"`
	Count   int           `mapstructure:"count"`
	Names   []string      `mapstructure:"names"`
	Grpc    GRPCOptions   `mapstructure:"grpc"`
}

func TestUnmarshalConfig(t *testing.T) {
	v := viper.New()
	v.Set("size", "100KiB")
	v.Set("timeout", "5s")
	v.Set("enabled", "yes")
	v.Set("count", "3")
	v.Set("names", "a,b")
	v.Set("grpc.keep_alive_time", "10s")
	v.Set("grpc.max_recv_msg_size", "4MiB")

	var config testConfig
	require.NoError(t, UnmarshalConfig(v, &config))

	assert.Equal(t, ByteSize(100<<10), config.Size)
	assert.Equal(t, 5*time.Second, config.Timeout)
	assert.True(t, config.Enabled)
	assert.Equal(t, 3, config.Count)
	assert.Equal(t, []string{"a", "b"}, config.Names)
	require.NotNil(t, config.Grpc.KeepAliveTime)
	assert.Equal(t, 10*time.Second, *config.Grpc.KeepAliveTime)
	assert.Nil(t, config.Grpc.KeepAliveTimeout)
	assert.Equal(t, ByteSize(4<<20), config.Grpc.MaxRecvMsgSize)

	assert.Len(t, config.Grpc.ToServerOptions(), 2)
	assert.Len(t, config.Grpc.ToDialOptions(), 3)
}

func TestUnmarshalConfigErrors(t *testing.T) {
	for key, value := range map[string]string{
		"size":    "lots",
		"enabled": "maybe",
		"count":   "many",
	} {
		v := viper.New()
		v.Set(key, value)

		var config testConfig
		assert.Error(t, UnmarshalConfig(v, &config), key)
	}
}
