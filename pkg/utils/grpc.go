package utils

import (
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/srand/jolt/bridge/pkg/log"
)

type GRPCOptions struct {
	// The interval between PING frames.
	KeepAliveTime *time.Duration `mapstructure:"keep_alive_time"`
	// The timeout for a PING frame to be acknowledged.
	KeepAliveTimeout *time.Duration `mapstructure:"keep_alive_timeout"`
	// Send keepalive pings even if there are no active streams (client).
	KeepAliveWithoutCalls *bool `mapstructure:"keep_alive_without_calls"`
	// Are clients allowed to send keepalive pings without active streams (server).
	PermitKeepAliveWithoutCalls *bool `mapstructure:"permit_keep_alive_without_calls"`
	// Minimum allowed time between a server receiving successive ping frames without sending any data/header frame.
	PermitKeepAliveTime *time.Duration `mapstructure:"permit_keep_alive_time"`
	// Largest message received, objects included.
	MaxRecvMsgSize ByteSize `mapstructure:"max_recv_msg_size"`
	// Largest message sent, objects included.
	MaxSendMsgSize ByteSize `mapstructure:"max_send_msg_size"`
}

func (o *GRPCOptions) keepAliveSet() bool {
	return o.KeepAliveTime != nil || o.KeepAliveTimeout != nil
}

func (o *GRPCOptions) ToServerOptions() []grpc.ServerOption {
	var opts []grpc.ServerOption

	if o.keepAliveSet() {
		params := keepalive.ServerParameters{}
		if o.KeepAliveTime != nil {
			params.Time = *o.KeepAliveTime
		}
		if o.KeepAliveTimeout != nil {
			params.Timeout = *o.KeepAliveTimeout
		}
		opts = append(opts, grpc.KeepaliveParams(params))
	}

	if o.PermitKeepAliveWithoutCalls != nil || o.PermitKeepAliveTime != nil {
		policy := keepalive.EnforcementPolicy{}
		if o.PermitKeepAliveWithoutCalls != nil {
			policy.PermitWithoutStream = *o.PermitKeepAliveWithoutCalls
		}
		if o.PermitKeepAliveTime != nil {
			policy.MinTime = *o.PermitKeepAliveTime
		}
		opts = append(opts, grpc.KeepaliveEnforcementPolicy(policy))
	}

	if o.MaxRecvMsgSize > 0 {
		opts = append(opts, grpc.MaxRecvMsgSize(int(o.MaxRecvMsgSize)))
	}
	if o.MaxSendMsgSize > 0 {
		opts = append(opts, grpc.MaxSendMsgSize(int(o.MaxSendMsgSize)))
	}

	return opts
}

// Options for plaintext client connections to a worker.
func (o *GRPCOptions) ToDialOptions() []grpc.DialOption {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}

	if o.keepAliveSet() || o.KeepAliveWithoutCalls != nil {
		params := keepalive.ClientParameters{}
		if o.KeepAliveTime != nil {
			params.Time = *o.KeepAliveTime
		}
		if o.KeepAliveTimeout != nil {
			params.Timeout = *o.KeepAliveTimeout
		}
		if o.KeepAliveWithoutCalls != nil {
			params.PermitWithoutStream = *o.KeepAliveWithoutCalls
		}
		opts = append(opts, grpc.WithKeepaliveParams(params))
	}

	var call []grpc.CallOption
	if o.MaxRecvMsgSize > 0 {
		call = append(call, grpc.MaxCallRecvMsgSize(int(o.MaxRecvMsgSize)))
	}
	if o.MaxSendMsgSize > 0 {
		call = append(call, grpc.MaxCallSendMsgSize(int(o.MaxSendMsgSize)))
	}
	if len(call) > 0 {
		opts = append(opts, grpc.WithDefaultCallOptions(call...))
	}

	return opts
}

func (o *GRPCOptions) Log() {
	logged := false
	add := func(format string, value any) {
		logged = true
		log.Infof("    "+format, value)
	}

	log.Info("  gRPC options:")
	if o.KeepAliveTime != nil {
		add("keep_alive_time = %v", *o.KeepAliveTime)
	}
	if o.KeepAliveTimeout != nil {
		add("keep_alive_timeout = %v", *o.KeepAliveTimeout)
	}
	if o.KeepAliveWithoutCalls != nil {
		add("keep_alive_without_calls = %v", *o.KeepAliveWithoutCalls)
	}
	if o.PermitKeepAliveWithoutCalls != nil {
		add("permit_keep_alive_without_calls = %v", *o.PermitKeepAliveWithoutCalls)
	}
	if o.PermitKeepAliveTime != nil {
		add("permit_keep_alive_time = %v", *o.PermitKeepAliveTime)
	}
	if o.MaxRecvMsgSize > 0 {
		add("max_recv_msg_size = %v", o.MaxRecvMsgSize)
	}
	if o.MaxSendMsgSize > 0 {
		add("max_send_msg_size = %v", o.MaxSendMsgSize)
	}
	if !logged {
		log.Info("    defaults")
	}
}
