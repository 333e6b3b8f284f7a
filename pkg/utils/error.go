package utils

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrBadRequest    = fmt.Errorf("Bad request")
	ErrNoReference   = fmt.Errorf("No local reference held")
	ErrNotFound      = fmt.Errorf("Not found")
	ErrParse         = fmt.Errorf("Parse error")
	ErrReleased      = fmt.Errorf("Already released")
	ErrStoreFailure  = fmt.Errorf("Object store failure")
	ErrTaskFailed    = fmt.Errorf("Task failed")
	ErrTimeout       = fmt.Errorf("Timed out waiting for objects")
	ErrUnschedulable = fmt.Errorf("Task resource requirements cannot be satisfied")
)

type DetailedError interface {
	error
	Details() string
}

// Convert errors to errors with grpc status codes.
// Errors that already carry a status are returned unchanged.
func GrpcError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, ErrTimeout):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrStoreFailure):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, ErrUnschedulable):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrParse):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ErrNoReference), errors.Is(err, ErrReleased):
		return status.Error(codes.FailedPrecondition, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
