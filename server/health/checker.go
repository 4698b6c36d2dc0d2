package health

import (
	"context"
	"sync"

	"google.golang.org/grpc/codes"
	grpcHealth "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// Checker answers gRPC health checks. The empty service name is the overall
// status of the engine; named services are registered through SetStatus.
type Checker struct {
	grpcHealth.UnimplementedHealthServer
	mx       sync.Mutex
	statuses map[string]grpcHealth.HealthCheckResponse_ServingStatus
}

// New returns a checker that reports NOT_SERVING until told otherwise.
func New() *Checker {
	return &Checker{
		statuses: map[string]grpcHealth.HealthCheckResponse_ServingStatus{
			"": grpcHealth.HealthCheckResponse_NOT_SERVING,
		},
	}
}

// SetStatus sets the status of service.
func (c *Checker) SetStatus(service string, st grpcHealth.HealthCheckResponse_ServingStatus) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.statuses[service] = st
}

// SetServing sets the status of every known service.
func (c *Checker) SetServing(serving bool) {
	st := grpcHealth.HealthCheckResponse_NOT_SERVING
	if serving {
		st = grpcHealth.HealthCheckResponse_SERVING
	}
	c.mx.Lock()
	defer c.mx.Unlock()
	for svc := range c.statuses {
		c.statuses[svc] = st
	}
}

// Check implements grpc_health_v1.HealthServer.
func (c *Checker) Check(_ context.Context, req *grpcHealth.HealthCheckRequest) (*grpcHealth.HealthCheckResponse, error) {
	c.mx.Lock()
	defer c.mx.Unlock()
	st, ok := c.statuses[req.GetService()]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", req.GetService())
	}
	return &grpcHealth.HealthCheckResponse{Status: st}, nil
}
