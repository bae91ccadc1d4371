package registry

import (
	"context"
	"net/url"
)

// ServiceInstance is one reachable server for a service.
type ServiceInstance struct {
	Addr    string // host:port serving h2c
	Weight  int    // Weight for load balancing
	Version string
}

// Endpoint returns the target URI of serviceMethod on this instance.
func (i ServiceInstance) Endpoint(serviceMethod string) *url.URL {
	return &url.URL{
		Scheme: "http",
		Host:   i.Addr,
		Path:   "/" + serviceMethod,
	}
}

type Registry interface {
	Register(serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(serviceName string, addr string) error
	Discover(serviceName string) ([]ServiceInstance, error)
	// Watch emits the instance list after every change. The channel is
	// closed once ctx is done.
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
}
