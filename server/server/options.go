package server

import (
	"net"

	"github.com/pdvrieze/ProcessManager-sub007/server/services/dispatch"
)

// Option represents a process engine server option.
type Option interface {
	configure(server *Server)
}

// EphemeralStorage instructs the server to use memory rather than disk for
// storage, whatever the settings say. This is not recommended for production use.
func EphemeralStorage() EphemeralStorageOption {
	return EphemeralStorageOption{}
}

type EphemeralStorageOption struct{}

func (o EphemeralStorageOption) configure(server *Server) {
	server.ephemeralStorage = true
}

// Transport registers t for destinations with the given URL scheme, next to
// the built in http, https and nats transports.
func Transport(scheme string, t dispatch.Transport) TransportOption {
	return TransportOption{scheme: scheme, transport: t}
}

type TransportOption struct {
	scheme    string
	transport dispatch.Transport
}

func (o TransportOption) configure(server *Server) {
	server.transports[o.scheme] = o.transport
}

// Listener makes the health endpoint serve on lis instead of the configured port.
func Listener(lis net.Listener) ListenerOption {
	return ListenerOption{lis: lis}
}

type ListenerOption struct{ lis net.Listener }

func (o ListenerOption) configure(server *Server) {
	server.listener = o.lis
}
