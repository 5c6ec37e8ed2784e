// Package connsource holds the types shared by the connection sources of a
// database driver: physical connectors, endpoints, host roles, connection
// settings and transaction handles.
//
// The pools themselves live in the connection_pool package.
package connsource

import (
	"context"
	"net"
	"strconv"
	"time"
)

// Endpoint is a single database host.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Connector is one physical connection to a database host.
//
// A connector is created unopened by a Dialer and is owned by exactly one
// party at a time: a pool's idle set, a logical connection, or a pending
// enlistment list.
type Connector interface {
	Host() string
	Port() int
	Endpoint() Endpoint

	// Open establishes the physical connection. The deadline and the
	// cancellation of the attempt come from ctx.
	Open(ctx context.Context) error

	// Close releases the physical connection.
	Close() error

	// IsBroken reports whether the connection can no longer be used.
	IsBroken() bool

	// QueryClusterState asks the server for its current role.
	QueryClusterState(ctx context.Context) (ClusterState, error)
}

// Dialer creates unopened connectors to an endpoint. Implementations must
// be safe for concurrent use.
type Dialer interface {
	NewConnector(endpoint Endpoint, settings *Settings) Connector
}

// DialerFunc adapts an ordinary function to the Dialer interface.
type DialerFunc func(endpoint Endpoint, settings *Settings) Connector

func (f DialerFunc) NewConnector(endpoint Endpoint, settings *Settings) Connector {
	return f(endpoint, settings)
}

// ClusterStateCache keeps the last observed role of every known host.
// Implementations must be safe for concurrent use.
type ClusterStateCache interface {
	// GetState returns the cached role of host:port. An expired entry reads
	// as ClusterStateUnknown unless ignoreExpiration is set.
	GetState(host string, port int, ignoreExpiration bool) ClusterState

	// UpdateState records a role observed at timestamp, valid for
	// expiration. Observations older than the cached one are ignored.
	// The state in effect after the call is returned.
	UpdateState(host string, port int, state ClusterState, timestamp time.Time, expiration time.Duration) ClusterState
}
