// Package test_helpers provides an in-memory cluster of database instances
// for tests and examples: instances answer with a role, can be stopped and
// restarted, and can be made to fail opens or role queries.
package test_helpers

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	connsource "github.com/connsource/go-connsource"
)

var ErrConnectionRefused = errors.New("connection refused")

type StartOpts struct {
	// Listen is the host:port the instance answers on.
	Listen string

	// Role is the role reported by the instance.
	Role connsource.ClusterState

	// OpenDelay is the time every open takes.
	OpenDelay time.Duration
}

// Instance is a fake database instance.
type Instance struct {
	Opts     StartOpts
	Endpoint connsource.Endpoint

	mutex      sync.Mutex
	role       connsource.ClusterState
	running    bool
	epoch      int
	openErr    error
	queryErr   error
	openDelay  time.Duration
	queryDelay time.Duration

	opens   atomic.Int32
	closes  atomic.Int32
	queries atomic.Int32
}

// StartInstance starts an instance listening on opts.Listen.
func StartInstance(opts StartOpts) (*Instance, error) {
	host, portStr, err := net.SplitHostPort(opts.Listen)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in %q", opts.Listen)
	}

	return &Instance{
		Opts:      opts,
		Endpoint:  connsource.Endpoint{Host: host, Port: port},
		role:      opts.Role,
		running:   true,
		openDelay: opts.OpenDelay,
	}, nil
}

// StopInstance stops inst. Opens are refused and existing connectors break.
func StopInstance(inst *Instance) {
	inst.mutex.Lock()
	defer inst.mutex.Unlock()

	inst.running = false
	inst.epoch++
}

// RestartInstance starts a stopped instance again with its StartOpts role.
func RestartInstance(inst *Instance) error {
	inst.mutex.Lock()
	defer inst.mutex.Unlock()

	if inst.running {
		return fmt.Errorf("instance %s is running", inst.Endpoint)
	}
	inst.running = true
	inst.role = inst.Opts.Role
	return nil
}

func (inst *Instance) Role() connsource.ClusterState {
	inst.mutex.Lock()
	defer inst.mutex.Unlock()
	return inst.role
}

// SetOpenError makes every following open fail with err; nil restores
// normal opens.
func (inst *Instance) SetOpenError(err error) {
	inst.mutex.Lock()
	defer inst.mutex.Unlock()
	inst.openErr = err
}

// SetQueryError makes every following role query fail with err.
func (inst *Instance) SetQueryError(err error) {
	inst.mutex.Lock()
	defer inst.mutex.Unlock()
	inst.queryErr = err
}

// SetOpenDelay makes every following open take d.
func (inst *Instance) SetOpenDelay(d time.Duration) {
	inst.mutex.Lock()
	defer inst.mutex.Unlock()
	inst.openDelay = d
}

// SetQueryDelay makes every following role query take d, or until its ctx
// is done.
func (inst *Instance) SetQueryDelay(d time.Duration) {
	inst.mutex.Lock()
	defer inst.mutex.Unlock()
	inst.queryDelay = d
}

func (inst *Instance) delays() (open, query time.Duration) {
	inst.mutex.Lock()
	defer inst.mutex.Unlock()
	return inst.openDelay, inst.queryDelay
}

// Opens returns the number of successful opens.
func (inst *Instance) Opens() int { return int(inst.opens.Load()) }

// Closes returns the number of opened connectors closed.
func (inst *Instance) Closes() int { return int(inst.closes.Load()) }

// Queries returns the number of role queries.
func (inst *Instance) Queries() int { return int(inst.queries.Load()) }

// Live returns the number of opened connectors not yet closed.
func (inst *Instance) Live() int { return inst.Opens() - inst.Closes() }

func (inst *Instance) open() (int, error) {
	inst.mutex.Lock()
	defer inst.mutex.Unlock()

	if !inst.running {
		return 0, errors.Wrapf(ErrConnectionRefused, "dial %s", inst.Endpoint)
	}
	if inst.openErr != nil {
		return 0, inst.openErr
	}
	inst.opens.Inc()
	return inst.epoch, nil
}

func (inst *Instance) query(epoch int) (connsource.ClusterState, error) {
	inst.queries.Inc()

	inst.mutex.Lock()
	defer inst.mutex.Unlock()

	if inst.queryErr != nil {
		return connsource.ClusterStateUnknown, inst.queryErr
	}
	if !inst.running || inst.epoch != epoch {
		return connsource.ClusterStateUnknown, errors.Wrapf(ErrConnectionRefused, "query %s", inst.Endpoint)
	}
	return inst.role, nil
}

func (inst *Instance) alive(epoch int) bool {
	inst.mutex.Lock()
	defer inst.mutex.Unlock()
	return inst.running && inst.epoch == epoch
}

// Connector is a fake connector to an Instance.
type Connector struct {
	ID       uuid.UUID
	endpoint connsource.Endpoint
	inst     *Instance

	epoch  int
	opened atomic.Bool
	closed atomic.Bool
	broken atomic.Bool
}

func (c *Connector) Host() string                  { return c.endpoint.Host }
func (c *Connector) Port() int                     { return c.endpoint.Port }
func (c *Connector) Endpoint() connsource.Endpoint { return c.endpoint }

func (c *Connector) Open(ctx context.Context) error {
	if c.inst == nil {
		return errors.Errorf("dial %s: no such host", c.endpoint)
	}

	delay, _ := c.inst.delays()
	if err := sleepContext(ctx, delay); err != nil {
		return err
	}

	epoch, err := c.inst.open()
	if err != nil {
		return err
	}
	c.epoch = epoch
	c.opened.Store(true)
	return nil
}

func (c *Connector) Close() error {
	if c.opened.Load() && c.closed.CompareAndSwap(false, true) {
		c.inst.closes.Inc()
	}
	return nil
}

// Break marks the connector broken.
func (c *Connector) Break() {
	c.broken.Store(true)
}

func (c *Connector) IsBroken() bool {
	if c.inst == nil {
		return true
	}
	return c.broken.Load() || c.closed.Load() || !c.inst.alive(c.epoch)
}

func (c *Connector) IsClosed() bool {
	return c.closed.Load()
}

func (c *Connector) QueryClusterState(ctx context.Context) (connsource.ClusterState, error) {
	_, delay := c.inst.delays()
	if err := sleepContext(ctx, delay); err != nil {
		return connsource.ClusterStateUnknown, err
	}
	return c.inst.query(c.epoch)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Cluster is a set of instances reachable through its Dialer. Endpoints
// without an instance fail to open.
type Cluster struct {
	mutex     sync.Mutex
	instances map[connsource.Endpoint]*Instance
}

func NewCluster(instances ...*Instance) *Cluster {
	c := &Cluster{instances: make(map[connsource.Endpoint]*Instance)}
	for _, inst := range instances {
		c.instances[inst.Endpoint] = inst
	}
	return c
}

func (c *Cluster) Instance(endpoint connsource.Endpoint) *Instance {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.instances[endpoint]
}

// Dialer returns a dialer creating connectors to the cluster's instances.
func (c *Cluster) Dialer() connsource.Dialer {
	return connsource.DialerFunc(func(endpoint connsource.Endpoint, settings *connsource.Settings) connsource.Connector {
		return &Connector{
			ID:       uuid.New(),
			endpoint: endpoint,
			inst:     c.Instance(endpoint),
		}
	})
}
