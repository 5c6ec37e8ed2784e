package connection_pool

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	connsource "github.com/connsource/go-connsource"
)

type PoolOpts struct {
	// NowFunc returns the current time for idle and lifetime accounting.
	// time.Now is used when nil.
	NowFunc func() time.Time
	// DisablePruning turns the background pruner off. Prune can still be
	// called directly.
	DisablePruning bool
}

type idleConnector struct {
	conn      connsource.Connector
	idleSince time.Time
}

type connectorInfo struct {
	generation uint64
	openedAt   time.Time
}

// grant is handed to a waiter. A grant without a connector and without an
// error is a slot reserved for the waiter, which opens a connector itself.
type grant struct {
	conn connsource.Connector
	err  error
}

// Pool is a bounded set of connectors to a single host.
//
// Idle connectors are reused in LIFO order. When the pool is at capacity
// Acquire waits; waiters are served in FIFO order either with a returned
// connector or with the slot of a closed one.
type Pool struct {
	pendingEnlistments

	settings   *connsource.Settings
	endpoint   connsource.Endpoint
	dialer     connsource.Dialer
	opts       PoolOpts
	openTokens *semaphore.Weighted

	mutex         sync.Mutex
	idle          []idleConnector                          // guarded by mutex
	waiters       []chan grant                             // guarded by mutex
	conns         map[connsource.Connector]*connectorInfo // guarded by mutex
	numConnectors int                                      // guarded by mutex, includes slots being opened
	generation    uint64                                   // guarded by mutex
	state         uint32                                   // guarded by mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPool creates a pool for the single host of settings and starts its
// pruner.
func NewPool(settings *connsource.Settings, dialer connsource.Dialer, opts PoolOpts) (*Pool, error) {
	endpoints, err := settings.Endpoints()
	if err != nil {
		return nil, err
	}
	if len(endpoints) != 1 {
		return nil, ErrSingleHostOnly
	}
	if settings.MaxPoolSize <= 0 || settings.MinPoolSize < 0 || settings.MinPoolSize > settings.MaxPoolSize {
		return nil, connsource.ErrInvalidPoolSize
	}
	if opts.NowFunc == nil {
		opts.NowFunc = time.Now
	}

	var tokens *semaphore.Weighted
	if settings.OpenMaxConcurrency > 0 {
		tokens = semaphore.NewWeighted(int64(settings.OpenMaxConcurrency))
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		settings:   settings.ForEndpoint(endpoints[0]),
		endpoint:   endpoints[0],
		dialer:     dialer,
		opts:       opts,
		openTokens: tokens,
		conns:      make(map[connsource.Connector]*connectorInfo),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	if interval := p.settings.ConnectionPruningIntervalDuration(); !opts.DisablePruning && interval > 0 {
		go p.pruner(interval)
	} else {
		close(p.done)
	}

	glog.V(2).Infof("connection_pool: pool for %s created, max size %d", p.endpoint, p.settings.MaxPoolSize)
	return p, nil
}

func (p *Pool) kind() Kind { return KindPool }

func (p *Pool) Endpoint() connsource.Endpoint { return p.endpoint }

func (p *Pool) Settings() *connsource.Settings { return p.settings }

func (p *Pool) UserFacingConnectionString() string {
	return p.settings.UserFacingConnectionString()
}

func (p *Pool) now() time.Time {
	return p.opts.NowFunc()
}

// Acquire returns an idle connector, opens a new one, or waits for one to
// be returned, in that order.
func (p *Pool) Acquire(ctx context.Context, settings *connsource.Settings) (connsource.Connector, error) {
	ctx, cancel := withSettingsTimeout(ctx, settings)
	defer cancel()

	c, err := p.acquire(ctx, settings)
	countAcquire(KindPool, acquireResult(err))
	return c, err
}

func (p *Pool) acquire(ctx context.Context, settings *connsource.Settings) (connsource.Connector, error) {
	if c, ok := p.TryGetIdle(); ok {
		return c, nil
	}

	c, err := p.OpenNew(ctx, settings)
	if err != nil || c != nil {
		return c, err
	}

	return p.waitForConnector(ctx)
}

func (p *Pool) TryGetIdle() (connsource.Connector, bool) {
	for {
		p.mutex.Lock()
		if p.state == poolClosed || len(p.idle) == 0 {
			p.mutex.Unlock()
			return nil, false
		}
		last := len(p.idle) - 1
		ic := p.idle[last]
		p.idle[last] = idleConnector{}
		p.idle = p.idle[:last]
		info := p.conns[ic.conn]
		expired := p.lifetimeExceeded(info)
		p.mutex.Unlock()

		if !expired && !ic.conn.IsBroken() {
			return ic.conn, true
		}
		p.discard(ic.conn)
	}
}

// OpenNew opens a connector if the pool is below MaxPoolSize.
func (p *Pool) OpenNew(ctx context.Context, settings *connsource.Settings) (connsource.Connector, error) {
	p.mutex.Lock()
	if p.state == poolClosed {
		p.mutex.Unlock()
		return nil, ErrClosed
	}
	if p.numConnectors >= p.settings.MaxPoolSize {
		p.mutex.Unlock()
		return nil, nil
	}
	p.numConnectors++
	p.mutex.Unlock()

	return p.openReserved(ctx)
}

// openReserved opens a connector in a slot already counted in
// numConnectors. The slot is released on failure.
func (p *Pool) openReserved(ctx context.Context) (connsource.Connector, error) {
	if p.openTokens != nil {
		// Waiting for an open token is waiting for capacity, not a failure
		// of the host.
		if err := p.openTokens.Acquire(ctx, 1); err != nil {
			p.releaseSlot()
			return nil, p.waitError(ctx)
		}
		defer p.openTokens.Release(1)
	}

	c := p.dialer.NewConnector(p.endpoint, p.settings)
	err := c.Open(ctx)
	countOpen(KindPool, err)
	if err != nil {
		p.releaseSlot()
		return nil, errors.Wrapf(err, "open connector to %s", p.endpoint)
	}

	p.mutex.Lock()
	if p.state == poolClosed {
		p.releaseSlotLocked()
		p.mutex.Unlock()
		closeConnector(c)
		return nil, ErrClosed
	}
	p.conns[c] = &connectorInfo{generation: p.generation, openedAt: p.now()}
	p.mutex.Unlock()

	glog.V(3).Infof("connection_pool: opened connector to %s", p.endpoint)
	return c, nil
}

func (p *Pool) waitForConnector(ctx context.Context) (connsource.Connector, error) {
	for {
		p.mutex.Lock()
		if p.state == poolClosed {
			p.mutex.Unlock()
			return nil, ErrClosed
		}
		// Idle connectors or capacity may have appeared since the fast path.
		if len(p.idle) > 0 {
			p.mutex.Unlock()
			if c, ok := p.TryGetIdle(); ok {
				return c, nil
			}
			continue
		}
		if p.numConnectors < p.settings.MaxPoolSize {
			p.numConnectors++
			p.mutex.Unlock()
			return p.openReserved(ctx)
		}

		w := make(chan grant, 1)
		p.waiters = append(p.waiters, w)
		p.mutex.Unlock()

		select {
		case g := <-w:
			if g.err != nil {
				return nil, g.err
			}
			if g.conn != nil {
				return g.conn, nil
			}
			return p.openReserved(ctx)

		case <-ctx.Done():
			p.mutex.Lock()
			removed := p.removeWaiterLocked(w)
			p.mutex.Unlock()
			if !removed {
				// A grant raced with the deadline; pass it on.
				p.abandonGrant(<-w)
			}
			return nil, p.waitError(ctx)
		}
	}
}

func (p *Pool) removeWaiterLocked(w chan grant) bool {
	for i, waiter := range p.waiters {
		if waiter == w {
			copy(p.waiters[i:], p.waiters[i+1:])
			p.waiters[len(p.waiters)-1] = nil
			p.waiters = p.waiters[:len(p.waiters)-1]
			return true
		}
	}
	return false
}

func (p *Pool) abandonGrant(g grant) {
	switch {
	case g.err != nil:
	case g.conn != nil:
		p.Return(g.conn)
	default:
		p.releaseSlot()
	}
}

func (p *Pool) waitError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &PoolExhaustedError{Endpoint: p.endpoint, MaxPoolSize: p.settings.MaxPoolSize}
	}
	return ctx.Err()
}

// Return puts c back into the idle set or hands it to the oldest waiter.
// Broken connectors, connectors opened before the last Clear and those
// past ConnectionLifetime are closed instead.
func (p *Pool) Return(c connsource.Connector) {
	broken := c.IsBroken()

	p.mutex.Lock()
	info, ok := p.conns[c]
	if !ok {
		p.mutex.Unlock()
		glog.Warningf("connection_pool: connector to %s returned to the pool of %s it does not belong to", c.Endpoint(), p.endpoint)
		closeConnector(c)
		return
	}

	if p.state == poolClosed || broken || info.generation != p.generation || p.lifetimeExceeded(info) {
		delete(p.conns, c)
		p.releaseSlotLocked()
		p.mutex.Unlock()
		closeConnector(c)
		return
	}

	if len(p.waiters) > 0 {
		w := p.popWaiterLocked()
		p.mutex.Unlock()
		w <- grant{conn: c}
		return
	}

	p.idle = append(p.idle, idleConnector{conn: c, idleSince: p.now()})
	p.mutex.Unlock()
}

func (p *Pool) popWaiterLocked() chan grant {
	w := p.waiters[0]
	p.waiters[0] = nil
	p.waiters = p.waiters[1:]
	return w
}

func (p *Pool) discard(c connsource.Connector) {
	p.mutex.Lock()
	if _, ok := p.conns[c]; ok {
		delete(p.conns, c)
		p.releaseSlotLocked()
	}
	p.mutex.Unlock()
	closeConnector(c)
}

func (p *Pool) releaseSlot() {
	p.mutex.Lock()
	p.releaseSlotLocked()
	p.mutex.Unlock()
}

// releaseSlotLocked frees a slot, reserving it for the oldest waiter if
// there is one.
func (p *Pool) releaseSlotLocked() {
	p.numConnectors--
	if p.state == poolOpen && len(p.waiters) > 0 {
		p.numConnectors++
		p.popWaiterLocked() <- grant{}
	}
}

func (p *Pool) lifetimeExceeded(info *connectorInfo) bool {
	lifetime := p.settings.ConnectionLifetimeDuration()
	return info != nil && lifetime > 0 && p.now().Sub(info.openedAt) >= lifetime
}

// Clear closes the idle connectors. Connectors in use are closed when they
// are returned.
func (p *Pool) Clear() {
	p.mutex.Lock()
	p.generation++
	idle := p.takeIdleLocked()
	p.mutex.Unlock()

	glog.V(2).Infof("connection_pool: cleared pool for %s, closing %d idle connectors", p.endpoint, len(idle))
	if err := closeConnectors(idle); err != nil {
		glog.V(1).Infof("connection_pool: clear pool for %s: %v", p.endpoint, err)
	}
}

func (p *Pool) takeIdleLocked() []connsource.Connector {
	idle := make([]connsource.Connector, 0, len(p.idle))
	for _, ic := range p.idle {
		idle = append(idle, ic.conn)
		delete(p.conns, ic.conn)
		p.releaseSlotLocked()
	}
	p.idle = nil
	return idle
}

func (p *Pool) Statistics() Statistics {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return Statistics{
		Total: p.numConnectors,
		Idle:  len(p.idle),
		Busy:  p.numConnectors - len(p.idle),
	}
}

func (p *Pool) AddPending(c connsource.Connector, txn connsource.Transaction) {
	p.addPending(c, txn)
}

func (p *Pool) TryRemovePending(c connsource.Connector, txn connsource.Transaction) bool {
	return p.tryRemovePending(c, txn)
}

// TryRentPending takes the most recently added connector of txn.
func (p *Pool) TryRentPending(txn connsource.Transaction, settings *connsource.Settings) (connsource.Connector, bool) {
	return p.rentPending(txn)
}

// Close stops the pruner, closes the idle connectors and fails the waiters
// with ErrClosed. Connectors in use are closed when returned.
func (p *Pool) Close() error {
	p.mutex.Lock()
	if p.state == poolClosed {
		p.mutex.Unlock()
		return nil
	}
	p.state = poolClosed
	idle := p.takeIdleLocked()
	waiters := p.waiters
	p.waiters = nil
	p.mutex.Unlock()

	for _, w := range waiters {
		w <- grant{err: ErrClosed}
	}

	p.cancel()
	<-p.done

	glog.V(2).Infof("connection_pool: pool for %s closed", p.endpoint)
	return closeConnectors(idle)
}

func closeConnector(c connsource.Connector) {
	if err := c.Close(); err != nil {
		glog.V(1).Infof("connection_pool: close connector to %s: %v", c.Endpoint(), err)
	}
}

func closeConnectors(conns []connsource.Connector) error {
	var g errgroup.Group
	for _, c := range conns {
		c := c
		g.Go(c.Close)
	}
	return g.Wait()
}
