// Package connection_pool hands out database connectors to logical
// connections.
//
// Four sources share the Source contract: UnpooledSource opens a connector
// per request, Pool keeps a bounded set of connectors to one host,
// MultiHostPool routes requests across several hosts by their role, and
// MultiHostPoolView binds a MultiHostPool to the target session attributes
// of one logical connection.
//
// Every source can also hold connectors aside for a transaction (pending
// enlistment) until the transaction completes or another logical
// connection joins it.
package connection_pool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	connsource "github.com/connsource/go-connsource"
	"github.com/connsource/go-connsource/cluster_state"
)

var (
	ErrClosed         = errors.New("connection pool is closed")
	ErrSingleHostOnly = errors.New("single host source needs exactly one host")
	ErrDuplicateHost  = errors.New("host is listed more than once")
	ErrPoolExhausted  = errors.New("connection pool exhausted")
	ErrNoSuitableHost = errors.New("no suitable host was found")
	ErrUnknownHost    = errors.New("connector does not belong to any host of the pool")
	ErrLeafOperation  = errors.New("operation is not supported by a multi-host source")
)

// PoolExhaustedError is returned when a pool has no capacity left before the
// deadline of Acquire.
type PoolExhaustedError struct {
	Endpoint    connsource.Endpoint
	MaxPoolSize int
}

func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("connection pool for %s exhausted: all %d connectors are in use and the timeout expired",
		e.Endpoint, e.MaxPoolSize)
}

// Timeout reports that the error is a timeout, not a connectivity failure.
func (e *PoolExhaustedError) Timeout() bool { return true }

func (e *PoolExhaustedError) Is(target error) bool { return target == ErrPoolExhausted }

func (e *PoolExhaustedError) Unwrap() error { return context.DeadlineExceeded }

// NoSuitableHostError is returned by MultiHostPool when no host produced an
// acceptable connector. It carries the failure of every host tried.
type NoSuitableHostError struct {
	TargetSessionAttributes connsource.TargetSessionAttributes
	errs                    *multierror.Error
}

func newNoSuitableHostError(tsa connsource.TargetSessionAttributes, errs []error) *NoSuitableHostError {
	var merr *multierror.Error
	if len(errs) > 0 {
		merr = multierror.Append(merr, errs...)
		merr.ErrorFormat = func(es []error) string {
			msgs := make([]string, len(es))
			for i, err := range es {
				msgs[i] = err.Error()
			}
			return strings.Join(msgs, "; ")
		}
	}
	return &NoSuitableHostError{TargetSessionAttributes: tsa, errs: merr}
}

func (e *NoSuitableHostError) Error() string {
	if e.errs == nil {
		return fmt.Sprintf("%s for target session attributes %s", ErrNoSuitableHost, e.TargetSessionAttributes)
	}
	return fmt.Sprintf("%s for target session attributes %s: %s", ErrNoSuitableHost, e.TargetSessionAttributes, e.errs)
}

// Errors returns the per-host failures.
func (e *NoSuitableHostError) Errors() []error {
	if e.errs == nil {
		return nil
	}
	return e.errs.WrappedErrors()
}

func (e *NoSuitableHostError) Is(target error) bool { return target == ErrNoSuitableHost }

func (e *NoSuitableHostError) Unwrap() error {
	if e.errs == nil {
		return nil
	}
	return e.errs
}

func acquireResult(err error) string {
	switch {
	case err == nil:
		return resultOK
	case errors.Is(err, ErrPoolExhausted):
		return resultExhausted
	case errors.Is(err, context.Canceled):
		return resultCanceled
	default:
		return resultError
	}
}

// isPreferred reports whether a host in state satisfies tsa.
func isPreferred(state connsource.ClusterState, tsa connsource.TargetSessionAttributes) bool {
	switch state {
	case connsource.ClusterStateOffline:
		return false
	case connsource.ClusterStateUnknown:
		// Checked once a connector is obtained.
		return true
	case connsource.ClusterStatePrimaryReadWrite:
		if tsa == connsource.Primary || tsa == connsource.PreferPrimary || tsa == connsource.ReadWrite {
			return true
		}
	case connsource.ClusterStatePrimaryReadOnly:
		if tsa == connsource.Primary || tsa == connsource.PreferPrimary || tsa == connsource.ReadOnly {
			return true
		}
	case connsource.ClusterStateStandby:
		if tsa == connsource.Standby || tsa == connsource.PreferStandby || tsa == connsource.ReadOnly {
			return true
		}
	}
	return tsa == connsource.Any
}

// isOnline is the fallback of the prefer-* attributes: any reachable host.
func isOnline(state connsource.ClusterState, tsa connsource.TargetSessionAttributes) bool {
	switch state {
	case connsource.ClusterStateUnknown:
		return true
	case connsource.ClusterStatePrimaryReadWrite, connsource.ClusterStatePrimaryReadOnly, connsource.ClusterStateStandby:
		return tsa == connsource.PreferPrimary || tsa == connsource.PreferStandby
	default:
		return false
	}
}

type validator func(state connsource.ClusterState) bool

func validators(tsa connsource.TargetSessionAttributes) []validator {
	preferred := func(state connsource.ClusterState) bool { return isPreferred(state, tsa) }
	if !tsa.IsPrefer() {
		return []validator{preferred}
	}
	online := func(state connsource.ClusterState) bool { return isOnline(state, tsa) }
	return []validator{preferred, online}
}

// MultiHostPool routes acquisitions across the hosts of a multi-host
// connection string, choosing hosts by their cached role.
//
// The per-host sources are fixed at construction. Connectors acquired from
// a MultiHostPool belong to the per-host source of their endpoint; use
// ReturnConnector or HomeSource to give them back.
type MultiHostPool struct {
	pendingEnlistments

	settings  *connsource.Settings
	endpoints []connsource.Endpoint
	pools     []Source
	cache     connsource.ClusterStateCache
	cursor    *RoundRobinCursor
}

// NewMultiHostPool creates a per-host source for every host of settings.
// The hosts share cache, which defaults to cluster_state.Default().
func NewMultiHostPool(settings *connsource.Settings, dialer connsource.Dialer, cache connsource.ClusterStateCache) (*MultiHostPool, error) {
	endpoints, err := settings.Endpoints()
	if err != nil {
		return nil, err
	}
	seen := make(map[connsource.Endpoint]struct{}, len(endpoints))
	for _, endpoint := range endpoints {
		if _, ok := seen[endpoint]; ok {
			return nil, errors.Wrap(ErrDuplicateHost, endpoint.String())
		}
		seen[endpoint] = struct{}{}
	}
	if cache == nil {
		cache = cluster_state.Default()
	}

	m := &MultiHostPool{
		settings:  settings,
		endpoints: endpoints,
		pools:     make([]Source, 0, len(endpoints)),
		cache:     cache,
		cursor:    NewRoundRobinCursor(-1),
	}
	for _, endpoint := range endpoints {
		src, err := newHostSource(settings.ForEndpoint(endpoint), dialer)
		if err != nil {
			m.Close()
			return nil, err
		}
		m.pools = append(m.pools, src)
	}

	glog.V(2).Infof("connection_pool: multi-host pool for %d hosts created", len(endpoints))
	return m, nil
}

func (m *MultiHostPool) kind() Kind { return KindMultiHost }

func (m *MultiHostPool) Settings() *connsource.Settings { return m.settings }

func (m *MultiHostPool) UserFacingConnectionString() string {
	return m.settings.UserFacingConnectionString()
}

// Pools returns the per-host sources in host order.
func (m *MultiHostPool) Pools() []Source {
	pools := make([]Source, len(m.pools))
	copy(pools, m.pools)
	return pools
}

// HomeSource returns the per-host source owning c.
func (m *MultiHostPool) HomeSource(c connsource.Connector) (Source, error) {
	endpoint := c.Endpoint()
	for i := range m.endpoints {
		if m.endpoints[i] == endpoint {
			return m.pools[i], nil
		}
	}
	return nil, errors.Wrap(ErrUnknownHost, endpoint.String())
}

// Acquire returns a connector from the first host whose role matches the
// target session attributes of settings.
func (m *MultiHostPool) Acquire(ctx context.Context, settings *connsource.Settings) (connsource.Connector, error) {
	if settings == nil {
		settings = m.settings
	}
	tsa, err := settings.ResolveTargetSessionAttributes()
	if err != nil {
		return nil, err
	}
	return m.acquireWithAttributes(ctx, settings, tsa)
}

func (m *MultiHostPool) acquireWithAttributes(ctx context.Context, settings *connsource.Settings, tsa connsource.TargetSessionAttributes) (connsource.Connector, error) {
	ctx, cancel := withSettingsTimeout(ctx, settings)
	defer cancel()

	c, err := m.acquire(ctx, tsa)
	countAcquire(KindMultiHost, acquireResult(err))
	return c, err
}

// acquire walks the hosts in ring order, first taking only idle connectors
// or opening new ones, then waiting on each host's capacity. Within each
// stage the prefer-* attributes try matching hosts before any reachable one.
func (m *MultiHostPool) acquire(ctx context.Context, tsa connsource.TargetSessionAttributes) (connsource.Connector, error) {
	start := 0
	if m.settings.LoadBalanceHosts {
		start = m.cursor.NextIndex(len(m.pools))
	}

	var errs []error
	for _, blocking := range []bool{false, true} {
		for _, validate := range validators(tsa) {
			c, stop, err := m.tryHosts(ctx, start, validate, blocking, &errs)
			if err != nil {
				return nil, err
			}
			if c != nil {
				return c, nil
			}
			if stop {
				return nil, aggregateHostErrors(tsa, errs)
			}
		}
	}
	return nil, aggregateHostErrors(tsa, errs)
}

// tryHosts makes one pass over the ring. stop is set once the deadline of
// ctx has passed; a canceled ctx is returned as err.
func (m *MultiHostPool) tryHosts(ctx context.Context, start int, validate validator, blocking bool, errs *[]error) (c connsource.Connector, stop bool, err error) {
	hostCount := len(m.pools)

	var timeoutPerHost time.Duration
	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		timeoutPerHost = time.Until(deadline) / time.Duration(hostCount)
	}

	for i := 0; i < hostCount; i++ {
		if ctx.Err() != nil {
			return m.interrupted(ctx, errs)
		}

		index := (start + i) % hostCount
		endpoint := m.endpoints[index]
		state := m.cache.GetState(endpoint.Host, endpoint.Port, false)
		if !validate(state) {
			continue
		}

		hostCtx, cancel := ctx, context.CancelFunc(func() {})
		if hasDeadline {
			hostCtx, cancel = context.WithTimeout(ctx, timeoutPerHost)
		}
		c, err := m.tryHost(hostCtx, m.pools[index], endpoint, state, validate, blocking)
		cancel()

		if c != nil {
			return c, false, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return m.interrupted(ctx, errs)
			}
			m.hostFailed(endpoint, err, errs)
		}
	}
	return nil, false, nil
}

func (m *MultiHostPool) interrupted(ctx context.Context, errs *[]error) (connsource.Connector, bool, error) {
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil, false, ctx.Err()
	}
	*errs = append(*errs, ctx.Err())
	return nil, true, nil
}

func (m *MultiHostPool) tryHost(ctx context.Context, pool Source, endpoint connsource.Endpoint, state connsource.ClusterState,
	validate validator, blocking bool) (connsource.Connector, error) {
	var c connsource.Connector
	var err error
	if blocking {
		if c, err = pool.Acquire(ctx, nil); err != nil {
			return nil, err
		}
	} else {
		var ok bool
		if c, ok = pool.TryGetIdle(); !ok {
			if c, err = pool.OpenNew(ctx, nil); err != nil || c == nil {
				return nil, err
			}
		}
	}

	if state != connsource.ClusterStateUnknown {
		return c, nil
	}

	// Opening a connector may have refreshed the cached state.
	state = m.cache.GetState(endpoint.Host, endpoint.Port, false)
	if state == connsource.ClusterStateUnknown {
		queried, err := c.QueryClusterState(ctx)
		if err != nil {
			pool.Return(c)
			return nil, errors.Wrapf(err, "query cluster state of %s", endpoint)
		}
		state = m.cache.UpdateState(endpoint.Host, endpoint.Port, queried, time.Now(), m.settings.HostRecheckDuration())
	}

	if !validate(state) {
		pool.Return(c)
		return nil, nil
	}
	return c, nil
}

// hostFailed records err. A host that could not be reached is marked
// offline for HostRecheckSeconds; errors reported by the server itself do
// not change its state.
func (m *MultiHostPool) hostFailed(endpoint connsource.Endpoint, err error, errs *[]error) {
	*errs = append(*errs, err)
	HostFailureCounter.WithLabelValues(endpoint.String()).Inc()
	glog.V(1).Infof("connection_pool: host %s failed: %v", endpoint, err)

	if _, ok := connsource.AsServerError(err); ok {
		return
	}
	if errors.Is(err, ErrPoolExhausted) || errors.Is(err, ErrClosed) {
		return
	}
	m.cache.UpdateState(endpoint.Host, endpoint.Port, connsource.ClusterStateOffline, time.Now(), m.settings.HostRecheckDuration())
}

// aggregateHostErrors builds the error of a failed search. When every host
// failed with a server error of the same code, the first *ServerError is
// returned as is, without the endpoint context added while opening.
func aggregateHostErrors(tsa connsource.TargetSessionAttributes, errs []error) error {
	if len(errs) == 0 {
		return newNoSuitableHostError(tsa, nil)
	}

	first, ok := connsource.AsServerError(errs[0])
	for _, err := range errs[1:] {
		if !ok {
			break
		}
		var serverErr *connsource.ServerError
		serverErr, ok = connsource.AsServerError(err)
		ok = ok && serverErr.Code == first.Code
	}
	if ok {
		return first
	}
	return newNoSuitableHostError(tsa, errs)
}

// TryGetIdle panics: a multi-host pool hands out connectors only through
// Acquire.
func (m *MultiHostPool) TryGetIdle() (connsource.Connector, bool) {
	panic(leafOperationError("TryGetIdle"))
}

// OpenNew panics, see TryGetIdle.
func (m *MultiHostPool) OpenNew(ctx context.Context, settings *connsource.Settings) (connsource.Connector, error) {
	panic(leafOperationError("OpenNew"))
}

// Return panics. Connectors go back to their home source, see
// ReturnConnector.
func (m *MultiHostPool) Return(c connsource.Connector) {
	panic(leafOperationError("Return"))
}

func leafOperationError(op string) error {
	return fmt.Errorf("%s: %w", op, ErrLeafOperation)
}

func (m *MultiHostPool) Clear() {
	for _, pool := range m.pools {
		pool.Clear()
	}
}

func (m *MultiHostPool) Statistics() Statistics {
	var stats Statistics
	for _, pool := range m.pools {
		stats = stats.add(pool.Statistics())
	}
	return stats
}

func (m *MultiHostPool) AddPending(c connsource.Connector, txn connsource.Transaction) {
	m.addPending(c, txn)
}

func (m *MultiHostPool) TryRemovePending(c connsource.Connector, txn connsource.Transaction) bool {
	return m.tryRemovePending(c, txn)
}

// TryRentPending takes the most recently added connector of txn whose last
// known role matches the target session attributes of settings. Expired
// roles are accepted.
func (m *MultiHostPool) TryRentPending(txn connsource.Transaction, settings *connsource.Settings) (connsource.Connector, bool) {
	if settings == nil {
		settings = m.settings
	}
	tsa, err := settings.ResolveTargetSessionAttributes()
	if err != nil {
		glog.V(1).Infof("connection_pool: rent pending connector: %v", err)
		return nil, false
	}
	return m.rentPendingWithAttributes(txn, tsa)
}

func (m *MultiHostPool) rentPendingWithAttributes(txn connsource.Transaction, tsa connsource.TargetSessionAttributes) (connsource.Connector, bool) {
	var matchers []func(connsource.Connector) bool
	for _, validate := range validators(tsa) {
		validate := validate
		matchers = append(matchers, func(c connsource.Connector) bool {
			return validate(m.cache.GetState(c.Host(), c.Port(), true))
		})
	}
	return m.rentPending(txn, matchers...)
}

// Close closes every per-host source.
func (m *MultiHostPool) Close() error {
	var result *multierror.Error
	for _, pool := range m.pools {
		if err := pool.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
