package connection_pool_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	connsource "github.com/connsource/go-connsource"
	"github.com/connsource/go-connsource/cluster_state"
	"github.com/connsource/go-connsource/connection_pool"
	"github.com/connsource/go-connsource/test_helpers"
)

type multiHostFixture struct {
	pool      *connection_pool.MultiHostPool
	servers   []string
	instances []*test_helpers.Instance
	cache     *cluster_state.Cache
}

func newMultiHostFixture(t *testing.T, port int, configure func(*connsource.Settings), roles ...connsource.ClusterState) *multiHostFixture {
	t.Helper()

	servers, instances, cluster := startCluster(t, port, roles...)
	settings := testSettings(servers)
	if configure != nil {
		configure(settings)
	}

	cache := cluster_state.New(64)
	t.Cleanup(cache.Stop)

	pool, err := connection_pool.NewMultiHostPool(settings, cluster.Dialer(), cache)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return &multiHostFixture{pool: pool, servers: servers, instances: instances, cache: cache}
}

func withAttributes(tsa string) func(*connsource.Settings) {
	return func(s *connsource.Settings) { s.TargetSessionAttributes = tsa }
}

func (f *multiHostFixture) acquire(t *testing.T) connsource.Connector {
	t.Helper()

	c, err := f.pool.Acquire(context.Background(), nil)
	require.NoError(t, err)
	return c
}

func (f *multiHostFixture) release(t *testing.T, c connsource.Connector) {
	t.Helper()
	require.NoError(t, connection_pool.ReturnConnector(f.pool, c))
}

func (f *multiHostFixture) state(t *testing.T, i int) connsource.ClusterState {
	endpoint := endpointOf(t, f.servers[i])
	return f.cache.GetState(endpoint.Host, endpoint.Port, false)
}

func (f *multiHostFixture) setState(t *testing.T, i int, state connsource.ClusterState) {
	endpoint := endpointOf(t, f.servers[i])
	f.cache.UpdateState(endpoint.Host, endpoint.Port, state, time.Now(), time.Minute)
}

func TestNewMultiHostPoolErrors(t *testing.T) {
	cluster := test_helpers.NewCluster()

	settings := connsource.DefaultSettings()
	_, err := connection_pool.NewMultiHostPool(settings, cluster.Dialer(), nil)
	assert.ErrorIs(t, err, connsource.ErrEmptyHosts)

	settings.Host = "h1,h2,h1"
	_, err = connection_pool.NewMultiHostPool(settings, cluster.Dialer(), nil)
	assert.ErrorIs(t, err, connection_pool.ErrDuplicateHost)
}

func TestNewSourceMultiHost(t *testing.T) {
	servers, _, cluster := startCluster(t, 16000,
		connsource.ClusterStatePrimaryReadWrite, connsource.ClusterStateStandby)

	src, err := connection_pool.NewSource(testSettings(servers), cluster.Dialer(), cluster_state.New(16))
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, connection_pool.KindMultiHost, connection_pool.KindOf(src))
	for _, pool := range src.(*connection_pool.MultiHostPool).Pools() {
		assert.Equal(t, connection_pool.KindPool, connection_pool.KindOf(pool))
	}

	settings := testSettings(servers)
	settings.Pooling = false
	src, err = connection_pool.NewSource(settings, cluster.Dialer(), cluster_state.New(16))
	require.NoError(t, err)
	defer src.Close()

	for _, pool := range src.(*connection_pool.MultiHostPool).Pools() {
		assert.Equal(t, connection_pool.KindUnpooled, connection_pool.KindOf(pool))
	}
}

func TestPrimaryPreferred(t *testing.T) {
	f := newMultiHostFixture(t, 16010, withAttributes("primary"),
		connsource.ClusterStateStandby, connsource.ClusterStatePrimaryReadWrite)

	for i := 0; i < 5; i++ {
		c := f.acquire(t)
		assert.Equal(t, endpointOf(t, f.servers[1]), c.Endpoint())
		f.release(t, c)
	}

	assert.Equal(t, connsource.ClusterStateStandby, f.state(t, 0))
	assert.Equal(t, connsource.ClusterStatePrimaryReadWrite, f.state(t, 1))

	// Roles are queried once, then read from the cache.
	assert.Equal(t, 1, f.instances[0].Queries())
	assert.Equal(t, 1, f.instances[1].Queries())
}

func TestPreferPrimaryFallsBackToStandby(t *testing.T) {
	f := newMultiHostFixture(t, 16020, withAttributes("prefer-primary"),
		connsource.ClusterStatePrimaryReadWrite, connsource.ClusterStateStandby)
	test_helpers.StopInstance(f.instances[0])

	c, err := f.pool.Acquire(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, endpointOf(t, f.servers[1]), c.Endpoint())

	// The unreachable primary is skipped until it is rechecked.
	assert.Equal(t, connsource.ClusterStateOffline, f.state(t, 0))
	f.release(t, c)

	require.NoError(t, test_helpers.RestartInstance(f.instances[0]))
	c = f.acquire(t)
	assert.Equal(t, endpointOf(t, f.servers[1]), c.Endpoint())
	f.release(t, c)

	f.cache.Remove(f.instances[0].Endpoint.Host, f.instances[0].Endpoint.Port)
	c = f.acquire(t)
	assert.Equal(t, endpointOf(t, f.servers[0]), c.Endpoint())
	f.release(t, c)
}

func TestPreferStandby(t *testing.T) {
	f := newMultiHostFixture(t, 16030, withAttributes("prefer-standby"),
		connsource.ClusterStatePrimaryReadWrite, connsource.ClusterStateStandby)

	c := f.acquire(t)
	assert.Equal(t, endpointOf(t, f.servers[1]), c.Endpoint())
	f.release(t, c)

	test_helpers.StopInstance(f.instances[1])
	f.setState(t, 1, connsource.ClusterStateOffline)

	c = f.acquire(t)
	assert.Equal(t, endpointOf(t, f.servers[0]), c.Endpoint())
	f.release(t, c)
}

func TestPartialFailure(t *testing.T) {
	f := newMultiHostFixture(t, 16040, withAttributes("primary"),
		connsource.ClusterStatePrimaryReadWrite,
		connsource.ClusterStatePrimaryReadWrite,
		connsource.ClusterStatePrimaryReadWrite)

	boom := errors.New("boom")
	f.instances[0].SetOpenError(boom)
	f.setState(t, 1, connsource.ClusterStateOffline)

	c := f.acquire(t)
	assert.Equal(t, endpointOf(t, f.servers[2]), c.Endpoint())

	// An offline host is not contacted.
	assert.Equal(t, 0, f.instances[1].Opens())
	assert.Equal(t, 0, f.instances[1].Queries())

	assert.Equal(t, connsource.ClusterStateOffline, f.state(t, 0))
	f.release(t, c)
}

func TestAllHostsFail(t *testing.T) {
	f := newMultiHostFixture(t, 16050, withAttributes("primary"),
		connsource.ClusterStatePrimaryReadWrite,
		connsource.ClusterStatePrimaryReadWrite,
		connsource.ClusterStatePrimaryReadWrite)

	boom := errors.New("boom")
	f.instances[0].SetOpenError(boom)
	f.setState(t, 1, connsource.ClusterStateOffline)
	f.instances[2].SetOpenError(&connsource.ServerError{Code: "53300", Message: "too many connections"})

	c, err := f.pool.Acquire(context.Background(), nil)
	assert.Nil(t, c)

	var noHost *connection_pool.NoSuitableHostError
	require.ErrorAs(t, err, &noHost)
	assert.ErrorIs(t, err, connection_pool.ErrNoSuitableHost)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, connsource.Primary, noHost.TargetSessionAttributes)

	// Host 0 in the first pass, host 2 in both passes.
	assert.Len(t, noHost.Errors(), 3)

	// A server error does not take the host offline.
	assert.Equal(t, connsource.ClusterStateUnknown, f.state(t, 2))
	checkStatistics(t, f.pool, 0, 0)
}

func TestAllHostsFailWithSameServerError(t *testing.T) {
	f := newMultiHostFixture(t, 16060, nil,
		connsource.ClusterStatePrimaryReadWrite,
		connsource.ClusterStatePrimaryReadWrite,
		connsource.ClusterStatePrimaryReadWrite)

	for _, inst := range f.instances {
		inst.SetOpenError(&connsource.ServerError{Code: "28P01", Message: "password authentication failed"})
	}

	_, err := f.pool.Acquire(context.Background(), nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, connection_pool.ErrNoSuitableHost)

	serverErr, ok := connsource.AsServerError(err)
	require.True(t, ok)
	assert.Equal(t, "28P01", serverErr.Code)

	// The server error itself, not the open context around it.
	assert.IsType(t, &connsource.ServerError{}, err)
	assert.Equal(t, "28P01: password authentication failed", err.Error())
}

func TestAllHostsFailWithDifferentServerErrors(t *testing.T) {
	f := newMultiHostFixture(t, 16070, nil,
		connsource.ClusterStatePrimaryReadWrite,
		connsource.ClusterStatePrimaryReadWrite)

	f.instances[0].SetOpenError(&connsource.ServerError{Code: "28P01"})
	f.instances[1].SetOpenError(&connsource.ServerError{Code: "53300"})

	_, err := f.pool.Acquire(context.Background(), nil)
	assert.ErrorIs(t, err, connection_pool.ErrNoSuitableHost)

	var noHost *connection_pool.NoSuitableHostError
	require.ErrorAs(t, err, &noHost)
	assert.Len(t, noHost.Errors(), 4)
}

func TestNoSuitableHostWithoutErrors(t *testing.T) {
	f := newMultiHostFixture(t, 16080, withAttributes("read-write"),
		connsource.ClusterStateStandby, connsource.ClusterStatePrimaryReadOnly)

	_, err := f.pool.Acquire(context.Background(), nil)
	assert.ErrorIs(t, err, connection_pool.ErrNoSuitableHost)

	var noHost *connection_pool.NoSuitableHostError
	require.ErrorAs(t, err, &noHost)
	assert.Empty(t, noHost.Errors())

	// Rejected connectors went back to their pools.
	checkStatistics(t, f.pool, 2, 2)
}

func TestQueryFailure(t *testing.T) {
	f := newMultiHostFixture(t, 16090, nil,
		connsource.ClusterStatePrimaryReadWrite, connsource.ClusterStatePrimaryReadWrite)
	f.instances[0].SetQueryError(errors.New("query failed"))

	c := f.acquire(t)
	assert.Equal(t, endpointOf(t, f.servers[1]), c.Endpoint())
	assert.Equal(t, connsource.ClusterStateOffline, f.state(t, 0))

	checkStatistics(t, f.pool.Pools()[0], 1, 1)
	f.release(t, c)
}

func TestRoundRobin(t *testing.T) {
	f := newMultiHostFixture(t, 16100, func(s *connsource.Settings) { s.LoadBalanceHosts = true },
		connsource.ClusterStatePrimaryReadWrite,
		connsource.ClusterStateStandby,
		connsource.ClusterStatePrimaryReadOnly)

	const rounds = 4
	visits := make(map[connsource.Endpoint]int)
	for i := 0; i < rounds*len(f.servers); i++ {
		c := f.acquire(t)
		assert.Equal(t, endpointOf(t, f.servers[i%len(f.servers)]), c.Endpoint())
		visits[c.Endpoint()]++
		f.release(t, c)
	}

	for _, server := range f.servers {
		assert.Equal(t, rounds, visits[endpointOf(t, server)])
	}
}

func TestNoLoadBalancing(t *testing.T) {
	f := newMultiHostFixture(t, 16110, nil,
		connsource.ClusterStatePrimaryReadWrite, connsource.ClusterStatePrimaryReadWrite)

	for i := 0; i < 4; i++ {
		c := f.acquire(t)
		assert.Equal(t, endpointOf(t, f.servers[0]), c.Endpoint())
		f.release(t, c)
	}
}

func TestIdleBeforeBlocking(t *testing.T) {
	f := newMultiHostFixture(t, 16120, func(s *connsource.Settings) { s.MaxPoolSize = 1 },
		connsource.ClusterStatePrimaryReadWrite, connsource.ClusterStatePrimaryReadWrite)

	// The first host is at capacity: a new connector to the second host is
	// preferred over waiting.
	c0 := f.acquire(t)
	c1 := f.acquire(t)
	assert.Equal(t, endpointOf(t, f.servers[0]), c0.Endpoint())
	assert.Equal(t, endpointOf(t, f.servers[1]), c1.Endpoint())
	checkStatistics(t, f.pool, 2, 0)

	fut := connection_pool.AcquireAsync(context.Background(), f.pool, nil)
	time.Sleep(50 * time.Millisecond)
	f.release(t, c0)

	c, err := fut.Get()
	require.NoError(t, err)
	assert.Equal(t, c0, c)
	f.release(t, c)
	f.release(t, c1)
	checkStatistics(t, f.pool, 2, 2)
}

func TestAcquireCanceled(t *testing.T) {
	f := newMultiHostFixture(t, 16130, func(s *connsource.Settings) { s.MaxPoolSize = 1 },
		connsource.ClusterStatePrimaryReadWrite, connsource.ClusterStatePrimaryReadWrite)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.pool.Acquire(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	checkStatistics(t, f.pool, 0, 0)

	c0 := f.acquire(t)
	c1 := f.acquire(t)

	ctx, cancel = context.WithCancel(context.Background())
	fut := connection_pool.AcquireAsync(ctx, f.pool, nil)
	time.Sleep(50 * time.Millisecond)
	cancel()

	_, err = fut.Get()
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, connection_pool.ErrNoSuitableHost)

	f.release(t, c0)
	f.release(t, c1)
	checkStatistics(t, f.pool, 2, 2)

	// Waiting for capacity does not take a host offline.
	assert.Equal(t, connsource.ClusterStatePrimaryReadWrite, f.state(t, 0))
}

func TestPreferPrimaryOpensStandbyBeforeWaiting(t *testing.T) {
	f := newMultiHostFixture(t, 16210, func(s *connsource.Settings) {
		s.MaxPoolSize = 1
		s.TargetSessionAttributes = "prefer-primary"
	}, connsource.ClusterStatePrimaryReadWrite, connsource.ClusterStateStandby)
	f.setState(t, 1, connsource.ClusterStateStandby)

	c0 := f.acquire(t)
	assert.Equal(t, endpointOf(t, f.servers[0]), c0.Endpoint())

	// The primary is at capacity: a new standby connector is opened rather
	// than waiting for the primary.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	c1, err := f.pool.Acquire(ctx, nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, endpointOf(t, f.servers[1]), c1.Endpoint())
	assert.Equal(t, 1, f.instances[1].Opens())
	checkStatistics(t, f.pool, 2, 0)

	f.release(t, c0)
	f.release(t, c1)
}

func TestAcquireCanceledWhileQueryingState(t *testing.T) {
	f := newMultiHostFixture(t, 16220, nil,
		connsource.ClusterStatePrimaryReadWrite, connsource.ClusterStatePrimaryReadWrite)
	f.instances[0].SetQueryDelay(5 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	fut := connection_pool.AcquireAsync(ctx, f.pool, nil)

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, f.instances[0].Opens())
	cancel()

	_, err := fut.Get()
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, connection_pool.ErrNoSuitableHost)

	// The connector opened for the query went back to its host.
	checkStatistics(t, f.pool, 1, 1)
	checkStatistics(t, f.pool.Pools()[0], 1, 1)
	assert.Equal(t, 0, f.instances[1].Opens())
	assert.Equal(t, connsource.ClusterStateUnknown, f.state(t, 0))
}

func TestOpenConcurrencyLimitKeepsHostOnline(t *testing.T) {
	f := newMultiHostFixture(t, 16230, func(s *connsource.Settings) {
		s.OpenMaxConcurrency = 1
		s.TargetSessionAttributes = "primary"
	}, connsource.ClusterStatePrimaryReadWrite, connsource.ClusterStateStandby)
	f.instances[0].SetOpenDelay(400 * time.Millisecond)

	// Holds the only open token of the primary.
	fut := connection_pool.AcquireAsync(context.Background(), f.pool, nil)
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := f.pool.Acquire(ctx, nil)
	assert.ErrorIs(t, err, connection_pool.ErrNoSuitableHost)
	assert.ErrorIs(t, err, connection_pool.ErrPoolExhausted)
	assert.NotEqual(t, connsource.ClusterStateOffline, f.state(t, 0))

	c, err := fut.Get()
	require.NoError(t, err)
	assert.Equal(t, endpointOf(t, f.servers[0]), c.Endpoint())
	f.release(t, c)
	assert.Equal(t, connsource.ClusterStatePrimaryReadWrite, f.state(t, 0))

	f.instances[0].SetOpenDelay(0)
	c = f.acquire(t)
	assert.Equal(t, endpointOf(t, f.servers[0]), c.Endpoint())
	f.release(t, c)
}

func TestAcquireDeadline(t *testing.T) {
	f := newMultiHostFixture(t, 16140, func(s *connsource.Settings) { s.MaxPoolSize = 1 },
		connsource.ClusterStatePrimaryReadWrite, connsource.ClusterStatePrimaryReadWrite)

	c0 := f.acquire(t)
	c1 := f.acquire(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := f.pool.Acquire(ctx, nil)
	assert.Less(t, time.Since(start), time.Second)

	assert.ErrorIs(t, err, connection_pool.ErrNoSuitableHost)
	assert.ErrorIs(t, err, connection_pool.ErrPoolExhausted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, connsource.ClusterStatePrimaryReadWrite, f.state(t, 0))
	assert.Equal(t, connsource.ClusterStatePrimaryReadWrite, f.state(t, 1))

	f.release(t, c0)
	f.release(t, c1)
}

func TestLeafOperationsPanic(t *testing.T) {
	f := newMultiHostFixture(t, 16150, nil,
		connsource.ClusterStatePrimaryReadWrite, connsource.ClusterStateStandby)
	c := f.acquire(t)
	defer f.release(t, c)

	for i := 0; i < 2; i++ {
		assert.PanicsWithError(t, "TryGetIdle: operation is not supported by a multi-host source", func() {
			f.pool.TryGetIdle()
		})
		assert.PanicsWithError(t, "OpenNew: operation is not supported by a multi-host source", func() {
			f.pool.OpenNew(context.Background(), nil)
		})
		assert.PanicsWithError(t, "Return: operation is not supported by a multi-host source", func() {
			f.pool.Return(c)
		})
	}
}

func TestHomeSource(t *testing.T) {
	f := newMultiHostFixture(t, 16160, withAttributes("standby"),
		connsource.ClusterStatePrimaryReadWrite, connsource.ClusterStateStandby)

	c := f.acquire(t)
	home, err := f.pool.HomeSource(c)
	require.NoError(t, err)
	assert.Equal(t, f.pool.Pools()[1], home)
	checkStatistics(t, home, 1, 0)

	f.release(t, c)
	checkStatistics(t, home, 1, 1)

	other := newMultiHostFixture(t, 16170, nil, connsource.ClusterStatePrimaryReadWrite, connsource.ClusterStateStandby)
	foreign := other.acquire(t)
	defer other.release(t, foreign)

	_, err = f.pool.HomeSource(foreign)
	assert.ErrorIs(t, err, connection_pool.ErrUnknownHost)
	assert.ErrorIs(t, connection_pool.ReturnConnector(f.pool, foreign), connection_pool.ErrUnknownHost)
}

func TestMultiHostClear(t *testing.T) {
	f := newMultiHostFixture(t, 16180, func(s *connsource.Settings) { s.LoadBalanceHosts = true },
		connsource.ClusterStatePrimaryReadWrite, connsource.ClusterStateStandby)

	c0 := f.acquire(t)
	c1 := f.acquire(t)
	f.release(t, c0)
	checkStatistics(t, f.pool, 2, 1)

	f.pool.Clear()
	checkStatistics(t, f.pool, 1, 0)
	assert.True(t, fakeConnector(t, c0).IsClosed())

	f.release(t, c1)
	assert.True(t, fakeConnector(t, c1).IsClosed())
	checkStatistics(t, f.pool, 0, 0)
}

func TestMultiHostClose(t *testing.T) {
	servers, instances, cluster := startCluster(t, 16190,
		connsource.ClusterStatePrimaryReadWrite, connsource.ClusterStateStandby)
	settings := testSettings(servers)
	settings.LoadBalanceHosts = true

	pool, err := connection_pool.NewMultiHostPool(settings, cluster.Dialer(), cluster_state.New(16))
	require.NoError(t, err)

	c0, err := pool.Acquire(context.Background(), nil)
	require.NoError(t, err)
	c1, err := pool.Acquire(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, connection_pool.ReturnConnector(pool, c0))

	require.NoError(t, pool.Close())
	require.NoError(t, connection_pool.ReturnConnector(pool, c1))
	assert.Equal(t, 0, test_helpers.TotalLive(instances))

	_, err = pool.Acquire(context.Background(), nil)
	assert.Error(t, err)
}

func TestMultiHostPending(t *testing.T) {
	f := newMultiHostFixture(t, 16200, nil,
		connsource.ClusterStatePrimaryReadWrite, connsource.ClusterStateStandby)

	primaryView, err := f.pool.View(withSettings(f.pool.Settings(), "primary"))
	require.NoError(t, err)
	standbyView, err := f.pool.View(withSettings(f.pool.Settings(), "standby"))
	require.NoError(t, err)
	preferPrimaryView, err := f.pool.View(withSettings(f.pool.Settings(), "prefer-primary"))
	require.NoError(t, err)

	primary, err := primaryView.Acquire(context.Background(), nil)
	require.NoError(t, err)
	standby, err := standbyView.Acquire(context.Background(), nil)
	require.NoError(t, err)

	txn := connsource.NewTransaction()
	f.pool.AddPending(primary, txn)
	f.pool.AddPending(standby, txn)

	// Expired roles are still used to match pending connectors.
	f.cache.Clear()
	observed := time.Now().Add(-time.Hour)
	for i, state := range []connsource.ClusterState{connsource.ClusterStatePrimaryReadWrite, connsource.ClusterStateStandby} {
		endpoint := endpointOf(t, f.servers[i])
		f.cache.UpdateState(endpoint.Host, endpoint.Port, state, observed, time.Second)
	}
	require.Equal(t, connsource.ClusterStateUnknown, f.state(t, 0))

	c, ok := primaryView.TryRentPending(txn, nil)
	require.True(t, ok)
	assert.Equal(t, primary, c)

	_, ok = primaryView.TryRentPending(txn, nil)
	assert.False(t, ok)

	c, ok = preferPrimaryView.TryRentPending(txn, nil)
	require.True(t, ok)
	assert.Equal(t, standby, c)

	_, ok = preferPrimaryView.TryRentPending(txn, nil)
	assert.False(t, ok)

	f.pool.AddPending(primary, txn)
	assert.True(t, f.pool.TryRemovePending(primary, txn))
	assert.False(t, f.pool.TryRemovePending(primary, txn))

	f.pool.AddPending(standby, txn)
	released, err := connection_pool.ReleasePending(standbyView, standby, txn)
	require.NoError(t, err)
	assert.True(t, released)

	f.release(t, primary)
	checkStatistics(t, f.pool, 2, 2)
}

func withSettings(settings *connsource.Settings, tsa string) *connsource.Settings {
	clone := settings.Clone()
	clone.TargetSessionAttributes = tsa
	return clone
}
