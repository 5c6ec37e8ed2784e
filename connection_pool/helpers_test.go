package connection_pool_test

import (
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	connsource "github.com/connsource/go-connsource"
	"github.com/connsource/go-connsource/connection_pool"
	"github.com/connsource/go-connsource/test_helpers"
)

var host = "127.0.0.1"

func startCluster(t *testing.T, firstPort int, roles ...connsource.ClusterState) ([]string, []*test_helpers.Instance, *test_helpers.Cluster) {
	t.Helper()

	servers := test_helpers.Servers(host, firstPort, len(roles))
	instances, err := test_helpers.StartInstances(servers, roles)
	require.NoError(t, err)
	return servers, instances, test_helpers.NewCluster(instances...)
}

func testSettings(servers []string) *connsource.Settings {
	settings := connsource.DefaultSettings()
	settings.Host = test_helpers.HostList(servers)
	settings.MaxPoolSize = 5
	settings.ConnectionPruningInterval = 0
	return settings
}

func endpointOf(t *testing.T, server string) connsource.Endpoint {
	t.Helper()

	h, p, err := net.SplitHostPort(server)
	require.NoError(t, err)
	port, err := strconv.Atoi(p)
	require.NoError(t, err)
	return connsource.Endpoint{Host: h, Port: port}
}

func checkStatistics(t *testing.T, src connection_pool.Source, total, idle int) {
	t.Helper()

	stats := src.Statistics()
	assert.Equal(t, stats.Idle+stats.Busy, stats.Total, "total must be idle + busy")
	assert.Equal(t, total, stats.Total, "total")
	assert.Equal(t, idle, stats.Idle, "idle")
}

func fakeConnector(t *testing.T, c connsource.Connector) *test_helpers.Connector {
	t.Helper()

	fc, ok := c.(*test_helpers.Connector)
	require.True(t, ok, "unexpected connector type %T", c)
	return fc
}

type fakeClock struct {
	mutex sync.Mutex
	now   time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.now = c.now.Add(d)
}
