// Package cluster_state implements the process-wide cache of the last
// observed role of every database host.
//
// Entries expire after the recheck interval given with each observation.
// An expired entry reads as unknown unless the caller explicitly asks to
// ignore expiration, which lets the enlistment path reuse a stale but
// still plausible role without a round trip.
package cluster_state

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/karlseguin/ccache/v2"

	connsource "github.com/connsource/go-connsource"
)

const (
	DefaultMaxSize      = 1024
	DefaultItemsToPrune = 128
)

type entry struct {
	host      string
	port      int
	state     connsource.ClusterState
	timestamp time.Time
}

// Cache is a connsource.ClusterStateCache backed by ccache.
type Cache struct {
	mutex sync.Mutex
	items *ccache.Cache
	// keys tracks the entries for Snapshot; ccache may evict behind it.
	keys map[string]struct{}
}

var _ connsource.ClusterStateCache = (*Cache)(nil)

// New creates an empty cache holding at most maxSize hosts.
func New(maxSize int64) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	itemsToPrune := uint32(maxSize >> 3)
	if itemsToPrune == 0 {
		itemsToPrune = 1
	}
	if itemsToPrune > DefaultItemsToPrune {
		itemsToPrune = DefaultItemsToPrune
	}

	return &Cache{
		items: ccache.New(ccache.Configure().MaxSize(maxSize).ItemsToPrune(itemsToPrune)),
		keys:  make(map[string]struct{}),
	}
}

var (
	defaultCache     *Cache
	defaultCacheOnce sync.Once
)

// Default returns the process-wide cache shared by all multi-host pools.
func Default() *Cache {
	defaultCacheOnce.Do(func() {
		defaultCache = New(DefaultMaxSize)
	})
	return defaultCache
}

func cacheKey(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// GetState returns the cached role of host:port.
func (c *Cache) GetState(host string, port int, ignoreExpiration bool) connsource.ClusterState {
	item := c.items.Get(cacheKey(host, port))
	if item == nil {
		return connsource.ClusterStateUnknown
	}
	if item.Expired() && !ignoreExpiration {
		return connsource.ClusterStateUnknown
	}
	return item.Value().(*entry).state
}

// UpdateState records state for host:port unless a newer observation is
// already cached, and returns the state in effect afterwards.
func (c *Cache) UpdateState(host string, port int, state connsource.ClusterState, timestamp time.Time, expiration time.Duration) connsource.ClusterState {
	key := cacheKey(host, port)

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if item := c.items.Get(key); item != nil {
		if old := item.Value().(*entry); old.timestamp.After(timestamp) {
			glog.V(3).Infof("cluster_state: ignore stale %s state of %s observed at %v", state, key, timestamp)
			return old.state
		}
	}

	c.setLocked(key, &entry{host: host, port: port, state: state, timestamp: timestamp}, timestamp.Add(expiration))
	glog.V(2).Infof("cluster_state: %s is %s", key, state)
	return state
}

func (c *Cache) setLocked(key string, e *entry, expires time.Time) {
	c.items.Set(key, e, time.Until(expires))
	c.keys[key] = struct{}{}
}

// Remove forgets the role of host:port.
func (c *Cache) Remove(host string, port int) {
	key := cacheKey(host, port)

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.items.Delete(key)
	delete(c.keys, key)
}

// Clear forgets every role.
func (c *Cache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.items.Clear()
	c.keys = make(map[string]struct{})
}

// Len returns the number of cached hosts, expired ones included.
func (c *Cache) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for key := range c.keys {
		if c.items.Get(key) == nil {
			delete(c.keys, key)
		}
	}
	return len(c.keys)
}

// Stop releases the cache's background worker.
func (c *Cache) Stop() {
	c.items.Stop()
}
