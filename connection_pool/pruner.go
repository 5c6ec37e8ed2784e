package connection_pool

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	connsource "github.com/connsource/go-connsource"
)

func (p *Pool) pruner(interval time.Duration) {
	defer close(p.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if n := p.Prune(); n > 0 {
				glog.V(3).Infof("connection_pool: pruned %d idle connectors to %s", n, p.endpoint)
			}
			p.refill(interval)
		}
	}
}

// Prune closes connectors idle for longer than ConnectionIdleLifetime, or
// past ConnectionLifetime, while more than MinPoolSize connectors exist.
// It returns the number of connectors closed.
func (p *Pool) Prune() int {
	idleLifetime := p.settings.ConnectionIdleLifetimeDuration()
	now := p.now()

	p.mutex.Lock()
	var pruned []connsource.Connector
	kept := p.idle[:0]
	// Oldest first.
	for _, ic := range p.idle {
		stale := idleLifetime > 0 && now.Sub(ic.idleSince) >= idleLifetime
		if (stale || p.lifetimeExceeded(p.conns[ic.conn])) && p.numConnectors > p.settings.MinPoolSize {
			pruned = append(pruned, ic.conn)
			delete(p.conns, ic.conn)
			p.releaseSlotLocked()
			continue
		}
		kept = append(kept, ic)
	}
	for i := len(kept); i < len(p.idle); i++ {
		p.idle[i] = idleConnector{}
	}
	p.idle = kept
	p.mutex.Unlock()

	if err := closeConnectors(pruned); err != nil {
		glog.V(1).Infof("connection_pool: prune pool for %s: %v", p.endpoint, err)
	}
	return len(pruned)
}

// Warmup opens connectors concurrently until MinPoolSize exist.
func (p *Pool) Warmup(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)
	for gCtx.Err() == nil && p.reserveBelowMin() {
		g.Go(func() error {
			c, err := p.openReserved(gCtx)
			if err != nil {
				return err
			}
			p.Return(c)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) reserveBelowMin() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.state == poolClosed || p.numConnectors >= p.settings.MinPoolSize {
		return false
	}
	p.numConnectors++
	return true
}

// refill brings the pool back to MinPoolSize, retrying for at most one
// pruning interval.
func (p *Pool) refill(interval time.Duration) {
	if p.settings.MinPoolSize == 0 {
		return
	}

	exponentialBackoff := backoff.NewExponentialBackOff()
	exponentialBackoff.InitialInterval = 100 * time.Millisecond
	exponentialBackoff.MaxElapsedTime = interval

	err := backoff.Retry(func() error {
		ctx, cancel := withSettingsTimeout(p.ctx, p.settings)
		defer cancel()
		return p.Warmup(ctx)
	}, backoff.WithContext(exponentialBackoff, p.ctx))
	if err != nil && p.ctx.Err() == nil {
		glog.V(1).Infof("connection_pool: refill pool for %s: %v", p.endpoint, err)
	}
}
