package connection_pool

import (
	"context"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	connsource "github.com/connsource/go-connsource"
)

// UnpooledSource opens a new connector for every Acquire and closes it on
// Return.
type UnpooledSource struct {
	settings *connsource.Settings
	endpoint connsource.Endpoint
	dialer   connsource.Dialer

	live  atomic.Int32
	state atomic.Uint32
}

// NewUnpooledSource creates an unpooled source for the single host of
// settings.
func NewUnpooledSource(settings *connsource.Settings, dialer connsource.Dialer) (*UnpooledSource, error) {
	endpoints, err := settings.Endpoints()
	if err != nil {
		return nil, err
	}
	if len(endpoints) != 1 {
		return nil, ErrSingleHostOnly
	}

	return &UnpooledSource{
		settings: settings.ForEndpoint(endpoints[0]),
		endpoint: endpoints[0],
		dialer:   dialer,
	}, nil
}

func (s *UnpooledSource) kind() Kind { return KindUnpooled }

func (s *UnpooledSource) Endpoint() connsource.Endpoint { return s.endpoint }

func (s *UnpooledSource) Settings() *connsource.Settings { return s.settings }

func (s *UnpooledSource) UserFacingConnectionString() string {
	return s.settings.UserFacingConnectionString()
}

func (s *UnpooledSource) Acquire(ctx context.Context, settings *connsource.Settings) (connsource.Connector, error) {
	ctx, cancel := withSettingsTimeout(ctx, settings)
	defer cancel()

	c, err := s.OpenNew(ctx, settings)
	countAcquire(KindUnpooled, acquireResult(err))
	return c, err
}

// TryGetIdle never finds anything.
func (s *UnpooledSource) TryGetIdle() (connsource.Connector, bool) {
	return nil, false
}

func (s *UnpooledSource) OpenNew(ctx context.Context, settings *connsource.Settings) (connsource.Connector, error) {
	if s.state.Load() == poolClosed {
		return nil, ErrClosed
	}

	c := s.dialer.NewConnector(s.endpoint, s.settings)
	err := c.Open(ctx)
	countOpen(KindUnpooled, err)
	if err != nil {
		return nil, errors.Wrapf(err, "open connector to %s", s.endpoint)
	}

	s.live.Inc()
	return c, nil
}

// Return closes c.
func (s *UnpooledSource) Return(c connsource.Connector) {
	s.live.Dec()
	if err := c.Close(); err != nil {
		glog.V(1).Infof("connection_pool: close connector to %s: %v", s.endpoint, err)
	}
}

// Clear does nothing, there are no idle connectors.
func (s *UnpooledSource) Clear() {}

func (s *UnpooledSource) Statistics() Statistics {
	live := int(s.live.Load())
	return Statistics{Total: live, Busy: live}
}

// AddPending closes c: an unpooled connector cannot be reused.
func (s *UnpooledSource) AddPending(c connsource.Connector, txn connsource.Transaction) {
	s.Return(c)
}

func (s *UnpooledSource) TryRemovePending(c connsource.Connector, txn connsource.Transaction) bool {
	return false
}

func (s *UnpooledSource) TryRentPending(txn connsource.Transaction, settings *connsource.Settings) (connsource.Connector, bool) {
	return nil, false
}

// Close makes further acquisitions fail. Connectors in use are closed on
// return as usual.
func (s *UnpooledSource) Close() error {
	s.state.Store(poolClosed)
	return nil
}
