package connection_pool

import (
	"context"

	connsource "github.com/connsource/go-connsource"
)

// Statistics is a best-effort snapshot of a source. Total is always
// Idle + Busy.
type Statistics struct {
	Total int
	Idle  int
	Busy  int
}

func (s Statistics) add(other Statistics) Statistics {
	return Statistics{
		Total: s.Total + other.Total,
		Idle:  s.Idle + other.Idle,
		Busy:  s.Busy + other.Busy,
	}
}

// Source hands out connectors to logical connections. It is implemented by
// UnpooledSource, Pool, MultiHostPool and MultiHostPoolView only.
//
// Connectors are used as map keys, so implementations of
// connsource.Connector must be comparable (usually pointers).
type Source interface {
	// Acquire returns a connector owned by the caller. The deadline and the
	// cancellation come from ctx; when ctx has no deadline the settings
	// Timeout applies.
	Acquire(ctx context.Context, settings *connsource.Settings) (connsource.Connector, error)

	// TryGetIdle returns an idle connector without blocking.
	TryGetIdle() (connsource.Connector, bool)

	// OpenNew opens a new connector if capacity allows. It returns
	// (nil, nil) when the source is at capacity.
	OpenNew(ctx context.Context, settings *connsource.Settings) (connsource.Connector, error)

	// Return gives ownership of c back to the source.
	Return(c connsource.Connector)

	// Clear closes idle connectors. Busy connectors are closed when they
	// are returned.
	Clear()

	Statistics() Statistics

	// AddPending puts c aside for txn instead of returning it.
	AddPending(c connsource.Connector, txn connsource.Transaction)

	// TryRemovePending removes c from the pending list of txn.
	TryRemovePending(c connsource.Connector, txn connsource.Transaction) bool

	// TryRentPending takes a connector enlisted in txn that suits settings.
	TryRentPending(txn connsource.Transaction, settings *connsource.Settings) (connsource.Connector, bool)

	Settings() *connsource.Settings

	// UserFacingConnectionString is the connection string with the password
	// redacted unless the settings persist it.
	UserFacingConnectionString() string

	// Close shuts the source down. Idle connectors are closed and waiters
	// fail with ErrClosed.
	Close() error

	kind() Kind
}

// KindOf returns the variant of src.
func KindOf(src Source) Kind {
	return src.kind()
}

// NewSource builds the source matching the settings: a MultiHostPool for
// several hosts, otherwise a Pool, or an UnpooledSource when pooling is off.
func NewSource(settings *connsource.Settings, dialer connsource.Dialer, cache connsource.ClusterStateCache) (Source, error) {
	if settings.IsMultiHost() {
		return NewMultiHostPool(settings, dialer, cache)
	}
	return newHostSource(settings, dialer)
}

func newHostSource(settings *connsource.Settings, dialer connsource.Dialer) (Source, error) {
	if !settings.Pooling {
		return NewUnpooledSource(settings, dialer)
	}
	return NewPool(settings, dialer, PoolOpts{})
}

// ReturnConnector returns c to the source it was acquired from. For
// multi-host sources this is the per-host source of c's endpoint.
func ReturnConnector(src Source, c connsource.Connector) error {
	switch s := src.(type) {
	case *MultiHostPool:
		home, err := s.HomeSource(c)
		if err != nil {
			return err
		}
		home.Return(c)
	case *MultiHostPoolView:
		home, err := s.pool.HomeSource(c)
		if err != nil {
			return err
		}
		home.Return(c)
	default:
		src.Return(c)
	}
	return nil
}

// ReleasePending handles the completion of txn for c: if c is still pending
// it is removed and returned to its home source.
func ReleasePending(src Source, c connsource.Connector, txn connsource.Transaction) (bool, error) {
	if !src.TryRemovePending(c, txn) {
		return false, nil
	}
	return true, ReturnConnector(src, c)
}

func withSettingsTimeout(ctx context.Context, settings *connsource.Settings) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || settings == nil || settings.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, settings.TimeoutDuration())
}
