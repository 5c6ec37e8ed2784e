package connection_pool

import (
	"context"

	connsource "github.com/connsource/go-connsource"
)

// MultiHostPoolView binds a shared MultiHostPool to the settings of one
// logical connection. The target session attributes are resolved once, at
// creation.
type MultiHostPoolView struct {
	pool     *MultiHostPool
	settings *connsource.Settings
	tsa      connsource.TargetSessionAttributes
}

// View returns a view of m for a logical connection with settings. The
// attributes come from settings, then from PGTARGETSESSIONATTRS, then Any.
func (m *MultiHostPool) View(settings *connsource.Settings) (*MultiHostPoolView, error) {
	if settings == nil {
		settings = m.settings
	}
	tsa, err := settings.ResolveTargetSessionAttributes()
	if err != nil {
		return nil, err
	}
	return &MultiHostPoolView{pool: m, settings: settings, tsa: tsa}, nil
}

func (v *MultiHostPoolView) kind() Kind { return KindMultiHostView }

func (v *MultiHostPoolView) Pool() *MultiHostPool { return v.pool }

func (v *MultiHostPoolView) TargetSessionAttributes() connsource.TargetSessionAttributes {
	return v.tsa
}

func (v *MultiHostPoolView) Settings() *connsource.Settings { return v.settings }

func (v *MultiHostPoolView) UserFacingConnectionString() string {
	return v.settings.UserFacingConnectionString()
}

// Acquire acquires from the shared pool with the view's attributes. When
// settings is nil the view's settings are used for the timeout.
func (v *MultiHostPoolView) Acquire(ctx context.Context, settings *connsource.Settings) (connsource.Connector, error) {
	if settings == nil {
		settings = v.settings
	}
	return v.pool.acquireWithAttributes(ctx, settings, v.tsa)
}

func (v *MultiHostPoolView) TryGetIdle() (connsource.Connector, bool) {
	return v.pool.TryGetIdle()
}

func (v *MultiHostPoolView) OpenNew(ctx context.Context, settings *connsource.Settings) (connsource.Connector, error) {
	return v.pool.OpenNew(ctx, settings)
}

// Return panics like MultiHostPool.Return.
func (v *MultiHostPoolView) Return(c connsource.Connector) {
	v.pool.Return(c)
}

func (v *MultiHostPoolView) Clear() {
	v.pool.Clear()
}

func (v *MultiHostPoolView) Statistics() Statistics {
	return v.pool.Statistics()
}

func (v *MultiHostPoolView) AddPending(c connsource.Connector, txn connsource.Transaction) {
	v.pool.AddPending(c, txn)
}

func (v *MultiHostPoolView) TryRemovePending(c connsource.Connector, txn connsource.Transaction) bool {
	return v.pool.TryRemovePending(c, txn)
}

// TryRentPending rents from the shared pool with the view's attributes.
func (v *MultiHostPoolView) TryRentPending(txn connsource.Transaction, settings *connsource.Settings) (connsource.Connector, bool) {
	return v.pool.rentPendingWithAttributes(txn, v.tsa)
}

// Close does nothing: the shared pool outlives its views.
func (v *MultiHostPoolView) Close() error {
	return nil
}
