package connection_pool

import (
	"context"

	connsource "github.com/connsource/go-connsource"
)

// Future is the pending result of AcquireAsync.
type Future struct {
	conn connsource.Connector
	err  error
	done chan struct{}
}

// AcquireAsync runs src.Acquire on its own goroutine. Cancel ctx to abandon
// the acquisition; a connector acquired anyway is still delivered by Get
// and must be returned by the caller.
func AcquireAsync(ctx context.Context, src Source, settings *connsource.Settings) *Future {
	fut := &Future{done: make(chan struct{})}
	go func() {
		defer close(fut.done)
		fut.conn, fut.err = src.Acquire(ctx, settings)
	}()
	return fut
}

// Get waits for the acquisition and returns its result.
func (fut *Future) Get() (connsource.Connector, error) {
	<-fut.done
	return fut.conn, fut.err
}

// WaitChan returns a channel closed once the result is available.
func (fut *Future) WaitChan() <-chan struct{} {
	return fut.done
}
