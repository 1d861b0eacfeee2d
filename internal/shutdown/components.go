package shutdown

import (
	"context"
	"io"
)

// CloserComponent wraps an io.Closer, such as the build store.
type CloserComponent struct {
	name   string
	closer io.Closer
}

// NewCloserComponent creates a new closer shutdown component.
func NewCloserComponent(name string, closer io.Closer) *CloserComponent {
	return &CloserComponent{
		name:   name,
		closer: closer,
	}
}

// Name returns the component name.
func (c *CloserComponent) Name() string {
	return c.name
}

// Shutdown closes the underlying resource.
func (c *CloserComponent) Shutdown(ctx context.Context) error {
	return c.closer.Close()
}

// FuncComponent wraps a shutdown function as a component.
type FuncComponent struct {
	name string
	fn   func(ctx context.Context) error
}

// NewFuncComponent creates a new function-based shutdown component.
func NewFuncComponent(name string, fn func(ctx context.Context) error) *FuncComponent {
	return &FuncComponent{
		name: name,
		fn:   fn,
	}
}

// Name returns the component name.
func (c *FuncComponent) Name() string {
	return c.name
}

// Shutdown calls the wrapped function.
func (c *FuncComponent) Shutdown(ctx context.Context) error {
	return c.fn(ctx)
}

// GRPCServerShutdowner is the interface for gRPC servers that can be gracefully stopped.
type GRPCServerShutdowner interface {
	GracefulStop()
}

// GRPCServerComponent wraps a gRPC server for graceful shutdown.
type GRPCServerComponent struct {
	name   string
	server GRPCServerShutdowner
}

// NewGRPCServerComponent creates a new gRPC server shutdown component.
func NewGRPCServerComponent(name string, server GRPCServerShutdowner) *GRPCServerComponent {
	return &GRPCServerComponent{
		name:   name,
		server: server,
	}
}

// Name returns the component name.
func (c *GRPCServerComponent) Name() string {
	return c.name
}

// Shutdown gracefully stops the gRPC server.
func (c *GRPCServerComponent) Shutdown(ctx context.Context) error {
	// GracefulStop blocks until all RPCs are finished
	// We run it in a goroutine and respect the context deadline
	done := make(chan struct{})
	go func() {
		c.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stopper is implemented by background loops such as the reconciliation
// poller.
type Stopper interface {
	Stop()
}

// StopperComponent wraps a background loop for graceful shutdown.
type StopperComponent struct {
	name    string
	stopper Stopper
}

// NewStopperComponent creates a new background loop shutdown component.
func NewStopperComponent(name string, stopper Stopper) *StopperComponent {
	return &StopperComponent{
		name:    name,
		stopper: stopper,
	}
}

// Name returns the component name.
func (c *StopperComponent) Name() string {
	return c.name
}

// Shutdown stops the loop, giving up when ctx expires.
func (c *StopperComponent) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.stopper.Stop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
