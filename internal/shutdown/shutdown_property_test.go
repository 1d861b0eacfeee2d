package shutdown

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// recordingComponent appends its name to a shared log when shut down.
type recordingComponent struct {
	name  string
	delay time.Duration
	err   error
	mu    *sync.Mutex
	order *[]string
}

func (r *recordingComponent) Name() string { return r.name }

func (r *recordingComponent) Shutdown(ctx context.Context) error {
	select {
	case <-time.After(r.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	r.mu.Lock()
	*r.order = append(*r.order, r.name)
	r.mu.Unlock()
	return r.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Components are shut down exactly once each, last registered first.
func TestPropertyShutdownOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("components stop in reverse registration order", prop.ForAll(
		func(n int) bool {
			var mu sync.Mutex
			var order []string
			c := NewCoordinator(WithTimeout(time.Second), WithLogger(quietLogger()))
			for i := 0; i < n; i++ {
				c.Register(&recordingComponent{name: string(rune('a' + i)), mu: &mu, order: &order})
			}

			c.Shutdown()
			c.Shutdown()

			if len(order) != n || c.ExitCode() != 0 {
				return false
			}
			for i, name := range order {
				if name != string(rune('a'+n-1-i)) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 8),
	))

	properties.TestingRun(t)
}

func TestShutdownOnSignal(t *testing.T) {
	sigCh := make(chan os.Signal, 1)
	var mu sync.Mutex
	var order []string
	c := NewCoordinator(WithSignalChannel(sigCh), WithLogger(quietLogger()))
	c.Register(&recordingComponent{name: "store", mu: &mu, order: &order})

	go c.WaitForSignal(context.Background())
	sigCh <- os.Interrupt
	c.Wait()

	if len(order) != 1 || c.ExitCode() != 0 {
		t.Fatalf("order = %v, exit = %d", order, c.ExitCode())
	}
}

func TestShutdownOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := NewCoordinator(WithSignalChannel(make(chan os.Signal)), WithLogger(quietLogger()))

	go c.WaitForSignal(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		c.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not shut down after cancel")
	}
}

func TestShutdownFailureSetsExitCode(t *testing.T) {
	var mu sync.Mutex
	var order []string
	c := NewCoordinator(WithLogger(quietLogger()))
	c.Register(&recordingComponent{name: "store", mu: &mu, order: &order})
	c.Register(&recordingComponent{name: "http", err: errors.New("boom"), mu: &mu, order: &order})

	c.Shutdown()

	if c.ExitCode() != 1 {
		t.Errorf("exit code = %d", c.ExitCode())
	}
	if len(order) != 2 {
		t.Errorf("a failing component must not stop the rest: %v", order)
	}
}

func TestShutdownTimeoutSkipsRemaining(t *testing.T) {
	var mu sync.Mutex
	var order []string
	c := NewCoordinator(WithTimeout(50*time.Millisecond), WithLogger(quietLogger()))
	c.Register(&recordingComponent{name: "store", mu: &mu, order: &order})
	c.Register(&recordingComponent{name: "slow", delay: time.Second, mu: &mu, order: &order})

	start := time.Now()
	c.Shutdown()

	if time.Since(start) > 500*time.Millisecond {
		t.Error("shutdown ignored its timeout")
	}
	if c.ExitCode() != 1 || len(order) != 0 {
		t.Errorf("exit = %d, order = %v", c.ExitCode(), order)
	}
}

type stopper struct{ stopped chan struct{} }

func (s *stopper) Stop() { close(s.stopped) }

type graceful struct{ block chan struct{} }

func (g *graceful) GracefulStop() { <-g.block }

func TestComponentAdapters(t *testing.T) {
	s := &stopper{stopped: make(chan struct{})}
	if err := NewStopperComponent("poller", s).Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case <-s.stopped:
	default:
		t.Error("poller was not stopped")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	g := &graceful{block: make(chan struct{})}
	defer close(g.block)
	if err := NewGRPCServerComponent("grpc", g).Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("grpc shutdown err = %v", err)
	}

	called := false
	fn := NewFuncComponent("http", func(context.Context) error { called = true; return nil })
	if fn.Name() != "http" || fn.Shutdown(context.Background()) != nil || !called {
		t.Error("func component did not run")
	}
}
