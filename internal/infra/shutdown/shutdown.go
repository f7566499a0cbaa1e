// Package shutdown coordinates graceful process termination.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/yndnr/rollmesh-go/internal/telemetry/logger"
)

// DefaultTimeout bounds the time hooks get to finish.
const DefaultTimeout = 10 * time.Second

type hook struct {
	name string
	fn   func(context.Context) error
}

// Handler runs registered hooks once, on SIGINT/SIGTERM or when Trigger
// is called.
type Handler struct {
	timeout time.Duration
	log     logger.Logger

	mu    sync.Mutex
	hooks []hook

	ctx     context.Context
	cancel  context.CancelFunc
	trigger chan struct{}
	once    sync.Once
	done    chan struct{}
	signals []os.Signal
	sigCh   chan os.Signal
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Handler) {
		h.log = l
	}
}

// WithSignals replaces the signals that start shutdown.
func WithSignals(sigs ...os.Signal) Option {
	return func(h *Handler) {
		h.signals = sigs
	}
}

// NewHandler creates a shutdown handler and starts capturing signals.
func NewHandler(timeout time.Duration, opts ...Option) *Handler {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handler{
		timeout: timeout,
		log:     logger.NewNop(),
		ctx:     ctx,
		cancel:  cancel,
		trigger: make(chan struct{}),
		done:    make(chan struct{}),
		signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.sigCh = make(chan os.Signal, 1)
	signal.Notify(h.sigCh, h.signals...)
	return h
}

// Context is cancelled as soon as shutdown starts. Long-running loops
// select on it.
func (h *Handler) Context() context.Context {
	return h.ctx
}

// OnShutdown registers a named hook. Hooks run in reverse registration
// order.
func (h *Handler) OnShutdown(name string, fn func(context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, hook{name: name, fn: fn})
}

// Trigger starts shutdown without a signal.
func (h *Handler) Trigger() {
	h.once.Do(func() { close(h.trigger) })
}

// Wait blocks until a signal arrives or Trigger is called, then runs the
// hooks. The returned error joins every hook failure.
func (h *Handler) Wait() error {
	defer signal.Stop(h.sigCh)

	select {
	case sig := <-h.sigCh:
		h.log.Info("shutdown signal received", "signal", sig.String())
	case <-h.trigger:
		h.log.Info("shutdown requested")
	}
	h.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	h.mu.Lock()
	hooks := make([]hook, len(h.hooks))
	copy(hooks, h.hooks)
	h.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		start := time.Now()
		if err := hooks[i].fn(ctx); err != nil {
			h.log.Error("shutdown hook failed", "hook", hooks[i].name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", hooks[i].name, err))
			continue
		}
		h.log.Debug("shutdown hook done", "hook", hooks[i].name, "elapsed", time.Since(start))
	}

	close(h.done)
	return errors.Join(errs...)
}

// Done is closed after every hook has run.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}
