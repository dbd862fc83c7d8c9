/*
Copyright 2024 Alexandre Mahdhaoui

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package gracefulshutdown

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// SignalExitCode is the exit code used when a signal triggers the shutdown.
const SignalExitCode = 130

// Cleanup restores state modified by a run. It receives a context that is
// not cancelled, since the run context usually is by the time it executes.
type Cleanup func(ctx context.Context) error

// GracefulShutdown owns the run context, cancelled on SIGTERM or SIGINT, and
// the cleanups executed exactly once before the process exits.
type GracefulShutdown struct {
	ctx    context.Context
	cancel context.CancelFunc
	name   string

	once sync.Once
	mu   sync.Mutex

	cleanups []Cleanup

	// exitFunc allows injecting exit behavior for testing
	exitFunc func(int)
}

// NewWithExit creates a GracefulShutdown with a custom exit function.
func NewWithExit(name string, exitFunc func(int)) *GracefulShutdown {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)

	gs := &GracefulShutdown{
		ctx:      ctx,
		cancel:   cancel,
		name:     name,
		exitFunc: exitFunc,
	}

	// Only a signal reaches this call first: Shutdown cancels ctx from
	// within once.Do, which makes this call a no-op.
	go func() {
		<-ctx.Done()
		gs.Shutdown(SignalExitCode)
	}()

	return gs
}

// New creates a GracefulShutdown exiting through os.Exit.
func New(name string) *GracefulShutdown {
	return NewWithExit(name, os.Exit)
}

// OnShutdown registers fn. Cleanups run in reverse registration order.
func (s *GracefulShutdown) OnShutdown(fn Cleanup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanups = append(s.cleanups, fn)
}

// Shutdown cancels the run context, runs the registered cleanups and exits
// with exitCode. Only the first call has any effect.
func (s *GracefulShutdown) Shutdown(exitCode int) {
	s.once.Do(func() {
		slog.Debug(fmt.Sprintf("gracefully shutting down %s", s.name))

		s.cancel()

		s.mu.Lock()
		cleanups := s.cleanups
		s.cleanups = nil
		s.mu.Unlock()

		cleanupCtx := context.WithoutCancel(s.ctx)
		for i := len(cleanups) - 1; i >= 0; i-- {
			if err := cleanups[i](cleanupCtx); err != nil {
				slog.Warn("cleanup failed", "name", s.name, "error", err.Error())
			}
		}

		s.exitFunc(exitCode)
	})
}

// Context returns the run context.
func (s *GracefulShutdown) Context() context.Context {
	return s.ctx
}
