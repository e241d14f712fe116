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

// Package gracefulshutdown turns termination signals into context
// cancellation for one-shot commands. The first signal cancels the context so
// in-flight remote commands are killed; a second one exits immediately.
package gracefulshutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
)

// ExitInterrupted is the conventional exit code of a process stopped by SIGINT.
const ExitInterrupted = 130

// GracefulShutdown holds the context canceled by the first termination signal.
type GracefulShutdown struct {
	ctx    context.Context
	cancel context.CancelFunc
	name   string

	signals     chan os.Signal
	done        chan struct{}
	once        sync.Once
	interrupted atomic.Bool

	// exitFunc allows injecting exit behavior for testing
	exitFunc func(int)
}

// NewWithExit creates a GracefulShutdown calling exitFunc on a second signal.
// Without sigs it listens for SIGTERM and SIGINT.
func NewWithExit(name string, exitFunc func(int), sigs ...os.Signal) *GracefulShutdown {
	if len(sigs) == 0 {
		sigs = []os.Signal{syscall.SIGTERM, os.Interrupt}
	}

	ctx, cancel := context.WithCancel(context.Background())

	gs := &GracefulShutdown{
		ctx:      ctx,
		cancel:   cancel,
		name:     name,
		signals:  make(chan os.Signal, 2),
		done:     make(chan struct{}),
		exitFunc: exitFunc,
	}

	signal.Notify(gs.signals, sigs...)

	go gs.watch()

	return gs
}

// New creates a GracefulShutdown exiting the process on a second signal.
func New(name string) *GracefulShutdown {
	return NewWithExit(name, os.Exit)
}

func (s *GracefulShutdown) watch() {
	for {
		select {
		case <-s.done:
			return
		case sig := <-s.signals:
			if s.interrupted.Swap(true) {
				slog.Warn("second signal received, exiting now", "name", s.name, "signal", sig.String())
				s.exitFunc(ExitInterrupted)

				return
			}

			slog.Warn("⌛ gracefully shutting down "+s.name, "signal", sig.String())
			s.cancel()
		}
	}
}

// Context returns the context canceled on the first signal or by Stop.
func (s *GracefulShutdown) Context() context.Context {
	return s.ctx
}

// Interrupted reports whether a signal was received.
func (s *GracefulShutdown) Interrupted() bool {
	return s.interrupted.Load()
}

// ExitCode returns ExitInterrupted once a signal was received, else code.
func (s *GracefulShutdown) ExitCode(code int) int {
	if s.Interrupted() {
		return ExitInterrupted
	}

	return code
}

// Stop releases the signal handler and cancels the context. It is safe to
// call multiple times.
func (s *GracefulShutdown) Stop() {
	s.once.Do(func() {
		signal.Stop(s.signals)
		close(s.done)
		s.cancel()
	})
}
