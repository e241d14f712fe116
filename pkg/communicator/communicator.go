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

// Package communicator defines the channel used to run commands inside a guest
// and to transfer artifacts onto it.
package communicator

import (
	"context"
	"errors"
	"fmt"
)

// ErrCommandFailed is matched by every ChannelError.
var ErrCommandFailed = errors.New("remote command failed")

// Communicator runs commands against a guest.
//
// Test reports whether a command succeeded and discards its output.
// Execute runs a command, forwards every output chunk to onOutput until it
// returns false, and returns the exit status. When error checking is enabled a
// non-zero exit status is returned as a *ChannelError. Transport failures are
// always returned as errors.
// Upload places a local file onto the guest at remotePath. remotePath is
// resolved by the guest shell, so environment references are allowed.
type Communicator interface {
	Test(ctx context.Context, command string, opts ...Option) bool
	Execute(ctx context.Context, command string, onOutput OutputFunc, opts ...Option) (int, error)
	Upload(ctx context.Context, localPath, remotePath string) error
}

// ExecOptions holds per-command settings.
type ExecOptions struct {
	// ErrorCheck turns a non-zero exit status into a *ChannelError.
	ErrorCheck bool
	// AutoReboot lets the channel reboot the guest when the command asks for it.
	AutoReboot bool
}

// Option mutates ExecOptions.
type Option func(*ExecOptions)

// WithErrorCheck sets ExecOptions.ErrorCheck.
func WithErrorCheck(enabled bool) Option {
	return func(o *ExecOptions) {
		o.ErrorCheck = enabled
	}
}

// WithAutoReboot sets ExecOptions.AutoReboot.
func WithAutoReboot(enabled bool) Option {
	return func(o *ExecOptions) {
		o.AutoReboot = enabled
	}
}

// NewExecOptions applies opts over the defaults. Error checking is on by default.
func NewExecOptions(opts ...Option) ExecOptions {
	out := ExecOptions{
		ErrorCheck: true,
		AutoReboot: false,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(&out)
		}
	}

	return out
}

// ChannelError is returned by Execute when error checking is enabled and the
// command exits with a non-zero status.
type ChannelError struct {
	Command    string
	ExitStatus int
	Stderr     string
}

func (e *ChannelError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: command %q exited with status %d", ErrCommandFailed, e.Command, e.ExitStatus)
	}

	return fmt.Sprintf(
		"%s: command %q exited with status %d: %s",
		ErrCommandFailed,
		e.Command,
		e.ExitStatus,
		e.Stderr,
	)
}

// Is implements errors.Is.
func (e *ChannelError) Is(target error) bool {
	return target == ErrCommandFailed
}
