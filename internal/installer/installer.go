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

// Package installer defines guest tooling installer strategies and how the
// orchestrator picks one for a guest.
package installer

import (
	"context"
	"errors"
	"fmt"

	"github.com/alexandremahdhaoui/vbguest/pkg/communicator"
	"github.com/alexandremahdhaoui/vbguest/pkg/guest"
)

// ErrConfiguration is matched by every ConfigurationError.
var ErrConfiguration = errors.New("installer configuration error")

// Kind tags a strategy variant. The set of kinds is closed.
type Kind string

const (
	KindWindows Kind = "windows"
)

// ConfigurationError reports a strategy wired to the wrong variant.
type ConfigurationError struct {
	Kind   Kind
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: kind=%q: %s", ErrConfiguration, e.Kind, e.Reason)
}

// Is implements errors.Is.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// Notifier receives operator-facing messages. *slog.Logger satisfies it.
type Notifier interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Options configures an install.
type Options struct {
	// ISOFile is the local tooling ISO to upload.
	ISOFile string `json:"isoFile"`

	// ISOUploadPath overrides the destination path on the guest.
	ISOUploadPath string `json:"isoUploadPath,omitempty"`

	// NoCleanup keeps the ISO mounted and on disk after the install.
	NoCleanup bool `json:"noCleanup"`

	// ErrorCheck makes failing remote commands abort the sequence.
	ErrorCheck bool `json:"errorCheck"`

	// AutoReboot is passed to the installer execution step.
	AutoReboot bool `json:"autoReboot"`

	// VerifyISO checks the local ISO contains the installer before uploading.
	VerifyISO bool `json:"verifyISO"`
}

// NewDefaultOptions returns Options with error checking and auto reboot on.
func NewDefaultOptions() Options {
	return Options{
		ErrorCheck: true,
		AutoReboot: true,
	}
}

// Outcome is the result of an install attempt.
type Outcome struct {
	// ExitStatus is the installer exit status; 0 means success.
	ExitStatus int
	// Installer is the guest path of the executed installer.
	Installer string
}

// Succeeded reports whether the installer exited with status 0.
func (o Outcome) Succeeded() bool {
	return o.ExitStatus == 0
}

// Strategy installs and inspects guest tooling for one kind of guest.
type Strategy interface {
	Kind() Kind
	OSRelease(ctx context.Context) (string, error)
	Install(ctx context.Context) (Outcome, error)
	Running(ctx context.Context, opts ...communicator.Option) bool
	// GuestVersion returns the confirmed tooling version, or false when it
	// cannot be confirmed.
	GuestVersion(ctx context.Context, reload bool) (string, bool)
	InstallerVersion(ctx context.Context, path string) (string, bool)
}

// MatchFunc reports whether the strategy of the given kind applies to target.
type MatchFunc func(ctx context.Context, kind Kind, target guest.Target) (bool, error)

// Factory builds a strategy bound to target.
type Factory func(target guest.Target, opts Options) Strategy
