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

// Package windows installs VirtualBox Guest Additions on Windows guests by
// uploading the tooling ISO, mounting it and running the bundled installer
// through PowerShell.
package windows

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alexandremahdhaoui/vbguest/internal/installer"
	"github.com/alexandremahdhaoui/vbguest/internal/iso"
	"github.com/alexandremahdhaoui/vbguest/internal/metrics"
	"github.com/alexandremahdhaoui/vbguest/internal/oscache"
	"github.com/alexandremahdhaoui/vbguest/internal/util/powershell"
	"github.com/alexandremahdhaoui/vbguest/internal/version"
	"github.com/alexandremahdhaoui/vbguest/pkg/communicator"
	"github.com/alexandremahdhaoui/vbguest/pkg/guest"
	"github.com/google/uuid"
	goversion "github.com/hashicorp/go-version"
)

const (
	// Priority orders the strategy during guest detection.
	Priority = 2

	// DefaultISOUploadPath is expanded by the guest shell.
	DefaultISOUploadPath = "$env:TEMP/VBoxGuestAdditions.iso"

	// InstallerName is the installer executable at the root of the ISO.
	InstallerName = iso.WindowsInstallerName

	osNameQuery           = "(Get-WMIObject win32_operatingsystem).name"
	runningQuery          = "Get-Service VBoxService"
	serviceVersionCommand = "VBoxService --version"
)

var (
	ErrMountPointNotResolved = errors.New("failed to resolve mount point of guest additions ISO")

	errEmptyISOFile     = errors.New("no guest additions ISO file configured")
	errVerifyISO        = errors.New("failed to verify guest additions ISO")
	errUploadISO        = errors.New("failed to upload guest additions ISO")
	errMountISO         = errors.New("failed to mount guest additions ISO")
	errExecuteInstaller = errors.New("failed to execute guest additions installer")
	errQueryOSRelease   = errors.New("failed to query guest OS release")
)

// DriverVersioner reports the tooling version seen by the hypervisor driver.
type DriverVersioner interface {
	DriverVersion(ctx context.Context, target guest.Target) (string, error)
}

// Windows is the install strategy for Windows guests. It is not safe for
// concurrent use; callers serialize operations per guest.
type Windows struct {
	target guest.Target
	opts   installer.Options

	cache     *oscache.Cache
	driver    DriverVersioner
	notify    installer.Notifier
	metrics   *metrics.Metrics
	verifyISO func(path string) error

	installerPath string
	guestVersion  string
}

type Option func(*Windows)

// WithCache sets the OS release cache. Defaults to oscache.Default().
func WithCache(c *oscache.Cache) Option {
	return func(w *Windows) {
		w.cache = c
	}
}

// WithDriverVersioner sets the driver version probe. Without one the driver
// version is unknown.
func WithDriverVersioner(d DriverVersioner) Option {
	return func(w *Windows) {
		w.driver = d
	}
}

// WithNotifier sets the operator message sink. Defaults to slog.Default().
func WithNotifier(n installer.Notifier) Option {
	return func(w *Windows) {
		w.notify = n
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Windows) {
		w.metrics = m
	}
}

// WithISOVerifier replaces the local ISO check run when Options.VerifyISO is set.
func WithISOVerifier(verify func(path string) error) Option {
	return func(w *Windows) {
		w.verifyISO = verify
	}
}

// New returns a strategy bound to target.
func New(target guest.Target, opts installer.Options, options ...Option) *Windows {
	w := &Windows{
		target:    target,
		opts:      opts,
		cache:     oscache.Default(),
		notify:    slog.Default(),
		verifyISO: iso.VerifyWindowsInstaller,
	}

	for _, opt := range options {
		opt(w)
	}

	return w
}

// Register adds the Windows strategy to r.
func Register(r *installer.Registry, options ...Option) error {
	return r.Register(installer.Registration{
		Kind:     installer.KindWindows,
		Priority: Priority,
		Match:    Match,
		New: func(target guest.Target, opts installer.Options) installer.Strategy {
			return New(target, opts, options...)
		},
	})
}

// Match reports whether target runs Windows. The probe has no side effects and
// fails cleanly on other guests. It belongs to the Windows variant only: any
// other kind yields a *installer.ConfigurationError before touching the guest.
func Match(ctx context.Context, kind installer.Kind, target guest.Target) (bool, error) {
	if kind != installer.KindWindows {
		return false, &installer.ConfigurationError{
			Kind:   kind,
			Reason: "the windows match routine cannot be used by another strategy",
		}
	}

	if err := target.Validate(); err != nil {
		return false, err
	}

	return target.Comm.Test(ctx, osNameQuery), nil
}

// QueryOSRelease reads the OS name of target and stores it in cache.
func QueryOSRelease(ctx context.Context, cache *oscache.Cache, target guest.Target) (string, error) {
	if err := target.Validate(); err != nil {
		return "", errors.Join(err, errQueryOSRelease)
	}

	var out strings.Builder

	if _, err := target.Comm.Execute(ctx, osNameQuery, communicator.Collect(&out)); err != nil {
		return "", errors.Join(err, fmt.Errorf("guest=%s", target.ID), errQueryOSRelease)
	}

	release := strings.TrimSpace(out.String())
	cache.Set(target.ID, release)

	return release, nil
}

// Kind implements installer.Strategy.
func (w *Windows) Kind() installer.Kind {
	return installer.KindWindows
}

// OSRelease implements installer.Strategy.
func (w *Windows) OSRelease(ctx context.Context) (string, error) {
	return QueryOSRelease(ctx, w.cache, w.target)
}

// TmpPath is where the ISO is placed on the guest.
func (w *Windows) TmpPath() string {
	if w.opts.ISOUploadPath != "" {
		return w.opts.ISOUploadPath
	}

	return DefaultISOUploadPath
}

// MountPoint returns the drive letter the ISO at TmpPath is mounted on. It is
// only meaningful once the ISO is mounted.
func (w *Windows) MountPoint(ctx context.Context) (string, error) {
	cmd := fmt.Sprintf(
		"(Get-DiskImage -DevicePath (Get-DiskImage -ImagePath %s).DevicePath | Get-Volume).DriveLetter",
		powershell.Quote(w.TmpPath()),
	)

	var letter string
	if _, err := w.target.Comm.Execute(ctx, cmd, communicator.TakeFirst(&letter), w.execOpts()...); err != nil {
		return "", err
	}

	if letter == "" {
		return "", errors.Join(fmt.Errorf("isoPath=%s", w.TmpPath()), ErrMountPointNotResolved)
	}

	return letter, nil
}

// InstallerVersion returns the product version of the file at path. A missing
// file or unparsable output yields false.
func (w *Windows) InstallerVersion(ctx context.Context, path string) (string, bool) {
	cmd := fmt.Sprintf("(Get-Item %s).VersionInfo.ProductVersion", powershell.Quote(path))

	var out strings.Builder
	if _, err := w.target.Comm.Execute(ctx, cmd, communicator.Collect(&out), communicator.WithErrorCheck(false)); err != nil {
		slog.Debug("installer version probe failed", "guest", w.target.ID, "path", path, "error", err)
		return "", false
	}

	v := version.Find(out.String())
	if v == nil {
		return "", false
	}

	return version.String(v), true
}

// Install uploads, mounts and runs the installer, then cleans up unless
// Options.NoCleanup is set. A non-zero installer exit status is not an error;
// it is returned in the Outcome.
func (w *Windows) Install(ctx context.Context) (installer.Outcome, error) {
	start := time.Now()
	runID := uuid.NewString()

	outcome, err := w.install(ctx, runID)
	w.metrics.ObserveInstall(string(installer.KindWindows), w.target.ID, outcome.ExitStatus, err, time.Since(start))

	return outcome, err
}

func (w *Windows) install(ctx context.Context, runID string) (installer.Outcome, error) {
	if w.opts.ISOFile == "" {
		return installer.Outcome{}, errEmptyISOFile
	}

	if w.opts.VerifyISO {
		if err := w.verifyISO(w.opts.ISOFile); err != nil {
			return installer.Outcome{}, errors.Join(err, errVerifyISO)
		}
	}

	if err := w.target.Comm.Upload(ctx, w.opts.ISOFile, w.TmpPath()); err != nil {
		return installer.Outcome{}, errors.Join(err, fmt.Errorf("isoPath=%s", w.TmpPath()), errUploadISO)
	}

	mountPoint, err := w.mountISO(ctx, runID)
	if err != nil {
		return installer.Outcome{}, err
	}

	path := w.installer(mountPoint)

	exitStatus, err := w.executeInstaller(ctx, runID, path)
	if err != nil {
		return installer.Outcome{Installer: path}, err
	}

	if !w.opts.NoCleanup {
		w.unmountISO(ctx, runID, mountPoint)
	}

	return installer.Outcome{ExitStatus: exitStatus, Installer: path}, nil
}

// Running reports whether the guest tooling service can be queried.
func (w *Windows) Running(ctx context.Context, opts ...communicator.Option) bool {
	return w.target.Comm.Test(ctx, runningQuery, opts...)
}

// GuestVersion returns the tooling version when the driver and the running
// service agree on it. A confirmed version is memoized until reload is set.
// A disagreement is reported to the notifier and yields false.
func (w *Windows) GuestVersion(ctx context.Context, reload bool) (string, bool) {
	if w.guestVersion != "" && !reload {
		return w.guestVersion, true
	}

	w.guestVersion = ""

	service := w.serviceVersion(ctx)
	if service == nil {
		return "", false
	}

	driver := w.driverVersion(ctx)
	if !version.Equal(driver, service) {
		w.notify.Warn("guest additions version reports differ",
			"guest", w.target.ID,
			"driver", version.String(driver),
			"service", version.String(service))
		w.metrics.ObserveVersionMismatch(w.target.ID)

		return "", false
	}

	w.guestVersion = version.String(service)

	return w.guestVersion, true
}

func (w *Windows) execOpts() []communicator.Option {
	return []communicator.Option{communicator.WithErrorCheck(w.opts.ErrorCheck)}
}

func (w *Windows) installer(mountPoint string) string {
	if w.installerPath == "" {
		w.installerPath = fmt.Sprintf(`%s:\%s`, mountPoint, InstallerName)
	}

	return w.installerPath
}

func (w *Windows) mountISO(ctx context.Context, runID string) (string, error) {
	cmd := "Mount-DiskImage -ImagePath " + powershell.Quote(w.TmpPath())
	if _, err := w.target.Comm.Execute(ctx, cmd, nil, w.execOpts()...); err != nil {
		return "", errors.Join(err, errMountISO)
	}

	mountPoint, err := w.MountPoint(ctx)
	if err != nil {
		return "", errors.Join(err, errMountISO)
	}

	w.notify.Info("mounted guest additions ISO",
		"guest", w.target.ID,
		"runID", runID,
		"mountPoint", mountPoint)

	return mountPoint, nil
}

func (w *Windows) executeInstaller(ctx context.Context, runID, path string) (int, error) {
	w.notify.Info("installing guest additions, this may take a while",
		"guest", w.target.ID,
		"runID", runID,
		"installer", path)

	cmd := fmt.Sprintf(
		"$p = Start-Process -FilePath %s -ArgumentList '/S' -Wait -PassThru; exit $p.ExitCode",
		powershell.Quote(path),
	)

	exitStatus, err := w.target.Comm.Execute(ctx, cmd, nil,
		communicator.WithErrorCheck(false),
		communicator.WithAutoReboot(w.opts.AutoReboot))
	if err != nil {
		return exitStatus, errors.Join(err, fmt.Errorf("installer=%s", path), errExecuteInstaller)
	}

	if exitStatus != 0 {
		w.notify.Warn("guest additions installer failed",
			"guest", w.target.ID,
			"runID", runID,
			"installer", path,
			"exitStatus", exitStatus)
	}

	return exitStatus, nil
}

// unmountISO is best effort: failures are reported, never returned.
func (w *Windows) unmountISO(ctx context.Context, runID, mountPoint string) {
	w.notify.Info("unmounting guest additions ISO",
		"guest", w.target.ID,
		"runID", runID,
		"mountPoint", mountPoint)

	for _, cmd := range []string{
		"Dismount-DiskImage -ImagePath " + powershell.Quote(w.TmpPath()),
		"Remove-Item -Path " + powershell.Quote(w.TmpPath()),
	} {
		if _, err := w.target.Comm.Execute(ctx, cmd, nil, w.execOpts()...); err != nil {
			w.notify.Warn("guest additions ISO cleanup failed",
				"guest", w.target.ID,
				"runID", runID,
				"error", err)
		}
	}
}

func (w *Windows) serviceVersion(ctx context.Context) *goversion.Version {
	var out strings.Builder

	_, err := w.target.Comm.Execute(ctx, serviceVersionCommand, communicator.Collect(&out), communicator.WithErrorCheck(false))
	if err != nil {
		slog.Debug("service version probe failed", "guest", w.target.ID, "error", err)
		return nil
	}

	return version.FindPrefix(out.String())
}

func (w *Windows) driverVersion(ctx context.Context) *goversion.Version {
	if w.driver == nil {
		return nil
	}

	raw, err := w.driver.DriverVersion(ctx, w.target)
	if err != nil {
		slog.Debug("driver version probe failed", "guest", w.target.ID, "error", err)
		return nil
	}

	return version.FindPrefix(raw)
}
