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

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/alexandremahdhaoui/vbguest/internal/installer"
	"github.com/alexandremahdhaoui/vbguest/internal/installer/windows"
	"github.com/alexandremahdhaoui/vbguest/internal/provider/libvirt"
	"github.com/alexandremahdhaoui/vbguest/internal/provider/vboxmanage"
	"github.com/alexandremahdhaoui/vbguest/internal/util/hostexec"
	"github.com/alexandremahdhaoui/vbguest/internal/util/ssh"
	"github.com/alexandremahdhaoui/vbguest/pkg/communicator"
	"github.com/alexandremahdhaoui/vbguest/pkg/guest"
	"github.com/spf13/cobra"
)

var (
	errNoISOFile               = errors.New("install.isoFile must be set to install guest additions")
	errInstallerVersionUnknown = errors.New("unable to read installer version")
)

func newInstallCmd(a *app) *cobra.Command {
	var (
		isoFile       string
		isoUploadPath string
		noCleanup     bool
		verifyISO     bool
	)

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Upload, mount and run the guest additions installer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := &a.config.Install
			if cmd.Flags().Changed("iso") {
				opts.ISOFile = isoFile
			}
			if cmd.Flags().Changed("iso-upload-path") {
				opts.ISOUploadPath = isoUploadPath
			}
			if cmd.Flags().Changed("no-cleanup") {
				opts.NoCleanup = noCleanup
			}
			if cmd.Flags().Changed("verify-iso") {
				opts.VerifyISO = verifyISO
			}

			if opts.ISOFile == "" {
				return errNoISOFile
			}

			s, err := a.strategy(cmd.Context())
			if err != nil {
				return err
			}

			outcome, err := s.Install(cmd.Context())
			if err != nil {
				return fmt.Errorf("installing guest additions: %w", err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "installer: %s\nexit status: %d\n", outcome.Installer, outcome.ExitStatus)

			if !outcome.Succeeded() {
				return &ExitStatusError{Code: outcome.ExitStatus}
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&isoFile, "iso", "", "local guest additions ISO")
	cmd.Flags().StringVar(&isoUploadPath, "iso-upload-path", "", "destination of the ISO on the guest")
	cmd.Flags().BoolVar(&noCleanup, "no-cleanup", false, "keep the ISO mounted and on the guest")
	cmd.Flags().BoolVar(&verifyISO, "verify-iso", false, "check the ISO contains the installer before uploading")

	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether guest additions run and which version is installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.strategy(cmd.Context())
			if err != nil {
				return err
			}

			running := s.Running(cmd.Context(), communicator.WithErrorCheck(false))

			v, ok := s.GuestVersion(cmd.Context(), true)
			if !ok {
				v = "unknown"
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "running: %t\nversion: %s\n", running, v)

			return nil
		},
	}
}

func newOSReleaseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "os-release",
		Short: "Print the guest operating system name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.strategy(cmd.Context())
			if err != nil {
				return err
			}

			release, err := s.OSRelease(cmd.Context())
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), release)

			return nil
		},
	}
}

func newInstallerVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "installer-version <guest-path>",
		Short: "Print the product version of an installer on the guest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.strategy(cmd.Context())
			if err != nil {
				return err
			}

			v, ok := s.InstallerVersion(cmd.Context(), args[0])
			if !ok {
				return errors.Join(fmt.Errorf("path=%s", args[0]), errInstallerVersionUnknown)
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), v)

			return nil
		},
	}
}

// strategy connects to the guest and returns the detected install strategy.
func (a *app) strategy(ctx context.Context) (installer.Strategy, error) {
	comm, err := a.communicator()
	if err != nil {
		return nil, err
	}

	id, err := a.guestID(ctx)
	if err != nil {
		return nil, err
	}

	target, err := guest.NewTarget(id, comm)
	if err != nil {
		return nil, err
	}

	driver := vboxmanage.New(a.config.VBoxManage, hostexec.New(nil, nil))
	driver.VMName = a.config.Guest.Name

	r := installer.NewRegistry()
	if err := windows.Register(r,
		windows.WithDriverVersioner(driver),
		windows.WithNotifier(a.logger),
		windows.WithMetrics(a.metrics),
	); err != nil {
		return nil, err
	}

	reg, err := r.Detect(ctx, target)
	if err != nil {
		return nil, err
	}

	a.logger.Info("detected guest", "guest", target.ID, "kind", reg.Kind)

	return reg.New(target, a.config.Install), nil
}

func (a *app) communicator() (*ssh.Client, error) {
	cfg := a.config.SSH

	var (
		client *ssh.Client
		err    error
	)

	if cfg.PrivateKeyPath != "" {
		client, err = ssh.NewClient(cfg.Host, cfg.User, cfg.PrivateKeyPath, cfg.Port)
		if err != nil {
			return nil, err
		}
		client.Password = cfg.Password
	} else {
		client = ssh.NewPasswordClient(cfg.Host, cfg.User, cfg.Password, cfg.Port)
	}

	timeout, err := a.config.SSHTimeout()
	if err != nil {
		return nil, err
	}

	client.Timeout = timeout
	client.Log = a.log.WithName("ssh")

	return client, nil
}

// guestID returns the configured ID, the libvirt domain UUID when identity
// resolution is on, or the machine name.
func (a *app) guestID(ctx context.Context) (string, error) {
	cfg := a.config.Guest

	switch {
	case cfg.ID != "":
		return cfg.ID, nil
	case cfg.ResolveIdentity:
		resolver, err := libvirt.NewResolver(cfg.LibvirtURI)
		if err != nil {
			return "", err
		}
		defer func() { _ = resolver.Close() }()

		identity, err := resolver.Resolve(ctx, cfg.Name)
		if err != nil {
			return "", err
		}

		a.logger.Debug("resolved guest identity", "name", identity.Name, "uuid", identity.UUID)

		return identity.UUID, nil
	default:
		return cfg.Name, nil
	}
}
