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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alexandremahdhaoui/vbguest/internal/metrics"
	"github.com/alexandremahdhaoui/vbguest/internal/util/gracefulshutdown"
	"github.com/alexandremahdhaoui/vbguest/internal/util/logging"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
)

// Name is the binary name.
const Name = "vbguest"

// Version is overridden at build time.
var Version = "dev"

// maxProcessExitCode is the largest exit code a POSIX parent can observe.
const maxProcessExitCode = 255

// ExitStatusError reports a non-zero guest installer exit status without
// printing an error.
type ExitStatusError struct {
	Code int
}

// ProcessExitCode returns Code when the process can exit with it unchanged,
// else 1. Installer statuses such as 1603 or 3010 would be truncated to 8 bits
// and a multiple of 256 would read as success.
func (e *ExitStatusError) ProcessExitCode() int {
	if e.Code >= 1 && e.Code <= maxProcessExitCode {
		return e.Code
	}

	return 1
}

func (e *ExitStatusError) Error() string {
	return fmt.Sprintf("guest additions installer exited with status %d", e.Code)
}

// app carries the state shared by subcommands once the config is loaded.
type app struct {
	configPath string

	config  *Config
	logger  *slog.Logger
	log     logr.Logger
	metrics *metrics.Metrics
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	gs := gracefulshutdown.New(Name)
	defer gs.Stop()

	a := &app{}
	cmd := newRootCmd(a)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(gs.Context())
	a.flushMetrics()

	return gs.ExitCode(exitCode(err, stderr))
}

func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return 0
	}

	var exitErr *ExitStatusError
	if errors.As(err, &exitErr) {
		return exitErr.ProcessExitCode()
	}

	_, _ = fmt.Fprintln(stderr, "Error:", err)

	return 1
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           Name,
		Short:         "Install VirtualBox Guest Additions on Windows guests",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv(ConfigPathEnvKey),
		"path to a YAML or JSON config file (env "+ConfigPathEnvKey+")")

	cmd.AddCommand(
		newInstallCmd(a),
		newStatusCmd(a),
		newOSReleaseCmd(a),
		newInstallerVersionCmd(a),
	)

	return cmd
}

func (a *app) setup() error {
	config, err := LoadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	a.config = config
	a.logger, a.log = logging.Setup(logging.Options{
		Development: config.DevelopmentMode,
		Level:       logging.ParseLevel(config.LogLevel),
	})
	a.metrics = metrics.New()

	a.logger.Debug("configuration loaded",
		"guest", config.Guest.Name,
		"sshHost", config.SSH.Host,
		"isoFile", config.Install.ISOFile)

	return nil
}

// flushMetrics writes the metrics textfile when one is configured.
func (a *app) flushMetrics() {
	if a.config == nil || a.config.MetricsTextfile == "" {
		return
	}

	if err := a.metrics.WriteTextfile(a.config.MetricsTextfile); err != nil {
		a.logger.Warn("failed to write metrics textfile", "path", a.config.MetricsTextfile, "error", err)
	}
}
