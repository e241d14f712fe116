//go:build unit

// Copyright 2024 Alexandre Mahdhaoui
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unreachableConfig points at a closed local port so any connection fails fast.
const unreachableConfig = `
guest:
  name: win10
ssh:
  host: 127.0.0.1
  port: "1"
  password: vagrant
  timeout: 2s
`

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()

	t.Setenv(ConfigPathEnvKey, "")
	t.Setenv("VBGUEST_ISO_FILE", "")

	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)

	return code, stdout.String(), stderr.String()
}

func TestRun_Help(t *testing.T) {
	code, stdout, _ := runCLI(t, "--help")

	assert.Equal(t, 0, code)
	for _, sub := range []string{"install", "status", "os-release", "installer-version"} {
		assert.Contains(t, stdout, sub)
	}
}

func TestRun_Version(t *testing.T) {
	code, stdout, _ := runCLI(t, "--version")

	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, Version)
}

func TestRun_InvalidConfig(t *testing.T) {
	code, _, stderr := runCLI(t, "status")

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "failed to load configuration")
}

func TestRun_InstallerVersionRequiresPath(t *testing.T) {
	code, _, stderr := runCLI(t, "installer-version")

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "accepts 1 arg(s)")
}

// TestRun_InstallRequiresISO verifies install fails before connecting when no ISO is set.
func TestRun_InstallRequiresISO(t *testing.T) {
	path := writeConfig(t, "config.yaml", unreachableConfig)

	code, _, stderr := runCLI(t, "--config", path, "install")

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, errNoISOFile.Error())
}

// TestRun_NoStrategy verifies an unreachable guest matches no strategy.
func TestRun_NoStrategy(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, "config.yaml", unreachableConfig+
		fmt.Sprintf("metricsTextfile: %s\n", filepath.Join(dir, "vbguest.prom")))

	code, _, stderr := runCLI(t, "--config", path, "install", "--iso", filepath.Join(dir, "additions.iso"))

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "no installer strategy matched the guest")
	assert.FileExists(t, filepath.Join(dir, "vbguest.prom"))
}

func TestExitCode(t *testing.T) {
	var stderr bytes.Buffer

	assert.Equal(t, 0, exitCode(nil, &stderr))
	assert.Empty(t, stderr.String())

	assert.Equal(t, 2, exitCode(fmt.Errorf("wrapped: %w", &ExitStatusError{Code: 2}), &stderr))
	assert.Empty(t, stderr.String())

	assert.Equal(t, 1, exitCode(errors.New("boom"), &stderr))
	assert.Equal(t, "Error: boom\n", stderr.String())
}

// TestExitStatusError_ProcessExitCode verifies installer statuses never exit as
// success or as a truncated value.
func TestExitStatusError_ProcessExitCode(t *testing.T) {
	tests := []struct {
		status int
		want   int
	}{
		{status: 1, want: 1},
		{status: 2, want: 2},
		{status: 255, want: 255},
		{status: 256, want: 1},
		{status: 1603, want: 1},
		{status: 2560, want: 1},
		{status: 3010, want: 1},
		{status: -1, want: 1},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			var stderr bytes.Buffer
			err := &ExitStatusError{Code: tt.status}

			assert.Equal(t, tt.want, err.ProcessExitCode())
			assert.Equal(t, tt.want, exitCode(err, &stderr))
			assert.NotZero(t, exitCode(err, &stderr)&0xff)
			assert.Empty(t, stderr.String())
		})
	}
}

func TestApp_GuestID(t *testing.T) {
	a := &app{config: NewDefaultConfig()}
	a.config.Guest.Name = "win10"

	id, err := a.guestID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "win10", id)

	a.config.Guest.ID = "6b3f0c1e-0000-4000-8000-000000000001"

	id, err = a.guestID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "6b3f0c1e-0000-4000-8000-000000000001", id)
}

func TestApp_Communicator(t *testing.T) {
	a := &app{config: NewDefaultConfig()}
	a.config.SSH.Host = "10.0.2.15"
	a.config.SSH.Password = "vagrant"
	a.config.SSH.Timeout = "3s"

	client, err := a.communicator()
	require.NoError(t, err)
	assert.Equal(t, "10.0.2.15", client.Host)
	assert.Equal(t, "vagrant", client.Password)
	assert.Equal(t, "3s", client.Timeout.String())

	a.config.SSH.PrivateKeyPath = filepath.Join(t.TempDir(), "missing")
	_, err = a.communicator()
	assert.Error(t, err)
}

func TestApp_FlushMetricsWithoutConfig(t *testing.T) {
	a := &app{}
	a.flushMetrics()

	_, err := os.Stat("vbguest.prom")
	assert.True(t, os.IsNotExist(err))
}
