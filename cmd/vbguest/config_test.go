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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	assert.Equal(t, "vbox:///session", config.Guest.LibvirtURI)
	assert.False(t, config.Guest.ResolveIdentity)
	assert.Equal(t, "22", config.SSH.Port)
	assert.Equal(t, "vagrant", config.SSH.User)
	assert.Equal(t, "10s", config.SSH.Timeout)
	assert.True(t, config.Install.ErrorCheck)
	assert.True(t, config.Install.AutoReboot)
	assert.False(t, config.Install.NoCleanup)
	assert.Empty(t, config.Install.ISOUploadPath)
	assert.Equal(t, "VBoxManage", config.VBoxManage)
	assert.False(t, config.DevelopmentMode)
}

func TestLoadConfig_ValidYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
guest:
  name: win10
  resolveIdentity: true
  libvirtURI: vbox:///system
ssh:
  host: 192.168.56.10
  port: "2222"
  user: Administrator
  password: secret
  timeout: 30s
install:
  isoFile: /opt/VBoxGuestAdditions.iso
  isoUploadPath: D:/custom.iso
  noCleanup: true
  errorCheck: false
vboxManage: /usr/local/bin/VBoxManage
metricsTextfile: /var/lib/node_exporter/vbguest.prom
developmentMode: true
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "win10", config.Guest.Name)
	assert.True(t, config.Guest.ResolveIdentity)
	assert.Equal(t, "vbox:///system", config.Guest.LibvirtURI)
	assert.Equal(t, "192.168.56.10", config.SSH.Host)
	assert.Equal(t, "2222", config.SSH.Port)
	assert.Equal(t, "Administrator", config.SSH.User)
	assert.Equal(t, "/opt/VBoxGuestAdditions.iso", config.Install.ISOFile)
	assert.Equal(t, "D:/custom.iso", config.Install.ISOUploadPath)
	assert.True(t, config.Install.NoCleanup)
	assert.False(t, config.Install.ErrorCheck)
	assert.True(t, config.Install.AutoReboot, "unset options keep their default")
	assert.Equal(t, "/usr/local/bin/VBoxManage", config.VBoxManage)
	assert.Equal(t, "/var/lib/node_exporter/vbguest.prom", config.MetricsTextfile)
	assert.True(t, config.DevelopmentMode)

	timeout, err := config.SSHTimeout()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, timeout)
}

func TestLoadConfig_ValidJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"guest": {"id": "6b3f0c1e-0000-4000-8000-000000000001"},
		"ssh": {"host": "10.0.2.15", "user": "vagrant", "privateKeyPath": "/home/user/.ssh/id_ed25519"}
	}`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "6b3f0c1e-0000-4000-8000-000000000001", config.Guest.ID)
	assert.Equal(t, "/home/user/.ssh/id_ed25519", config.SSH.PrivateKeyPath)
	assert.Equal(t, "22", config.SSH.Port)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	path := writeConfig(t, "config.yaml", "guest: [unterminated")

	config, err := LoadConfig(path)
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	config, err := LoadConfig("/nonexistent/path/config.yaml")
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
guest:
  name: from-file
ssh:
  host: 10.0.0.1
  password: file-secret
`)

	t.Setenv("VBGUEST_GUEST_NAME", "from-env")
	t.Setenv("VBGUEST_SSH_HOST", "10.0.0.2")
	t.Setenv("VBGUEST_SSH_PORT", "2200")
	t.Setenv("VBGUEST_ISO_FILE", "/tmp/additions.iso")
	t.Setenv("VBGUEST_ISO_UPLOAD_PATH", "C:/Windows/Temp/additions.iso")
	t.Setenv("VBGUEST_NO_CLEANUP", "yes")
	t.Setenv("VBGUEST_AUTO_REBOOT", "false")
	t.Setenv("VBGUEST_VERIFY_ISO", "1")
	t.Setenv("VBGUEST_DEV_MODE", "true")
	t.Setenv("LOG_LEVEL", "debug")

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", config.Guest.Name)
	assert.Equal(t, "10.0.0.2", config.SSH.Host)
	assert.Equal(t, "2200", config.SSH.Port)
	assert.Equal(t, "file-secret", config.SSH.Password)
	assert.Equal(t, "/tmp/additions.iso", config.Install.ISOFile)
	assert.Equal(t, "C:/Windows/Temp/additions.iso", config.Install.ISOUploadPath)
	assert.True(t, config.Install.NoCleanup)
	assert.False(t, config.Install.AutoReboot)
	assert.True(t, config.Install.VerifyISO)
	assert.True(t, config.DevelopmentMode)
	assert.Equal(t, "debug", config.LogLevel)
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	t.Setenv("VBGUEST_GUEST_NAME", "win10")
	t.Setenv("VBGUEST_SSH_HOST", "127.0.0.1")
	t.Setenv("VBGUEST_SSH_PASSWORD", "vagrant")

	config, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "win10", config.Guest.Name)
	assert.Equal(t, "vagrant", config.SSH.Password)
	assert.Empty(t, config.Install.ISOUploadPath)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := NewDefaultConfig()
		c.Guest.Name = "win10"
		c.SSH.Host = "127.0.0.1"
		c.SSH.Password = "vagrant"
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "no guest",
			mutate:  func(c *Config) { c.Guest.Name = "" },
			wantErr: "guest.name or guest.id must be set",
		},
		{
			name: "resolve identity without name",
			mutate: func(c *Config) {
				c.Guest.Name = ""
				c.Guest.ID = "id"
				c.Guest.ResolveIdentity = true
			},
			wantErr: "guest.resolveIdentity requires guest.name",
		},
		{
			name:    "no host",
			mutate:  func(c *Config) { c.SSH.Host = "" },
			wantErr: "ssh.host cannot be empty",
		},
		{
			name:    "no auth",
			mutate:  func(c *Config) { c.SSH.Password = "" },
			wantErr: "ssh.privateKeyPath or ssh.password must be set",
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.SSH.Port = "ssh" },
			wantErr: `ssh.port "ssh" is not a valid port`,
		},
		{
			name:    "bad timeout",
			mutate:  func(c *Config) { c.SSH.Timeout = "soon" },
			wantErr: `ssh.timeout "soon" is not a valid duration`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)

			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_AggregatesErrors(t *testing.T) {
	c := NewDefaultConfig()
	c.SSH.Port = "0"

	err := c.Validate()
	require.Error(t, err)

	for _, msg := range []string{"guest.name", "ssh.host", "ssh.privateKeyPath", "ssh.port"} {
		assert.Contains(t, err.Error(), msg)
	}
}
