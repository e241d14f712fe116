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
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/alexandremahdhaoui/vbguest/internal/installer"
	"github.com/alexandremahdhaoui/vbguest/internal/provider/libvirt"
	"github.com/alexandremahdhaoui/vbguest/internal/provider/vboxmanage"
	"sigs.k8s.io/yaml"
)

const (
	// ConfigPathEnvKey is the environment variable key for the config file path
	ConfigPathEnvKey = "VBGUEST_CONFIG_PATH"
)

// Config holds the configuration for vbguest
type Config struct {
	Guest   GuestConfig       `json:"guest"`
	SSH     SSHConfig         `json:"ssh"`
	Install installer.Options `json:"install"`

	// VBoxManage is the host binary used to read guest properties
	VBoxManage string `json:"vboxManage"`

	// MetricsTextfile is written after each command when set
	MetricsTextfile string `json:"metricsTextfile,omitempty"`

	// DevelopmentMode enables development logging
	DevelopmentMode bool `json:"developmentMode"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `json:"logLevel,omitempty"`
}

// GuestConfig identifies the guest.
type GuestConfig struct {
	// Name is the VirtualBox machine name
	Name string `json:"name"`

	// ID overrides the guest identity used as cache key
	ID string `json:"id,omitempty"`

	// ResolveIdentity looks the machine up through libvirt to use its UUID as ID
	ResolveIdentity bool `json:"resolveIdentity"`

	// LibvirtURI is the libvirt connection used by ResolveIdentity
	LibvirtURI string `json:"libvirtURI,omitempty"`
}

// SSHConfig configures the remote command channel.
type SSHConfig struct {
	Host           string `json:"host"`
	Port           string `json:"port"`
	User           string `json:"user"`
	PrivateKeyPath string `json:"privateKeyPath,omitempty"`
	Password       string `json:"password,omitempty"`

	// Timeout bounds connection setup, e.g. "10s"
	Timeout string `json:"timeout"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Guest: GuestConfig{
			LibvirtURI: libvirt.DefaultURI,
		},
		SSH: SSHConfig{
			Port:    "22",
			User:    "vagrant",
			Timeout: "10s",
		},
		Install:    installer.NewDefaultOptions(),
		VBoxManage: vboxmanage.DefaultBinary,
		LogLevel:   "info",
	}
}

// LoadConfig loads configuration from a YAML or JSON file path or returns defaults with env var overrides
// If configPath is empty, it uses environment variables only
func LoadConfig(configPath string) (*Config, error) {
	config := NewDefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
		}
	}

	config.applyEnvironmentOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// applyEnvironmentOverrides applies environment variable overrides to the config
func (c *Config) applyEnvironmentOverrides() {
	setString(&c.Guest.Name, "VBGUEST_GUEST_NAME")
	setString(&c.Guest.ID, "VBGUEST_GUEST_ID")
	setBool(&c.Guest.ResolveIdentity, "VBGUEST_RESOLVE_IDENTITY")
	setString(&c.Guest.LibvirtURI, "VBGUEST_LIBVIRT_URI")

	setString(&c.SSH.Host, "VBGUEST_SSH_HOST")
	setString(&c.SSH.Port, "VBGUEST_SSH_PORT")
	setString(&c.SSH.User, "VBGUEST_SSH_USER")
	setString(&c.SSH.PrivateKeyPath, "VBGUEST_SSH_PRIVATE_KEY_PATH")
	setString(&c.SSH.Password, "VBGUEST_SSH_PASSWORD")
	setString(&c.SSH.Timeout, "VBGUEST_SSH_TIMEOUT")

	setString(&c.Install.ISOFile, "VBGUEST_ISO_FILE")
	setString(&c.Install.ISOUploadPath, "VBGUEST_ISO_UPLOAD_PATH")
	setBool(&c.Install.NoCleanup, "VBGUEST_NO_CLEANUP")
	setBool(&c.Install.ErrorCheck, "VBGUEST_ERROR_CHECK")
	setBool(&c.Install.AutoReboot, "VBGUEST_AUTO_REBOOT")
	setBool(&c.Install.VerifyISO, "VBGUEST_VERIFY_ISO")

	setString(&c.VBoxManage, "VBGUEST_VBOXMANAGE")
	setString(&c.MetricsTextfile, "VBGUEST_METRICS_TEXTFILE")
	setBool(&c.DevelopmentMode, "VBGUEST_DEV_MODE")
	setString(&c.LogLevel, "LOG_LEVEL")
}

func setString(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func setBool(dst *bool, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val == "true" || val == "1" || val == "yes"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Guest.Name == "" && c.Guest.ID == "" {
		errs = append(errs, errors.New("guest.name or guest.id must be set"))
	}

	if c.Guest.ResolveIdentity && c.Guest.Name == "" {
		errs = append(errs, errors.New("guest.resolveIdentity requires guest.name"))
	}

	if c.SSH.Host == "" {
		errs = append(errs, errors.New("ssh.host cannot be empty"))
	}

	if c.SSH.User == "" {
		errs = append(errs, errors.New("ssh.user cannot be empty"))
	}

	if c.SSH.PrivateKeyPath == "" && c.SSH.Password == "" {
		errs = append(errs, errors.New("ssh.privateKeyPath or ssh.password must be set"))
	}

	if port, err := strconv.Atoi(c.SSH.Port); err != nil || port <= 0 || port > 65535 {
		errs = append(errs, fmt.Errorf("ssh.port %q is not a valid port", c.SSH.Port))
	}

	if _, err := c.SSHTimeout(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// SSHTimeout parses SSH.Timeout. An empty timeout means the client default.
func (c *Config) SSHTimeout() (time.Duration, error) {
	if c.SSH.Timeout == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(c.SSH.Timeout)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("ssh.timeout %q is not a valid duration", c.SSH.Timeout)
	}

	return d, nil
}
