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

// Package metrics exposes prometheus collectors for guest tooling installs.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vbguest"

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultError   = "error"
)

type Metrics struct {
	registry *prometheus.Registry

	InstallAttempts   *prometheus.CounterVec
	InstallDuration   *prometheus.HistogramVec
	InstallerExitCode *prometheus.GaugeVec
	VersionMismatches *prometheus.CounterVec
}

// New creates the collectors on a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		InstallAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "install_attempts_total",
			Help:      "Guest tooling install attempts by strategy and result.",
		}, []string{"strategy", "result"}),
		InstallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "install_duration_seconds",
			Help:      "Duration of guest tooling install attempts.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"strategy"}),
		InstallerExitCode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "installer_exit_status",
			Help:      "Exit status of the last installer run per guest.",
		}, []string{"guest"}),
		VersionMismatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guest_version_mismatch_total",
			Help:      "Times the driver and service reported different tooling versions.",
		}, []string{"guest"}),
	}

	m.registry.MustRegister(
		m.InstallAttempts,
		m.InstallDuration,
		m.InstallerExitCode,
		m.VersionMismatches,
	)

	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}

	return m.registry
}

// ObserveInstall records the outcome of one install attempt. err is the error
// returned by the install sequence, if any.
func (m *Metrics) ObserveInstall(strategy, guestID string, exitStatus int, err error, elapsed time.Duration) {
	if m == nil {
		return
	}

	result := ResultSuccess
	switch {
	case err != nil:
		result = ResultError
	case exitStatus != 0:
		result = ResultFailure
	}

	m.InstallAttempts.WithLabelValues(strategy, result).Inc()
	m.InstallDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())

	if err == nil {
		m.InstallerExitCode.WithLabelValues(guestID).Set(float64(exitStatus))
	}
}

// ObserveVersionMismatch counts a driver/service version disagreement.
func (m *Metrics) ObserveVersionMismatch(guestID string) {
	if m == nil {
		return
	}

	m.VersionMismatches.WithLabelValues(guestID).Inc()
}

// WriteTextfile writes every collector in the node exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}

	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile %s: %w", path, err)
	}

	return nil
}
