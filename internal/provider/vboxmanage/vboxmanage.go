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

// Package vboxmanage reads guest additions information from the VirtualBox
// host tooling.
package vboxmanage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alexandremahdhaoui/vbguest/internal/util/hostexec"
	"github.com/alexandremahdhaoui/vbguest/pkg/guest"
)

const (
	DefaultBinary = "VBoxManage"

	guestAdditionsVersionProperty = "/VirtualBox/GuestAdd/Version"
	noValueMarker                 = "No value set!"
	valuePrefix                   = "Value:"
)

var (
	ErrNoValue = errors.New("guest property has no value")

	errGuestProperty = errors.New("failed to read guest property")
)

// Driver queries guest properties through VBoxManage. VMName overrides the
// target ID as the VirtualBox machine reference.
type Driver struct {
	Binary  string
	VMName  string
	ExecCtx hostexec.Context
}

// New returns a Driver using binary, or DefaultBinary when empty.
func New(binary string, ectx hostexec.Context) *Driver {
	if binary == "" {
		binary = DefaultBinary
	}

	return &Driver{Binary: binary, ExecCtx: ectx}
}

// DriverVersion returns the guest additions version recorded by VirtualBox.
func (d *Driver) DriverVersion(ctx context.Context, target guest.Target) (string, error) {
	vm := d.VMName
	if vm == "" {
		vm = target.ID
	}

	return d.GuestProperty(ctx, vm, guestAdditionsVersionProperty)
}

// GuestProperty returns the value of property for vm.
func (d *Driver) GuestProperty(ctx context.Context, vm, property string) (string, error) {
	out, err := hostexec.Output(ctx, d.ExecCtx, d.Binary, "guestproperty", "get", vm, property)
	if err != nil {
		return "", errors.Join(err, fmt.Errorf("vm=%s property=%s", vm, property), errGuestProperty)
	}

	return parseGuestProperty(out)
}

func parseGuestProperty(out string) (string, error) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)

		switch {
		case line == noValueMarker:
			return "", ErrNoValue
		case strings.HasPrefix(line, valuePrefix):
			return strings.TrimSpace(strings.TrimPrefix(line, valuePrefix)), nil
		}
	}

	return "", ErrNoValue
}
