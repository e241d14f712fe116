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

// Package guest identifies the machine an installer operates against.
package guest

import (
	"errors"

	"github.com/alexandremahdhaoui/vbguest/pkg/communicator"
)

var (
	errEmptyTargetID   = errors.New("guest target id must not be empty")
	errNilCommunicator = errors.New("guest target communicator must not be nil")
)

// Target is a guest reachable through a communicator. ID keys cached state
// such as the OS release; it must be stable for the life of the process.
// A Target is owned by the caller.
type Target struct {
	ID   string
	Comm communicator.Communicator
}

// NewTarget returns a validated Target.
func NewTarget(id string, comm communicator.Communicator) (Target, error) {
	t := Target{ID: id, Comm: comm}
	if err := t.Validate(); err != nil {
		return Target{}, err
	}

	return t, nil
}

// Validate checks the target can be used.
func (t Target) Validate() error {
	var errs []error

	if t.ID == "" {
		errs = append(errs, errEmptyTargetID)
	}

	if t.Comm == nil {
		errs = append(errs, errNilCommunicator)
	}

	return errors.Join(errs...)
}
