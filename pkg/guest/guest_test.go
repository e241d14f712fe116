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

package guest_test

import (
	"testing"

	"github.com/alexandremahdhaoui/vbguest/internal/util/fakes/communicatorfake"
	"github.com/alexandremahdhaoui/vbguest/pkg/guest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTarget(t *testing.T) {
	comm := communicatorfake.New(t)

	target, err := guest.NewTarget("vm-1", comm)
	require.NoError(t, err)
	assert.Equal(t, "vm-1", target.ID)
	assert.Same(t, comm, target.Comm)
}

func TestNewTarget_Invalid(t *testing.T) {
	_, err := guest.NewTarget("", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id must not be empty")
	assert.Contains(t, err.Error(), "communicator must not be nil")
}
