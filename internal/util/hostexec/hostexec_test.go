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

package hostexec_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alexandremahdhaoui/vbguest/internal/util/hostexec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_CopiesInputs(t *testing.T) {
	envs := map[string]string{"A": "1"}
	prepend := []string{"sudo", "-E"}

	ectx := hostexec.New(envs, prepend)
	envs["A"] = "2"
	prepend[0] = "doas"

	assert.Equal(t, map[string]string{"A": "1"}, ectx.Envs())
	assert.Equal(t, []string{"sudo", "-E"}, ectx.PrependCmd())
}

func TestCommand_Prepend(t *testing.T) {
	cmd := hostexec.Command(context.Background(), hostexec.New(nil, []string{"sudo", "-n"}), "VBoxManage", "list", "vms")

	assert.Equal(t, []string{"sudo", "-n", "VBoxManage", "list", "vms"}, cmd.Args)
	assert.Nil(t, cmd.Env)
}

func TestCommand_Envs(t *testing.T) {
	cmd := hostexec.Command(context.Background(), hostexec.New(map[string]string{"B": "2", "A": "1"}, nil), "true")

	require.GreaterOrEqual(t, len(cmd.Env), 2)
	assert.Equal(t, []string{"A=1", "B=2"}, cmd.Env[len(cmd.Env)-2:])
}

func TestOutput(t *testing.T) {
	script := filepath.Join(t.TempDir(), "echo.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho \"$GREETING $1\"\n"), 0o755))

	out, err := hostexec.Output(context.Background(), hostexec.New(map[string]string{"GREETING": "hello"}, nil), script, "world")
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", out)
}

func TestOutput_Failure(t *testing.T) {
	script := filepath.Join(t.TempDir(), "fail.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho boom >&2\nexit 3\n"), 0o755))

	_, err := hostexec.Output(context.Background(), nil, script)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
