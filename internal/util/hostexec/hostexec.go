// Package hostexec builds commands run on the host, optionally prefixed by a
// wrapper such as sudo and with extra environment variables.
package hostexec

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"
)

type Context interface {
	Envs() map[string]string
	PrependCmd() []string
}

func New(envs map[string]string, prependCmd []string) Context {
	return &execContext{
		envs:       maps.Clone(envs),
		prependCmd: slices.Clone(prependCmd),
	}
}

type execContext struct {
	envs       map[string]string
	prependCmd []string
}

// Envs implements Context.
func (c *execContext) Envs() map[string]string {
	out := make(map[string]string, len(c.envs))
	maps.Copy(out, c.envs)
	return out
}

// PrependCmd implements Context.
func (c *execContext) PrependCmd() []string {
	return slices.Clone(c.prependCmd)
}

// Command returns an *exec.Cmd for name and args with ectx applied. A nil ectx
// runs the command as is.
func Command(ctx context.Context, ectx Context, name string, args ...string) *exec.Cmd {
	argv := append([]string{name}, args...)

	var envs map[string]string
	if ectx != nil {
		argv = append(ectx.PrependCmd(), argv...)
		envs = ectx.Envs()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	if len(envs) > 0 {
		cmd.Env = os.Environ()
		for _, k := range slices.Sorted(maps.Keys(envs)) {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, envs[k]))
		}
	}

	return cmd
}

// Output runs the command and returns its stdout. On failure the error
// carries stderr.
func Output(ctx context.Context, ectx Context, name string, args ...string) (string, error) {
	cmd := Command(ctx, ectx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf(
			"running %s: %w: %s",
			strings.Join(cmd.Args, " "),
			err,
			strings.TrimSpace(stderr.String()),
		)
	}

	return stdout.String(), nil
}
