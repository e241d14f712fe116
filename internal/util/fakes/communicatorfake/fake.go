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

package communicatorfake

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/alexandremahdhaoui/vbguest/pkg/communicator"
)

const (
	KindTest    = "test"
	KindExecute = "execute"
	KindUpload  = "upload"
)

var _ communicator.Communicator = &Fake{}

// Response is the scripted result of a command.
type Response struct {
	ExitStatus int
	Stdout     []string
	Stderr     []string
	// Err simulates a transport failure.
	Err error
}

// Call records one interaction with the fake.
type Call struct {
	Kind       string
	Command    string
	Opts       communicator.ExecOptions
	LocalPath  string
	RemotePath string
}

type rule struct {
	substr string
	resp   Response
}

// Fake is an in-memory communicator. Commands are matched against registered
// substrings; the most recently registered match wins. Unmatched commands
// succeed with no output.
type Fake struct {
	t *testing.T

	mu        sync.Mutex
	rules     []rule
	calls     []Call
	UploadErr error
}

func New(t *testing.T) *Fake {
	t.Helper()

	return &Fake{t: t}
}

// On registers resp for every command containing substr.
func (f *Fake) On(substr string, resp Response) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rules = append(f.rules, rule{substr: substr, resp: resp})

	return f
}

// Test implements communicator.Communicator.
func (f *Fake) Test(_ context.Context, command string, opts ...communicator.Option) bool {
	resp := f.record(Call{Kind: KindTest, Command: command, Opts: communicator.NewExecOptions(opts...)})

	return resp.Err == nil && resp.ExitStatus == 0
}

// Execute implements communicator.Communicator.
func (f *Fake) Execute(
	_ context.Context,
	command string,
	onOutput communicator.OutputFunc,
	opts ...communicator.Option,
) (int, error) {
	o := communicator.NewExecOptions(opts...)
	resp := f.record(Call{Kind: KindExecute, Command: command, Opts: o})

	if resp.Err != nil {
		return -1, resp.Err
	}

	chunks := make([]communicator.Chunk, 0, len(resp.Stdout)+len(resp.Stderr))
	for _, s := range resp.Stdout {
		chunks = append(chunks, communicator.Chunk{Stream: communicator.Stdout, Data: s})
	}

	for _, s := range resp.Stderr {
		chunks = append(chunks, communicator.Chunk{Stream: communicator.Stderr, Data: s})
	}

	communicator.Deliver(onOutput, chunks...)

	if o.ErrorCheck && resp.ExitStatus != 0 {
		return resp.ExitStatus, &communicator.ChannelError{
			Command:    command,
			ExitStatus: resp.ExitStatus,
			Stderr:     strings.Join(resp.Stderr, ""),
		}
	}

	return resp.ExitStatus, nil
}

// Upload implements communicator.Communicator.
func (f *Fake) Upload(_ context.Context, localPath, remotePath string) error {
	f.record(Call{Kind: KindUpload, LocalPath: localPath, RemotePath: remotePath})

	return f.UploadErr
}

// Calls returns a copy of the recorded calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Call, len(f.calls))
	copy(out, f.calls)

	return out
}

// Commands returns the recorded commands; uploads are reported as "upload".
func (f *Fake) Commands() []string {
	calls := f.Calls()
	out := make([]string, 0, len(calls))

	for _, c := range calls {
		if c.Kind == KindUpload {
			out = append(out, KindUpload)
			continue
		}

		out = append(out, c.Command)
	}

	return out
}

// CallsMatching returns the recorded calls whose command contains substr.
func (f *Fake) CallsMatching(substr string) []Call {
	var out []Call

	for _, c := range f.Calls() {
		if c.Kind != KindUpload && strings.Contains(c.Command, substr) {
			out = append(out, c)
		}
	}

	return out
}

// Reset forgets the recorded calls but keeps the rules.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = nil
}

func (f *Fake) record(c Call) Response {
	f.t.Helper()

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, c)

	if c.Kind == KindUpload {
		return Response{}
	}

	for i := len(f.rules) - 1; i >= 0; i-- {
		if strings.Contains(c.Command, f.rules[i].substr) {
			return f.rules[i].resp
		}
	}

	return Response{}
}
