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

// Package ssh implements communicator.Communicator for Windows guests running
// OpenSSH. Every command is executed by powershell.exe.
package ssh

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/alexandremahdhaoui/vbguest/internal/util/powershell"
	"github.com/alexandremahdhaoui/vbguest/pkg/communicator"
	"github.com/go-logr/logr"
	"golang.org/x/crypto/ssh"
)

const (
	defaultPort    = "22"
	defaultTimeout = 10 * time.Second

	// RebootRequiredExitStatus is ERROR_SUCCESS_REBOOT_REQUIRED.
	RebootRequiredExitStatus = 3010

	rebootCommand = "Restart-Computer -Force"
	maxLineSize   = 1024 * 1024
)

var (
	errNoAuthMethod   = errors.New("no ssh authentication method configured")
	errMissingExit    = errors.New("remote command exited without a status")
	errTransport      = errors.New("ssh transport failure")
	errOpenUploadFile = errors.New("failed to open file to upload")
)

var _ communicator.Communicator = &Client{}

// Client implements communicator.Communicator over SSH. A connection is opened
// per command.
type Client struct {
	Host       string
	User       string
	PrivateKey []byte
	Password   string
	Port       string

	// Timeout bounds the TCP connection and SSH handshake.
	Timeout time.Duration
	// HostKeyCallback defaults to accepting any host key.
	HostKeyCallback ssh.HostKeyCallback
	Log             logr.Logger
}

// NewClient creates a new SSH client authenticating with the key at privateKeyPath.
func NewClient(host, user, privateKeyPath, port string) (*Client, error) {
	key, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read private key: %w", err)
	}

	return &Client{
			Host:       host,
			User:       user,
			PrivateKey: key,
			Port:       port,
			Log:        logr.Discard(),
		},
		nil
}

// NewPasswordClient creates a new SSH client authenticating with a password.
func NewPasswordClient(host, user, password, port string) *Client {
	return &Client{
		Host:     host,
		User:     user,
		Password: password,
		Port:     port,
		Log:      logr.Discard(),
	}
}

// Test implements communicator.Communicator.
func (c *Client) Test(ctx context.Context, command string, opts ...communicator.Option) bool {
	opts = append(opts, communicator.WithErrorCheck(false))

	exitStatus, err := c.Execute(ctx, command, nil, opts...)
	if err != nil {
		c.Log.V(1).Info("test command failed", "host", c.Host, "command", command, "error", err.Error())
		return false
	}

	return exitStatus == 0
}

// Execute implements communicator.Communicator. Output is delivered one line
// per chunk, terminated by "\n"; CRLF line endings are reported as "\n".
func (c *Client) Execute(
	ctx context.Context,
	command string,
	onOutput communicator.OutputFunc,
	opts ...communicator.Option,
) (int, error) {
	o := communicator.NewExecOptions(opts...)

	exitStatus, stderr, err := c.run(ctx, command, nil, onOutput)
	if err != nil {
		return exitStatus, err
	}

	if o.AutoReboot && exitStatus == RebootRequiredExitStatus {
		c.reboot(ctx)
	}

	if o.ErrorCheck && exitStatus != 0 {
		return exitStatus, &communicator.ChannelError{
			Command:    command,
			ExitStatus: exitStatus,
			Stderr:     stderr,
		}
	}

	return exitStatus, nil
}

// Upload implements communicator.Communicator. The file is streamed to the
// standard input of a powershell process writing remotePath.
func (c *Client) Upload(ctx context.Context, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return errors.Join(err, fmt.Errorf("path=%s", localPath), errOpenUploadFile)
	}
	defer runFuncAndLogErr(f.Close)

	script := strings.Join([]string{
		"$path = " + powershell.Quote(remotePath),
		"$dir = Split-Path -Parent $path",
		"if ($dir) { New-Item -ItemType Directory -Force -Path $dir | Out-Null }",
		"$in = [Console]::OpenStandardInput()",
		"$out = [IO.File]::Create($path)",
		"try { $in.CopyTo($out) } finally { $out.Close() }",
	}, "; ")

	c.Log.V(1).Info("uploading file", "host", c.Host, "localPath", localPath, "remotePath", remotePath)

	exitStatus, stderr, err := c.run(ctx, script, f, nil)
	if err != nil {
		return err
	}

	if exitStatus != 0 {
		return &communicator.ChannelError{
			Command:    "upload " + remotePath,
			ExitStatus: exitStatus,
			Stderr:     stderr,
		}
	}

	return nil
}

// AwaitServer waits for the SSH server to be available.
func (c *Client) AwaitServer(timeout time.Duration) error {
	config, err := c.clientConfig()
	if err != nil {
		return err
	}

	addr := c.addr()
	timeoutChan := time.After(timeout)
	tick := time.NewTicker(5 * time.Second)
	defer tick.Stop()

	for {
		select {
		case <-timeoutChan:
			return fmt.Errorf("timed out waiting for SSH server at %s", addr)
		case <-tick.C:
			conn, err := ssh.Dial("tcp", addr, config)
			if err != nil {
				c.Log.V(1).Info("ssh server not available yet", "addr", addr, "error", err.Error())
				continue
			}

			_ = conn.Close()
			return nil // SSH server is available
		}
	}
}

// run executes script and streams its output to onOutput. The returned error
// is only set on transport failures.
func (c *Client) run(
	ctx context.Context,
	script string,
	stdin io.Reader,
	onOutput communicator.OutputFunc,
) (int, string, error) {
	cmdLine, err := powershell.Encode(script)
	if err != nil {
		return -1, "", err
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return -1, "", err
	}
	defer runFuncAndLogErr(conn.Close)

	session, err := conn.NewSession()
	if err != nil {
		return -1, "", errors.Join(fmt.Errorf("unable to create SSH session: %w", err), errTransport)
	}
	defer runFuncAndLogErr(session.Close)

	session.Stdin = stdin

	stdout, err := session.StdoutPipe()
	if err != nil {
		return -1, "", errors.Join(err, errTransport)
	}

	stderr, err := session.StderrPipe()
	if err != nil {
		return -1, "", errors.Join(err, errTransport)
	}

	c.Log.V(1).Info("executing remote command", "host", c.Host, "command", script)

	if err := session.Start(cmdLine); err != nil {
		return -1, "", errors.Join(fmt.Errorf("unable to start remote command: %w", err), errTransport)
	}

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			_ = session.Signal(ssh.SIGKILL)
			_ = session.Close()
		case <-done:
		}
	}()

	var stderrBuf strings.Builder

	deliver := true
	for chunk := range streamLines(stdout, stderr) {
		if chunk.Stream == communicator.Stderr {
			stderrBuf.WriteString(chunk.Data)
		}

		// Chunks after an early stop are drained, not delivered.
		if deliver && onOutput != nil {
			deliver = onOutput(chunk)
		}
	}

	waitErr := session.Wait()
	if ctx.Err() != nil {
		return -1, stderrBuf.String(), ctx.Err()
	}

	exitStatus, err := exitStatusOf(waitErr)

	return exitStatus, strings.TrimSpace(stderrBuf.String()), err
}

func (c *Client) reboot(ctx context.Context) {
	slog.Info("remote command requested a reboot, restarting guest", "host", c.Host)

	// The connection usually drops while the guest goes down.
	if _, _, err := c.run(ctx, rebootCommand, nil, nil); err != nil {
		c.Log.V(1).Info("reboot command returned an error", "host", c.Host, "error", err.Error())
	}
}

func (c *Client) dial(ctx context.Context) (*ssh.Client, error) {
	config, err := c.clientConfig()
	if err != nil {
		return nil, err
	}

	addr := c.addr()
	dialer := net.Dialer{Timeout: config.Timeout}

	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("unable to connect to %s: %w", addr, err), errTransport)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, config)
	if err != nil {
		_ = netConn.Close()
		return nil, errors.Join(fmt.Errorf("ssh handshake with %s failed: %w", addr, err), errTransport)
	}

	return ssh.NewClient(sshConn, chans, reqs), nil
}

func (c *Client) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod

	if len(c.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(c.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("unable to parse private key: %w", err)
		}

		auth = append(auth, ssh.PublicKeys(signer))
	}

	if c.Password != "" {
		auth = append(auth, ssh.Password(c.Password))
	}

	if len(auth) == 0 {
		return nil, errNoAuthMethod
	}

	hostKeyCallback := c.HostKeyCallback
	if hostKeyCallback == nil {
		hostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec
	}

	timeout := c.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, nil
}

func (c *Client) addr() string {
	port := c.Port
	if port == "" {
		port = defaultPort
	}

	return net.JoinHostPort(c.Host, port)
}

// streamLines merges stdout and stderr into one channel of line chunks. The
// channel is closed once both readers reach EOF.
func streamLines(stdout, stderr io.Reader) <-chan communicator.Chunk {
	out := make(chan communicator.Chunk)

	var wg sync.WaitGroup
	scan := func(r io.Reader, stream communicator.Stream) {
		defer wg.Done()

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

		for scanner.Scan() {
			out <- communicator.Chunk{Stream: stream, Data: scanner.Text() + "\n"}
		}

		// Keep the session from blocking on a full window after a scan error.
		_, _ = io.Copy(io.Discard, r)
	}

	wg.Add(2)
	go scan(stdout, communicator.Stdout)
	go scan(stderr, communicator.Stderr)

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

func exitStatusOf(err error) (int, error) {
	if err == nil {
		return 0, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}

	var missingErr *ssh.ExitMissingError
	if errors.As(err, &missingErr) {
		return -1, errors.Join(err, errMissingExit)
	}

	return -1, errors.Join(fmt.Errorf("remote command failed: %w", err), errTransport)
}

func runFuncAndLogErr(f func() error) {
	if err := f(); err != nil {
		slog.Debug("error closing ssh session or connection", "err", err.Error())
	}
}
