// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

package session

import (
	"fmt"
	"io"

	"golang.org/x/crypto/ssh"

	"github.com/toeirei/cloudkey/internal/logging"
)

// EnvVar is an environment variable to set on a new channel. The remote
// side is free to reject variables not listed in its AcceptEnv
// configuration; rejection is fatal only for required variables.
type EnvVar struct {
	Name     string
	Value    string
	Required bool
}

// TerminalSize is the dimension of the requested pseudo-terminal.
type TerminalSize struct {
	Columns int
	Rows    int
}

// applyEnv sets the given variables on a fresh channel. A rejected
// optional variable is logged and skipped.
func applyEnv(remote remoteSession, env []EnvVar) error {
	for _, v := range env {
		if err := remote.Setenv(v.Name, v.Value); err != nil {
			if v.Required {
				return fmt.Errorf("failed to set required environment variable %s: %w", v.Name, err)
			}
			logging.Debugf("remote rejected environment variable %s, skipping", v.Name)
		}
	}
	return nil
}

// channel is the shared part of Shell and Exec handles.
type channel struct {
	owner  *Session
	remote remoteSession
	stdin  io.WriteCloser
	stdout io.Reader
	stderr io.Reader
	closed bool
}

func (c *channel) Read(p []byte) (int, error) {
	if c.closed {
		return 0, ErrClosed
	}
	return c.stdout.Read(p)
}

func (c *channel) Write(p []byte) (int, error) {
	if c.closed {
		return 0, ErrClosed
	}
	return c.stdin.Write(p)
}

// Stderr returns the remote stderr stream.
func (c *channel) Stderr() io.Reader { return c.stderr }

// Wait blocks until the remote side ends the channel and returns its
// exit result.
func (c *channel) Wait() error {
	if c.closed {
		return ErrClosed
	}
	return c.remote.Wait()
}

func (c *channel) close(self interface{}) error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.owner.release(self)
	return c.remote.Close()
}

// open prepares a raw channel with pipes and environment applied. On
// failure the raw channel is closed before the error propagates.
func (s *Session) open(kind string, env []EnvVar) (*channel, error) {
	switch s.state {
	case StateClosed:
		return nil, ErrClosed
	case StateUnconnected, StateConnected:
		return nil, ErrNotAuthenticated
	}

	remote, err := s.client.OpenSession()
	if err != nil {
		return nil, &TransportError{Op: "open-" + kind, Addr: s.addr, Err: err}
	}
	c := &channel{owner: s, remote: remote}

	fail := func(err error) (*channel, error) {
		remote.Close()
		return nil, err
	}
	if err := applyEnv(remote, env); err != nil {
		return fail(err)
	}
	if c.stdin, err = remote.StdinPipe(); err != nil {
		return fail(fmt.Errorf("failed to open stdin pipe: %w", err))
	}
	if c.stdout, err = remote.StdoutPipe(); err != nil {
		return fail(fmt.Errorf("failed to open stdout pipe: %w", err))
	}
	if c.stderr, err = remote.StderrPipe(); err != nil {
		return fail(fmt.Errorf("failed to open stderr pipe: %w", err))
	}
	return c, nil
}

// Shell is an interactive channel with a pseudo-terminal.
type Shell struct {
	channel
}

// Shell opens an interactive shell with a pseudo-terminal of the given
// size. An empty term defaults to xterm-256color.
func (s *Session) Shell(term string, size TerminalSize, env []EnvVar) (*Shell, error) {
	defer s.enter("Shell")()
	c, err := s.open("shell", env)
	if err != nil {
		return nil, err
	}
	if term == "" {
		term = "xterm-256color"
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := c.remote.RequestPty(term, size.Rows, size.Columns, modes); err != nil {
		c.remote.Close()
		return nil, &TransportError{Op: "request-pty", Addr: s.addr, Err: err}
	}
	if err := c.remote.Shell(); err != nil {
		c.remote.Close()
		return nil, &TransportError{Op: "shell", Addr: s.addr, Err: err}
	}

	sh := &Shell{channel: *c}
	s.adopt(sh, "shell")
	return sh, nil
}

// Resize adjusts the remote pseudo-terminal.
func (sh *Shell) Resize(size TerminalSize) error {
	if sh.closed {
		return ErrClosed
	}
	return sh.remote.WindowChange(size.Rows, size.Columns)
}

// Close releases the shell channel.
func (sh *Shell) Close() error {
	return sh.close(sh)
}

// Exec is a non-interactive channel running a single command.
type Exec struct {
	channel
	command string
}

// Exec starts the given command line on a new channel.
func (s *Session) Exec(command string, env []EnvVar) (*Exec, error) {
	defer s.enter("Exec")()
	c, err := s.open("exec", env)
	if err != nil {
		return nil, err
	}
	if err := c.remote.Start(command); err != nil {
		c.remote.Close()
		return nil, &TransportError{Op: "exec", Addr: s.addr, Err: err}
	}

	e := &Exec{channel: *c, command: command}
	s.adopt(e, "exec: "+command)
	return e, nil
}

// Close releases the exec channel.
func (e *Exec) Close() error {
	return e.close(e)
}
