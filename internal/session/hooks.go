// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

package session

import (
	"context"
	"io"
	"net"
	"os"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// The transport is reached through narrow interfaces and package-level
// hooks so tests can substitute in-memory implementations.

// remoteSession is the subset of *ssh.Session the channel layer uses.
type remoteSession interface {
	Setenv(name, value string) error
	RequestPty(term string, h, w int, modes ssh.TerminalModes) error
	WindowChange(h, w int) error
	Shell() error
	Start(cmd string) error
	Wait() error
	StdinPipe() (io.WriteCloser, error)
	StdoutPipe() (io.Reader, error)
	StderrPipe() (io.Reader, error)
	Close() error
}

// sftpFile is the subset of *sftp.File the file handle layer uses.
type sftpFile interface {
	io.ReadWriteCloser
}

// sftpConn is the subset of *sftp.Client the SFTP channel uses.
type sftpConn interface {
	Open(path string) (sftpFile, error)
	Create(path string) (sftpFile, error)
	Mkdir(path string) error
	Chmod(path string, mode os.FileMode) error
	Rename(oldname, newname string) error
	Remove(path string) error
	Close() error
}

// transportClient is the authenticated SSH connection as seen by a
// Session.
type transportClient interface {
	OpenSession() (remoteSession, error)
	OpenSftp() (sftpConn, error)
	SendRequest(name string, wantReply bool, payload []byte) (bool, []byte, error)
	Close() error
}

type realClient struct {
	client *ssh.Client
}

func (c *realClient) OpenSession() (remoteSession, error) {
	return c.client.NewSession()
}

func (c *realClient) OpenSftp() (sftpConn, error) {
	conn, err := sftp.NewClient(c.client)
	if err != nil {
		return nil, err
	}
	return &realSftp{conn: conn}, nil
}

func (c *realClient) SendRequest(name string, wantReply bool, payload []byte) (bool, []byte, error) {
	return c.client.SendRequest(name, wantReply, payload)
}

func (c *realClient) Close() error {
	return c.client.Close()
}

type realSftp struct {
	conn *sftp.Client
}

func (s *realSftp) Open(path string) (sftpFile, error)   { return s.conn.Open(path) }
func (s *realSftp) Create(path string) (sftpFile, error) { return s.conn.Create(path) }
func (s *realSftp) Mkdir(path string) error              { return s.conn.Mkdir(path) }
func (s *realSftp) Chmod(path string, mode os.FileMode) error {
	return s.conn.Chmod(path, mode)
}
func (s *realSftp) Rename(oldname, newname string) error { return s.conn.Rename(oldname, newname) }
func (s *realSftp) Remove(path string) error             { return s.conn.Remove(path) }
func (s *realSftp) Close() error                         { return s.conn.Close() }

// dialContext opens the transport socket. Tests may replace it.
var dialContext = func(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	return d.DialContext(ctx, "tcp", addr)
}

// newClientConn runs the SSH handshake and authentication over an open
// socket. Tests may replace it.
var newClientConn = func(conn net.Conn, addr string, cfg *ssh.ClientConfig) (transportClient, error) {
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		return nil, err
	}
	return &realClient{client: ssh.NewClient(c, chans, reqs)}, nil
}
