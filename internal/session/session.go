// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

// package session models the lifecycle of an SSH connection to a VM:
// Unconnected -> Connected -> Authenticated, with shell, exec and SFTP
// channels derived from an authenticated session. A session and all
// handles derived from it belong to one goroutine; nothing here is safe
// for concurrent use. Channels must be closed before their owning
// session.
package session // import "github.com/toeirei/cloudkey/internal/session"

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/toeirei/cloudkey/internal/logging"
	"github.com/toeirei/cloudkey/util/mapst"
)

// Timeouts and intervals applied when the caller does not override them.
const (
	DefaultConnectTimeout    = 10 * time.Second
	DefaultOperationTimeout  = 30 * time.Second
	DefaultKeepaliveInterval = 60 * time.Second
)

// DebugChecks makes misuse of the ownership and confinement rules panic
// instead of logging. Tests enable it; production builds leave it off so
// a leaked handle degrades into a logged leak rather than a crash.
var DebugChecks = false

var initOnce sync.Once

// EnsureInitialized performs one-time process-wide setup of the
// transport layer. It is idempotent and called lazily by New, so
// callers normally never need it directly.
func EnsureInitialized() {
	initOnce.Do(func() {
		logging.Debugf("ssh transport initialized")
	})
}

// State is the lifecycle state of a Session.
type State int

const (
	StateUnconnected State = iota
	StateConnected
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Config carries the tunables of a session.
type Config struct {
	ConnectTimeout    time.Duration
	OperationTimeout  time.Duration
	KeepaliveInterval time.Duration

	// HostKeys verifies the remote host key during the handshake.
	HostKeys ssh.HostKeyCallback
}

// DefaultConfig returns a Config with the package defaults and no host
// key verifier; callers must still set HostKeys.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    DefaultConnectTimeout,
		OperationTimeout:  DefaultOperationTimeout,
		KeepaliveInterval: DefaultKeepaliveInterval,
	}
}

// Session is one SSH connection in the making or in use. The zero value
// is not usable; create sessions with New.
type Session struct {
	addr  string
	cfg   Config
	state State

	conn   net.Conn
	client transportClient

	// children tracks open channels by a short description, so a close
	// with open children can name what leaked.
	children map[interface{}]string

	// deadline mirrors the deadline currently applied to conn, since
	// net.Conn cannot report it back.
	deadline time.Time

	keepaliveDue time.Time

	busy atomic.Bool
}

// New prepares an unconnected session for the given address. A missing
// port defaults to 22.
func New(addr string, cfg Config) *Session {
	EnsureInitialized()
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = DefaultOperationTimeout
	}
	return &Session{
		addr:     addr,
		cfg:      cfg,
		state:    StateUnconnected,
		children: map[interface{}]string{},
	}
}

// enter flags the session as in use and reports misuse from a second
// goroutine. The returned func must be deferred.
func (s *Session) enter(op string) func() {
	if !s.busy.CompareAndSwap(false, true) {
		if DebugChecks {
			panic(fmt.Sprintf("session: %s called while another operation is in flight; "+
				"sessions are confined to a single goroutine", op))
		}
		logging.Warnf("session %s: %s called concurrently; sessions are not goroutine-safe", s.addr, op)
		return func() {}
	}
	return func() { s.busy.Store(false) }
}

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// Addr returns the remote address, including the port.
func (s *Session) Addr() string { return s.addr }

// Connect opens the transport socket. The protocol handshake happens in
// Authenticate, which needs the credential anyway.
func (s *Session) Connect(ctx context.Context) error {
	defer s.enter("Connect")()
	switch s.state {
	case StateClosed:
		return ErrClosed
	case StateConnected, StateAuthenticated:
		return ErrAlreadyConnected
	}

	conn, err := dialContext(ctx, s.addr, s.cfg.ConnectTimeout)
	if err != nil {
		return &TransportError{Op: "connect", Addr: s.addr, Err: err}
	}
	s.conn = conn
	s.state = StateConnected
	logging.Debugf("connected to %s", s.addr)
	return nil
}

// Authenticate runs the SSH handshake and public key authentication
// over the connected socket. On failure the socket is closed and the
// session drops back to unconnected.
func (s *Session) Authenticate(username string, signer ssh.Signer) error {
	defer s.enter("Authenticate")()
	switch s.state {
	case StateClosed:
		return ErrClosed
	case StateUnconnected:
		return ErrNotConnected
	case StateAuthenticated:
		return ErrAlreadyConnected
	}
	if signer == nil {
		return fmt.Errorf("signer must not be nil")
	}
	if s.cfg.HostKeys == nil {
		s.conn.Close()
		s.conn = nil
		s.state = StateUnconnected
		return fmt.Errorf("no host key verifier configured")
	}

	cfg := &ssh.ClientConfig{
		User:            username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: s.cfg.HostKeys,
		Timeout:         s.cfg.ConnectTimeout,
	}
	client, err := newClientConn(s.conn, s.addr, cfg)
	if err != nil {
		// Never leave a half-open socket behind.
		s.conn.Close()
		s.conn = nil
		s.state = StateUnconnected
		if IsAuthenticationError(err) {
			return &TransportError{Op: "authenticate", Addr: s.addr, Err: err}
		}
		return &TransportError{Op: "handshake", Addr: s.addr, Err: err}
	}
	s.client = client
	s.state = StateAuthenticated
	if s.cfg.KeepaliveInterval > 0 {
		s.keepaliveDue = time.Now().Add(s.cfg.KeepaliveInterval)
	}
	logging.Debugf("authenticated to %s as %s", s.addr, username)
	return nil
}

// adopt registers a child handle.
func (s *Session) adopt(child interface{}, desc string) {
	s.children[child] = desc
}

// release removes a child handle.
func (s *Session) release(child interface{}) {
	delete(s.children, child)
}

// Close releases the session. Closing with channels still open is a
// usage error: the underlying connection is left alone so open channel
// handles never dangle, which leaks the connection.
func (s *Session) Close() error {
	defer s.enter("Close")()
	if s.state == StateClosed {
		return nil
	}
	if len(s.children) > 0 {
		if DebugChecks {
			panic(fmt.Sprintf("session: Close called with %d open channels: %v",
				len(s.children), s.childDescs()))
		}
		logging.Errorf("session %s closed with %d open channels (%v); leaking connection",
			s.addr, len(s.children), s.childDescs())
		return nil
	}

	var err error
	if s.client != nil {
		err = s.client.Close()
		s.client = nil
	}
	if s.conn != nil {
		// ssh.Client.Close closes the socket too; a second close on a
		// raw unauthenticated socket is still needed.
		if cerr := s.conn.Close(); err == nil && s.state == StateConnected {
			err = cerr
		}
		s.conn = nil
	}
	s.state = StateClosed
	return err
}

func (s *Session) childDescs() []string {
	descs := mapst.Values(s.children)
	sort.Strings(descs)
	return descs
}
