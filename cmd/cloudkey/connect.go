// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/toeirei/cloudkey/internal/authorize"
	"github.com/toeirei/cloudkey/internal/i18n"
	"github.com/toeirei/cloudkey/internal/logging"
	"github.com/toeirei/cloudkey/internal/session"
	"golang.org/x/term"
)

// connectCmd authorizes the caller's key and opens an interactive shell
// on the instance.
var connectCmd = &cobra.Command{
	Use:   "connect <instance>",
	Short: "Open an interactive shell on an instance",
	Long: `Publishes the caller's public key for the given instance, dials it,
verifies its host key against the trust store and opens an interactive
shell with a pseudo-terminal sized to the local terminal.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sess, _, err := openSession(ctx, args[0])
		if err != nil {
			return err
		}
		defer sess.Close()

		fd := int(os.Stdin.Fd())
		size := session.TerminalSize{Columns: 80, Rows: 24}
		if cols, rows, err := term.GetSize(fd); err == nil {
			size = session.TerminalSize{Columns: cols, Rows: rows}
		}

		sh, err := sess.Shell(os.Getenv("TERM"), size, nil)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, i18n.T("connect.established"))

		var restore func()
		if term.IsTerminal(fd) {
			oldState, err := term.MakeRaw(fd)
			if err != nil {
				sh.Close()
				return fmt.Errorf("failed to switch the terminal to raw mode: %w", err)
			}
			restore = func() { _ = term.Restore(fd, oldState) }
			defer restore()
		}

		go func() { _, _ = io.Copy(sh, os.Stdin) }()
		go func() { _, _ = io.Copy(os.Stdout, sh) }()
		go func() { _, _ = io.Copy(os.Stderr, sh.Stderr()) }()

		stopResize := watchWindowSize(fd, sh)
		defer stopResize()
		stopKeepalive := runKeepalives(sess)

		waitErr := sh.Wait()
		stopKeepalive()
		if err := sh.Close(); err != nil {
			logging.Debugf("shell close: %v", err)
		}
		if restore != nil {
			restore()
		}
		fmt.Fprintln(os.Stderr, i18n.T("connect.closed"))
		return waitErr
	},
}

// execCmd runs a single command on the instance and streams its output.
var execCmd = &cobra.Command{
	Use:   "exec <instance> <command...>",
	Short: "Run a command on an instance",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sess, _, err := openSession(ctx, args[0])
		if err != nil {
			return err
		}
		defer sess.Close()

		command := shellCommand(args[1:])
		logging.Debugf("%s", i18n.T("exec.running", command, args[0]))
		e, err := sess.Exec(command, nil)
		if err != nil {
			return err
		}
		defer e.Close()

		stopKeepalive := runKeepalives(sess)
		defer stopKeepalive()

		go func() { _, _ = io.Copy(e, os.Stdin) }()
		done := make(chan struct{}, 2)
		go func() { _, _ = io.Copy(os.Stdout, e); done <- struct{}{} }()
		go func() { _, _ = io.Copy(os.Stderr, e.Stderr()); done <- struct{}{} }()

		waitErr := e.Wait()
		<-done
		<-done
		return waitErr
	},
}

// openSession authorizes the key, dials the instance and authenticates.
func openSession(ctx context.Context, name string) (*session.Session, *authorize.Credential, error) {
	cred, vm, err := authorizeTarget(ctx, name)
	if err != nil {
		return nil, nil, err
	}

	store, err := openHostStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	sessCfg := session.DefaultConfig()
	sessCfg.HostKeys = session.VerifyingHostKeyCallback(store)

	fmt.Fprintln(os.Stderr, i18n.T("connect.connecting", vm.ConnectAddr()))
	sess := session.New(vm.ConnectAddr(), sessCfg)
	if err := sess.Connect(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	if err := sess.Authenticate(cred.Username, cred.Signer); err != nil {
		store.Close()
		return nil, nil, err
	}
	// The trust store is only consulted during the handshake.
	store.Close()
	return sess, cred, nil
}

// runKeepalives keeps the connection alive while a channel is in use.
// The returned stop function must be called before closing the session.
func runKeepalives(sess *session.Session) (stop func()) {
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		wait := time.Second
		for {
			select {
			case <-quit:
				return
			case <-time.After(wait):
			}
			next, err := sess.SendKeepaliveIfDue(time.Now())
			if err != nil {
				logging.Debugf("keepalive: %v", err)
				return
			}
			wait = time.Second
			if next > 0 && next < wait {
				wait = next
			}
		}
	}()
	return func() {
		close(quit)
		<-done
	}
}

// shellCommand joins argv into a single command line, quoting arguments
// that contain whitespace.
func shellCommand(args []string) string {
	quoted := make([]string, 0, len(args))
	for _, a := range args {
		if strings.ContainsAny(a, " \t") {
			a = "'" + a + "'"
		}
		quoted = append(quoted, a)
	}
	return strings.Join(quoted, " ")
}
