// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

//go:build !windows

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/toeirei/cloudkey/internal/session"
	"golang.org/x/term"
)

// watchWindowSize propagates local terminal resizes to the remote
// pseudo-terminal until the returned stop function is called.
func watchWindowSize(fd int, sh *session.Shell) (stop func()) {
	if !term.IsTerminal(fd) {
		return func() {}
	}
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	go func() {
		for range winch {
			cols, rows, err := term.GetSize(fd)
			if err != nil {
				continue
			}
			_ = sh.Resize(session.TerminalSize{Columns: cols, Rows: rows})
		}
	}()
	return func() {
		signal.Stop(winch)
		close(winch)
	}
}
