// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

//go:build windows

package main

import (
	"time"

	"github.com/toeirei/cloudkey/internal/session"
	"golang.org/x/term"
)

// watchWindowSize polls for local terminal resizes and propagates them
// to the remote pseudo-terminal. Windows has no SIGWINCH.
func watchWindowSize(fd int, sh *session.Shell) (stop func()) {
	if !term.IsTerminal(fd) {
		return func() {}
	}
	quit := make(chan struct{})
	go func() {
		lastCols, lastRows, _ := term.GetSize(fd)
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
			}
			cols, rows, err := term.GetSize(fd)
			if err != nil || (cols == lastCols && rows == lastRows) {
				continue
			}
			lastCols, lastRows = cols, rows
			_ = sh.Resize(session.TerminalSize{Columns: cols, Rows: rows})
		}
	}()
	return func() { close(quit) }
}
