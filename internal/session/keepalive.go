// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

package session

import (
	"encoding/binary"
	"time"
)

const keepaliveRequest = "keepalive@openssh.com"

// SendKeepaliveIfDue sends a keepalive request when the previously
// scheduled due time has passed and returns the time remaining until
// the next one. When the server's reply carries a next-interval hint
// (a big-endian seconds value), the schedule follows the server rather
// than the configured interval.
func (s *Session) SendKeepaliveIfDue(now time.Time) (time.Duration, error) {
	defer s.enter("SendKeepaliveIfDue")()
	switch s.state {
	case StateClosed:
		return 0, ErrClosed
	case StateUnconnected, StateConnected:
		return 0, ErrNotAuthenticated
	}
	if s.cfg.KeepaliveInterval <= 0 {
		return 0, nil
	}
	if now.Before(s.keepaliveDue) {
		return s.keepaliveDue.Sub(now), nil
	}

	_, reply, err := s.client.SendRequest(keepaliveRequest, true, nil)
	if err != nil {
		return 0, &TransportError{Op: "keepalive", Addr: s.addr, Err: err}
	}

	next := s.cfg.KeepaliveInterval
	if len(reply) >= 4 {
		if secs := binary.BigEndian.Uint32(reply); secs > 0 {
			next = time.Duration(secs) * time.Second
		}
	}
	s.keepaliveDue = now.Add(next)
	return next, nil
}
