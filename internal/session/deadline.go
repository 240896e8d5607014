// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

package session

import "time"

// immediatePast is a deadline that makes every pending and future I/O
// call fail at once instead of blocking.
var immediatePast = time.Unix(1, 0)

func (s *Session) applyDeadline(t time.Time) error {
	if s.conn == nil {
		return ErrNotConnected
	}
	s.deadline = t
	return s.conn.SetDeadline(t)
}

// WithTimeout runs op with an I/O deadline on the underlying socket and
// restores the previous deadline afterwards, also on error.
func (s *Session) WithTimeout(d time.Duration, op func() error) error {
	if s.conn == nil {
		return ErrNotConnected
	}
	prev := s.deadline
	if err := s.applyDeadline(time.Now().Add(d)); err != nil {
		return err
	}
	defer s.applyDeadline(prev)
	return op()
}

// NonBlocking runs op with I/O set to fail immediately instead of
// blocking, restoring the previous mode afterwards.
func (s *Session) NonBlocking(op func() error) error {
	if s.conn == nil {
		return ErrNotConnected
	}
	prev := s.deadline
	if err := s.applyDeadline(immediatePast); err != nil {
		return err
	}
	defer s.applyDeadline(prev)
	return op()
}
