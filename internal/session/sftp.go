// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

package session

import (
	"fmt"
	"os"

	"github.com/toeirei/cloudkey/internal/logging"
)

// Sftp is a file transfer channel. Files opened through it must be
// closed before the channel itself.
type Sftp struct {
	owner  *Session
	conn   sftpConn
	files  map[*SftpFile]string
	closed bool
}

// Sftp opens a file transfer channel on the authenticated session.
func (s *Session) Sftp() (*Sftp, error) {
	defer s.enter("Sftp")()
	switch s.state {
	case StateClosed:
		return nil, ErrClosed
	case StateUnconnected, StateConnected:
		return nil, ErrNotAuthenticated
	}

	conn, err := s.client.OpenSftp()
	if err != nil {
		return nil, &TransportError{Op: "open-sftp", Addr: s.addr, Err: err}
	}
	f := &Sftp{owner: s, conn: conn, files: map[*SftpFile]string{}}
	s.adopt(f, "sftp")
	return f, nil
}

// Open opens a remote file for reading.
func (f *Sftp) Open(path string) (*SftpFile, error) {
	if f.closed {
		return nil, ErrClosed
	}
	raw, err := f.conn.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote file %s: %w", path, err)
	}
	file := &SftpFile{owner: f, raw: raw, path: path}
	f.files[file] = path
	return file, nil
}

// Create creates or truncates a remote file for writing.
func (f *Sftp) Create(path string) (*SftpFile, error) {
	if f.closed {
		return nil, ErrClosed
	}
	raw, err := f.conn.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote file %s: %w", path, err)
	}
	file := &SftpFile{owner: f, raw: raw, path: path}
	f.files[file] = path
	return file, nil
}

// Mkdir creates a remote directory.
func (f *Sftp) Mkdir(path string) error {
	if f.closed {
		return ErrClosed
	}
	return f.conn.Mkdir(path)
}

// Chmod changes the permissions of a remote file.
func (f *Sftp) Chmod(path string, mode os.FileMode) error {
	if f.closed {
		return ErrClosed
	}
	return f.conn.Chmod(path, mode)
}

// Rename atomically moves a remote file.
func (f *Sftp) Rename(oldname, newname string) error {
	if f.closed {
		return ErrClosed
	}
	return f.conn.Rename(oldname, newname)
}

// Remove deletes a remote file.
func (f *Sftp) Remove(path string) error {
	if f.closed {
		return ErrClosed
	}
	return f.conn.Remove(path)
}

// Close releases the channel. Closing with files still open is a usage
// error and leaks the channel instead of invalidating the file handles.
func (f *Sftp) Close() error {
	if f.closed {
		return nil
	}
	if len(f.files) > 0 {
		if DebugChecks {
			panic(fmt.Sprintf("session: sftp channel closed with %d open files", len(f.files)))
		}
		logging.Errorf("sftp channel closed with %d open files; leaking channel", len(f.files))
		return nil
	}
	f.closed = true
	f.owner.release(f)
	return f.conn.Close()
}

// SftpFile is one remote file opened through an Sftp channel.
type SftpFile struct {
	owner  *Sftp
	raw    sftpFile
	path   string
	closed bool
}

// Path returns the remote path of the file.
func (f *SftpFile) Path() string { return f.path }

func (f *SftpFile) Read(p []byte) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}
	return f.raw.Read(p)
}

// Write writes to the remote file. A transient write timeout is retried
// once before the error propagates.
func (f *SftpFile) Write(p []byte) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}
	n, err := f.raw.Write(p)
	if err != nil && isTimeout(err) {
		logging.Debugf("write to %s timed out, retrying once", f.path)
		return f.raw.Write(p)
	}
	return n, err
}

// Close releases the file handle.
func (f *SftpFile) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	delete(f.owner.files, f)
	return f.raw.Close()
}
