// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

package session

import (
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// HostKeyStore looks up the trusted public key for a host. An empty
// result means the host is unknown.
type HostKeyStore interface {
	KnownHostKey(host string) (string, error)
}

// VerifyingHostKeyCallback builds a host key callback backed by a
// trust store. Unknown hosts are rejected with a hint to run
// 'cloudkey trust-host'; a key mismatch fails loudly.
func VerifyingHostKeyCallback(store HostKeyStore) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		// The hostname passed to the callback can include the port. We need to strip it
		// to ensure we're looking up the correct key in our store.
		host, _, err := net.SplitHostPort(hostname)
		if err != nil {
			// If SplitHostPort fails, it means there was no port, so we use the original string.
			host = hostname
		}

		// The key is presented in the format "ssh-ed25519 AAA..."
		presentedKey := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(key)))

		knownKey, err := store.KnownHostKey(host)
		if err != nil {
			return fmt.Errorf("failed to query known hosts store: %w", err)
		}
		knownKey = strings.TrimSpace(knownKey)

		// If we don't have a key, this is the first connection.
		if knownKey == "" {
			return fmt.Errorf("unknown host key for %s. run 'cloudkey trust-host' to add it", host)
		}

		// If the key exists, it must match exactly.
		if knownKey != presentedKey {
			return fmt.Errorf("!!! HOST KEY MISMATCH FOR %s !!!\nRemote key presented: %s\nThis could be a man-in-the-middle attack", host, presentedKey)
		}

		return nil // Host key is trusted.
	}
}

// ProbeHostKey connects to a host just to retrieve its public key.
func ProbeHostKey(host string) (ssh.PublicKey, error) {
	keyChan := make(chan ssh.PublicKey, 1)

	config := &ssh.ClientConfig{
		// We don't need to authenticate for this, just start the handshake.
		User: "cloudkey-probe",
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			// We got the key, send it back on the channel.
			keyChan <- key
			// Return a specific error to gracefully stop the handshake.
			return fmt.Errorf("cloudkey: successfully retrieved host key")
		},
		Timeout: 5 * time.Second,
	}

	addr := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		addr = net.JoinHostPort(host, "22")
	}

	// We expect ssh.Dial to fail with our specific error.
	_, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		// Check if it's our specific error.
		if strings.Contains(err.Error(), "cloudkey: successfully retrieved host key") {
			// Success, the key is in the channel.
			return <-keyChan, nil
		}
		// It's a different, real error (e.g., connection refused).
		return nil, fmt.Errorf("failed to connect to %s: %w", host, err)
	}

	// This case should ideally not be reached if the callback returns an error.
	return nil, fmt.Errorf("ssh.Dial succeeded unexpectedly, could not retrieve key")
}
