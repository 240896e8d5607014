// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

package session

import (
	"fmt"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

type fakeHostKeyStore struct {
	keys map[string]string
	err  error
}

func (s *fakeHostKeyStore) KnownHostKey(host string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.keys[host], nil
}

func TestVerifyingHostKeyCallback(t *testing.T) {
	key := testSigner(t).PublicKey()
	otherKey := testSigner(t).PublicKey()
	trusted := string(ssh.MarshalAuthorizedKey(key))

	tests := []struct {
		name    string
		store   *fakeHostKeyStore
		wantErr string
	}{
		{
			"trusted key",
			&fakeHostKeyStore{keys: map[string]string{"vm.example": trusted}},
			"",
		},
		{
			"unknown host",
			&fakeHostKeyStore{keys: map[string]string{}},
			"trust-host",
		},
		{
			"mismatched key",
			&fakeHostKeyStore{keys: map[string]string{"vm.example": string(ssh.MarshalAuthorizedKey(otherKey))}},
			"HOST KEY MISMATCH",
		},
		{
			"store failure",
			&fakeHostKeyStore{err: fmt.Errorf("db down")},
			"known hosts store",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := VerifyingHostKeyCallback(tt.store)
			err := cb("vm.example:22", nil, key)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("callback failed: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestVerifyingHostKeyCallbackStripsPort(t *testing.T) {
	key := testSigner(t).PublicKey()
	store := &fakeHostKeyStore{keys: map[string]string{
		"vm.example": string(ssh.MarshalAuthorizedKey(key)),
	}}
	cb := VerifyingHostKeyCallback(store)

	// With and without a port, the same stored key must match.
	if err := cb("vm.example:2222", nil, key); err != nil {
		t.Errorf("with port: %v", err)
	}
	if err := cb("vm.example", nil, key); err != nil {
		t.Errorf("without port: %v", err)
	}
}
