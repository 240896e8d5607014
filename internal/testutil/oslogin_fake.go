// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/toeirei/cloudkey/internal/gce"
	"github.com/toeirei/cloudkey/internal/oslogin"
)

// FakeOsLoginClient is an in-memory oslogin.Client for tests. The zero
// value serves an empty login profile.
type FakeOsLoginClient struct {
	mu sync.Mutex

	// Profile is returned by GetLoginProfile and ImportSSHPublicKey.
	Profile oslogin.Profile

	// SignedKey is returned by SignPublicKey.
	SignedKey string

	// ProvisionOnSign makes SignPublicKey fail with SignErr until
	// ProvisionPosixProfile has been called, mimicking a user without a
	// POSIX profile.
	ProvisionOnSign bool

	GetErr       error
	ImportErr    error
	SignErr      error
	ProvisionErr error
	DeleteErr    error

	ImportedKeys    []string
	SignedKeys      []string
	Provisions      []string
	DeletedKeys     []string
	LastValidity    time.Duration
	ProvisionedOnce bool
}

var _ oslogin.Client = (*FakeOsLoginClient)(nil)

func (f *FakeOsLoginClient) GetLoginProfile(ctx context.Context, project gce.ProjectLocator) (*oslogin.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	profile := f.Profile
	return &profile, nil
}

func (f *FakeOsLoginClient) ImportSSHPublicKey(ctx context.Context, project gce.ProjectLocator, publicKey string, validity time.Duration) (*oslogin.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ImportErr != nil {
		return nil, f.ImportErr
	}
	f.ImportedKeys = append(f.ImportedKeys, publicKey)
	f.LastValidity = validity
	profile := f.Profile
	return &profile, nil
}

func (f *FakeOsLoginClient) SignPublicKey(ctx context.Context, zone gce.ZoneLocator, publicKey string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SignErr != nil && (!f.ProvisionOnSign || !f.ProvisionedOnce) {
		return "", f.SignErr
	}
	f.SignedKeys = append(f.SignedKeys, publicKey)
	return f.SignedKey, nil
}

func (f *FakeOsLoginClient) ProvisionPosixProfile(ctx context.Context, project gce.ProjectLocator, region string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ProvisionErr != nil {
		return f.ProvisionErr
	}
	f.Provisions = append(f.Provisions, region)
	f.ProvisionedOnce = true
	return nil
}

func (f *FakeOsLoginClient) DeleteSSHPublicKey(ctx context.Context, fingerprint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	f.DeletedKeys = append(f.DeletedKeys, fingerprint)
	return nil
}
