// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

// package testutil contains in-memory fakes for the remote collaborators
// so tests can run without network access.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/toeirei/cloudkey/internal/gce"
)

// FakeComputeClient is an in-memory ComputeClient. Metadata mutations go
// through the same read-mutate-write shape as the real client, and every
// write is counted so tests can assert on idempotence.
type FakeComputeClient struct {
	mu sync.Mutex

	ProjectItems  map[string]string
	InstanceItems map[string]string
	InstanceID    uint64

	// ProjectWrites and InstanceWrites count committed metadata writes.
	ProjectWrites  int
	InstanceWrites int

	// GetProjectErr, GetInstanceErr and WriteErr, if set, are returned
	// by the corresponding calls.
	GetProjectErr  error
	GetInstanceErr error
	WriteErr       error
}

// NewFakeComputeClient returns a fake with empty metadata.
func NewFakeComputeClient() *FakeComputeClient {
	return &FakeComputeClient{
		ProjectItems:  map[string]string{},
		InstanceItems: map[string]string{},
		InstanceID:    4711,
	}
}

func (f *FakeComputeClient) GetProject(ctx context.Context, project gce.ProjectLocator) (*gce.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GetProjectErr != nil {
		return nil, f.GetProjectErr
	}
	return &gce.Project{
		Locator:  project,
		Metadata: gce.NewMetadata("project-fp", f.ProjectItems),
	}, nil
}

func (f *FakeComputeClient) GetInstance(ctx context.Context, instance gce.InstanceLocator) (*gce.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GetInstanceErr != nil {
		return nil, f.GetInstanceErr
	}
	return &gce.Instance{
		Locator:  instance,
		ID:       f.InstanceID,
		Metadata: gce.NewMetadata("instance-fp", f.InstanceItems),
	}, nil
}

func (f *FakeComputeClient) UpdateCommonInstanceMetadata(
	ctx context.Context,
	project gce.ProjectLocator,
	mutate func(*gce.Metadata) error,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WriteErr != nil {
		return f.WriteErr
	}
	md := gce.NewMetadata("project-fp", f.ProjectItems)
	if err := mutate(md); err != nil {
		return err
	}
	f.ProjectItems = md.Items()
	f.ProjectWrites++
	return nil
}

func (f *FakeComputeClient) UpdateInstanceMetadata(
	ctx context.Context,
	instance gce.InstanceLocator,
	mutate func(*gce.Metadata) error,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WriteErr != nil {
		return f.WriteErr
	}
	md := gce.NewMetadata("instance-fp", f.InstanceItems)
	if err := mutate(md); err != nil {
		return err
	}
	f.InstanceItems = md.Items()
	f.InstanceWrites++
	return nil
}

// FakeResourceManagerClient answers permission probes from a canned
// grant decision.
type FakeResourceManagerClient struct {
	Granted bool
	Err     error

	// LastPermissions records the permission set of the most recent probe.
	LastPermissions []string
}

func (f *FakeResourceManagerClient) IsAccessGranted(
	ctx context.Context,
	project gce.ProjectLocator,
	permissions []string,
) (bool, error) {
	f.LastPermissions = permissions
	if f.Err != nil {
		return false, f.Err
	}
	return f.Granted, nil
}

// Ensure the fakes satisfy the interfaces they stand in for.
var (
	_ gce.ComputeClient         = (*FakeComputeClient)(nil)
	_ gce.ResourceManagerClient = (*FakeResourceManagerClient)(nil)
)

// ErrFake is a reusable sentinel for tests that only care that an error
// propagated.
var ErrFake = fmt.Errorf("fake error")
