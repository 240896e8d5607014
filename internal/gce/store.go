// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

package gce

import (
	"context"
	"fmt"

	"github.com/toeirei/cloudkey/internal/metakey"
)

// Permissions required to write project-level authorized keys.
const (
	PermissionSetCommonInstanceMetadata = "compute.projects.setCommonInstanceMetadata"
	PermissionServiceAccountActAs       = "iam.serviceAccounts.actAs"
)

// ProjectKeyWritePermissions is the fixed permission set probed before
// attempting a project-metadata key push.
var ProjectKeyWritePermissions = []string{
	PermissionSetCommonInstanceMetadata,
	PermissionServiceAccountActAs,
}

// MetadataStore reads metadata scopes and applies authorized-key
// mutations through the compute client's conditional update cycle.
type MetadataStore struct {
	compute ComputeClient
}

// NewMetadataStore wraps a compute client.
func NewMetadataStore(compute ComputeClient) *MetadataStore {
	return &MetadataStore{compute: compute}
}

// Describe performs one logical read of the instance and its owning
// project and returns the combined immutable scope.
func (s *MetadataStore) Describe(ctx context.Context, instance InstanceLocator) (*Scope, error) {
	i, err := s.compute.GetInstance(ctx, instance)
	if err != nil {
		return nil, err
	}
	p, err := s.compute.GetProject(ctx, instance.ProjectLocator())
	if err != nil {
		return nil, err
	}
	return &Scope{Instance: i, Project: p}, nil
}

// DescribeProject reads only the project scope.
func (s *MetadataStore) DescribeProject(ctx context.Context, project ProjectLocator) (*Scope, error) {
	p, err := s.compute.GetProject(ctx, project)
	if err != nil {
		return nil, err
	}
	return &Scope{Project: p}, nil
}

// UpdateProjectKeys applies a pure key-set mutation to the project's
// common instance metadata.
func (s *MetadataStore) UpdateProjectKeys(
	ctx context.Context,
	project ProjectLocator,
	mutate func(*metakey.Set) *metakey.Set,
) error {
	return s.compute.UpdateCommonInstanceMetadata(ctx, project, mutateKeysItem(mutate))
}

// UpdateInstanceKeys applies a pure key-set mutation to the instance
// metadata.
func (s *MetadataStore) UpdateInstanceKeys(
	ctx context.Context,
	instance InstanceLocator,
	mutate func(*metakey.Set) *metakey.Set,
) error {
	return s.compute.UpdateInstanceMetadata(ctx, instance, mutateKeysItem(mutate))
}

// mutateKeysItem lifts a pure Set -> Set function into a metadata
// mutation. The item is written even when the resulting set is empty:
// deleting it would make the guest agent fall back to legacy behavior.
func mutateKeysItem(mutate func(*metakey.Set) *metakey.Set) func(*Metadata) error {
	return func(md *Metadata) error {
		blob, _ := md.Value(metakey.MetadataKey)
		set, err := metakey.ParseSet(blob)
		if err != nil {
			return fmt.Errorf("refusing to update malformed metadata item %s: %w",
				metakey.MetadataKey, err)
		}
		md.SetValue(metakey.MetadataKey, mutate(set).String())
		return nil
	}
}
