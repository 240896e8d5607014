// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

package gce

import (
	"context"
	"fmt"

	"google.golang.org/api/cloudresourcemanager/v1"
	"google.golang.org/api/option"
)

type resourceManagerClient struct {
	service *cloudresourcemanager.Service
}

// NewResourceManagerClient dials the resource manager API.
func NewResourceManagerClient(ctx context.Context, opts ...option.ClientOption) (ResourceManagerClient, error) {
	service, err := cloudresourcemanager.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource manager client: %w", err)
	}
	return &resourceManagerClient{service: service}, nil
}

func (c *resourceManagerClient) IsAccessGranted(
	ctx context.Context,
	project ProjectLocator,
	permissions []string,
) (bool, error) {
	resp, err := c.service.Projects.
		TestIamPermissions(project.Project, &cloudresourcemanager.TestIamPermissionsRequest{
			Permissions: permissions,
		}).
		Context(ctx).
		Do()
	if err != nil {
		return false, fmt.Errorf("failed to check permissions on %s: %w", project, err)
	}

	granted := make(map[string]bool, len(resp.Permissions))
	for _, p := range resp.Permissions {
		granted[p] = true
	}
	for _, p := range permissions {
		if !granted[p] {
			return false, nil
		}
	}
	return true, nil
}
