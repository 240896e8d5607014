// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

package gce

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/toeirei/cloudkey/internal/logging"
	"google.golang.org/api/compute/v1"
	"google.golang.org/api/option"
)

// updateAttempts bounds the optimistic-concurrency retry loop of the
// metadata update cycle.
const updateAttempts = 6

// ComputeClient is the narrow view of the compute API the authorization
// engine needs. Update methods implement read-modify-write with
// last-writer detection: a lost race is retried internally up to the
// client's retry budget, then surfaced.
type ComputeClient interface {
	GetProject(ctx context.Context, project ProjectLocator) (*Project, error)
	GetInstance(ctx context.Context, instance InstanceLocator) (*Instance, error)
	UpdateCommonInstanceMetadata(ctx context.Context, project ProjectLocator, mutate func(*Metadata) error) error
	UpdateInstanceMetadata(ctx context.Context, instance InstanceLocator, mutate func(*Metadata) error) error
}

// ResourceManagerClient checks caller permissions on a project.
type ResourceManagerClient interface {
	// IsAccessGranted reports whether the caller holds all of the given
	// permissions on the project.
	IsAccessGranted(ctx context.Context, project ProjectLocator, permissions []string) (bool, error)
}

// computeClient is the production ComputeClient backed by the REST API.
type computeClient struct {
	service *compute.Service
}

// NewComputeClient dials the compute API using ambient credentials
// unless overridden by options.
func NewComputeClient(ctx context.Context, opts ...option.ClientOption) (ComputeClient, error) {
	service, err := compute.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create compute client: %w", err)
	}
	return &computeClient{service: service}, nil
}

func (c *computeClient) GetProject(ctx context.Context, project ProjectLocator) (*Project, error) {
	p, err := c.service.Projects.Get(project.Project).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read project %s: %w", project, err)
	}
	return &Project{
		Locator:  project,
		Metadata: fromAPIMetadata(p.CommonInstanceMetadata),
	}, nil
}

func (c *computeClient) GetInstance(ctx context.Context, instance InstanceLocator) (*Instance, error) {
	i, err := c.service.Instances.Get(instance.Project, instance.Zone, instance.Name).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read instance %s: %w", instance, err)
	}
	var serviceAccount string
	if len(i.ServiceAccounts) > 0 {
		serviceAccount = i.ServiceAccounts[0].Email
	}
	var internalIP, externalIP string
	if len(i.NetworkInterfaces) > 0 {
		nic := i.NetworkInterfaces[0]
		internalIP = nic.NetworkIP
		if len(nic.AccessConfigs) > 0 {
			externalIP = nic.AccessConfigs[0].NatIP
		}
	}
	return &Instance{
		Locator:        instance,
		ID:             i.Id,
		ServiceAccount: serviceAccount,
		ExternalIP:     externalIP,
		InternalIP:     internalIP,
		Metadata:       fromAPIMetadata(i.Metadata),
	}, nil
}

func (c *computeClient) UpdateCommonInstanceMetadata(
	ctx context.Context,
	project ProjectLocator,
	mutate func(*Metadata) error,
) error {
	return updateWithRetry(ctx, mutate,
		func(ctx context.Context) (*Metadata, error) {
			p, err := c.GetProject(ctx, project)
			if err != nil {
				return nil, err
			}
			return p.Metadata, nil
		},
		func(ctx context.Context, md *Metadata) error {
			_, err := c.service.Projects.
				SetCommonInstanceMetadata(project.Project, toAPIMetadata(md)).
				Context(ctx).
				Do()
			return err
		})
}

func (c *computeClient) UpdateInstanceMetadata(
	ctx context.Context,
	instance InstanceLocator,
	mutate func(*Metadata) error,
) error {
	return updateWithRetry(ctx, mutate,
		func(ctx context.Context) (*Metadata, error) {
			i, err := c.GetInstance(ctx, instance)
			if err != nil {
				return nil, err
			}
			return i.Metadata, nil
		},
		func(ctx context.Context, md *Metadata) error {
			_, err := c.service.Instances.
				SetMetadata(instance.Project, instance.Zone, instance.Name, toAPIMetadata(md)).
				Context(ctx).
				Do()
			return err
		})
}

// updateWithRetry runs the read-mutate-write cycle. Metadata must be
// written all-at-once, so the current items are re-read on every
// attempt. A 412 means we lost the optimistic concurrency race against
// a concurrent writer; a 503 means the API is being flaky. Both are
// retried after a short backoff, everything else propagates.
func updateWithRetry(
	ctx context.Context,
	mutate func(*Metadata) error,
	read func(context.Context) (*Metadata, error),
	write func(context.Context, *Metadata) error,
) error {
	for attempt := 1; ; attempt++ {
		md, err := read(ctx)
		if err != nil {
			return err
		}

		if err := mutate(md); err != nil {
			return err
		}

		err = write(ctx, md)
		if err == nil {
			return nil
		}
		if attempt == updateAttempts || !isRetryableUpdateError(err) {
			return err
		}

		backoff := time.Duration(10*attempt) * time.Millisecond
		logging.Debugf("metadata update for attempt %d lost the update race, retrying after %v: %v",
			attempt, backoff, err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func fromAPIMetadata(md *compute.Metadata) *Metadata {
	items := make(map[string]string)
	fingerprint := ""
	if md != nil {
		fingerprint = md.Fingerprint
		for _, item := range md.Items {
			if item == nil {
				continue
			}
			value := ""
			if item.Value != nil {
				value = *item.Value
			}
			items[item.Key] = value
		}
	}
	return NewMetadata(fingerprint, items)
}

func toAPIMetadata(md *Metadata) *compute.Metadata {
	items := md.Items()
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	apiItems := make([]*compute.MetadataItems, 0, len(keys))
	for _, k := range keys {
		value := items[k]
		apiItems = append(apiItems, &compute.MetadataItems{
			Key:   k,
			Value: &value,
		})
	}
	return &compute.Metadata{
		Fingerprint: md.Fingerprint,
		Items:       apiItems,
	}
}
