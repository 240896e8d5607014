// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

// package oslogin adapts the cloud identity login service. OS-Login
// manages POSIX account mapping and key import server-side, so unlike
// the metadata path there is no key set to reconcile: keys are imported
// (or certified, for workforce identities) and the service hands back
// the authoritative POSIX username.
package oslogin // import "github.com/toeirei/cloudkey/internal/oslogin"

import (
	"context"
	"fmt"
	"time"

	"github.com/toeirei/cloudkey/internal/gce"
	oslogin "google.golang.org/api/oslogin/v1beta"
	"google.golang.org/api/option"
)

// SystemLinux is the operating system family of the POSIX accounts this
// package resolves.
const SystemLinux = "LINUX"

// PosixAccount is one POSIX identity within a login profile.
type PosixAccount struct {
	Username        string
	Primary         bool
	OperatingSystem string
}

// SSHPublicKey is an imported public key within a login profile.
type SSHPublicKey struct {
	Key                string
	Fingerprint        string
	ExpirationTimeUsec int64
}

// Profile is a user's login profile.
type Profile struct {
	Name          string
	PosixAccounts []PosixAccount
	SSHPublicKeys []SSHPublicKey
}

// PrimaryPosixAccount returns the primary account of the given OS
// family, if any. Although rare, a profile can hold multiple accounts.
func (p *Profile) PrimaryPosixAccount(operatingSystem string) (PosixAccount, bool) {
	for _, a := range p.PosixAccounts {
		if a.Primary && a.OperatingSystem == operatingSystem {
			return a, true
		}
	}
	return PosixAccount{}, false
}

// Client is the narrow view of the OS-Login API used by the
// authorization engine.
type Client interface {
	// GetLoginProfile reads the caller's login profile in the context of
	// the given project.
	GetLoginProfile(ctx context.Context, project gce.ProjectLocator) (*Profile, error)

	// ImportSSHPublicKey uploads a public key, valid for the given
	// duration, and returns the resulting login profile.
	ImportSSHPublicKey(ctx context.Context, project gce.ProjectLocator, publicKey string, validity time.Duration) (*Profile, error)

	// SignPublicKey certifies a public key for a zone and instance and
	// returns the signed certificate in OpenSSH format.
	SignPublicKey(ctx context.Context, zone gce.ZoneLocator, publicKey string) (string, error)

	// ProvisionPosixProfile creates a POSIX profile for the caller in
	// the given region.
	ProvisionPosixProfile(ctx context.Context, project gce.ProjectLocator, region string) error

	// DeleteSSHPublicKey removes a previously imported key by
	// fingerprint.
	DeleteSSHPublicKey(ctx context.Context, fingerprint string) error
}

// restClient is the production Client backed by the REST API.
type restClient struct {
	service *oslogin.Service

	// email is the authenticated principal, used to address the
	// "users/{email}/..." resource names.
	email string
}

// NewClient dials the OS-Login API on behalf of the given principal.
func NewClient(ctx context.Context, email string, opts ...option.ClientOption) (Client, error) {
	if email == "" {
		return nil, fmt.Errorf("oslogin: principal email must not be empty")
	}
	service, err := oslogin.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create oslogin client: %w", err)
	}
	return &restClient{service: service, email: email}, nil
}

func (c *restClient) userName() string {
	return "users/" + c.email
}

func (c *restClient) GetLoginProfile(ctx context.Context, project gce.ProjectLocator) (*Profile, error) {
	profile, err := c.service.Users.
		GetLoginProfile(c.userName()).
		ProjectId(project.Project).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read login profile: %w", err)
	}
	return fromAPIProfile(profile), nil
}

func (c *restClient) ImportSSHPublicKey(
	ctx context.Context,
	project gce.ProjectLocator,
	publicKey string,
	validity time.Duration,
) (*Profile, error) {
	expiry := time.Now().Add(validity).UnixMicro()
	response, err := c.service.Users.
		ImportSshPublicKey(c.userName(), &oslogin.SshPublicKey{
			Key:                publicKey,
			ExpirationTimeUsec: expiry,
		}).
		ProjectId(project.Project).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to import public key: %w", err)
	}
	return fromAPIProfile(response.LoginProfile), nil
}

func (c *restClient) SignPublicKey(
	ctx context.Context,
	zone gce.ZoneLocator,
	publicKey string,
) (string, error) {
	parent := fmt.Sprintf("%s/projects/%s/zones/%s", c.userName(), zone.Project, zone.Zone)
	response, err := c.service.Users.Projects.Zones.
		SignSshPublicKey(parent, &oslogin.SignSshPublicKeyRequest{
			SshPublicKey: publicKey,
		}).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("failed to sign public key: %w", err)
	}
	return response.SignedSshPublicKey, nil
}

func (c *restClient) ProvisionPosixProfile(
	ctx context.Context,
	project gce.ProjectLocator,
	region string,
) error {
	name := fmt.Sprintf("%s/projects/%s", c.userName(), project.Project)
	_, err := c.service.Users.Projects.
		ProvisionPosixAccount(name, &oslogin.ProvisionPosixAccountRequest{
			Regions: []string{region},
		}).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to provision POSIX profile: %w", err)
	}
	return nil
}

func (c *restClient) DeleteSSHPublicKey(ctx context.Context, fingerprint string) error {
	name := fmt.Sprintf("%s/sshPublicKeys/%s", c.userName(), fingerprint)
	if _, err := c.service.Users.SshPublicKeys.Delete(name).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to delete public key: %w", err)
	}
	return nil
}

func fromAPIProfile(p *oslogin.LoginProfile) *Profile {
	if p == nil {
		return &Profile{}
	}
	profile := &Profile{Name: p.Name}
	for _, a := range p.PosixAccounts {
		if a == nil {
			continue
		}
		profile.PosixAccounts = append(profile.PosixAccounts, PosixAccount{
			Username:        a.Username,
			Primary:         a.Primary,
			OperatingSystem: a.OperatingSystemType,
		})
	}
	for _, k := range p.SshPublicKeys {
		profile.SSHPublicKeys = append(profile.SSHPublicKeys, SSHPublicKey{
			Key:                k.Key,
			Fingerprint:        k.Fingerprint,
			ExpirationTimeUsec: k.ExpirationTimeUsec,
		})
	}
	return profile
}
