// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

// package authorize decides how a caller gets SSH access to a VM and
// executes that decision. Three methods exist: OS-Login, project
// metadata and instance metadata. OS-Login wins whenever the target
// enables it; otherwise the engine prefers project-wide keys and falls
// back to per-instance keys when the project is blocked, unwritable or
// not permitted by the caller.
package authorize // import "github.com/toeirei/cloudkey/internal/authorize"

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/toeirei/cloudkey/internal/gce"
	"github.com/toeirei/cloudkey/internal/logging"
	"github.com/toeirei/cloudkey/internal/metakey"
	"github.com/toeirei/cloudkey/internal/oslogin"
)

// Method identifies an authorization method. Methods combine as a flag
// set when expressing what a caller permits.
type Method uint8

const (
	// MethodInstanceMetadata publishes the key in the instance's own
	// metadata.
	MethodInstanceMetadata Method = 1 << iota

	// MethodProjectMetadata publishes the key in the project's common
	// instance metadata, granting access to all instances that do not
	// block project keys.
	MethodProjectMetadata

	// MethodOsLogin delegates key management to the OS-Login service.
	MethodOsLogin
)

// AllMethods permits every authorization method.
const AllMethods = MethodInstanceMetadata | MethodProjectMetadata | MethodOsLogin

func (m Method) String() string {
	switch m {
	case MethodInstanceMetadata:
		return "instance-metadata"
	case MethodProjectMetadata:
		return "project-metadata"
	case MethodOsLogin:
		return "os-login"
	}
	var parts []string
	for _, f := range []Method{MethodInstanceMetadata, MethodProjectMetadata, MethodOsLogin} {
		if m&f != 0 {
			parts = append(parts, f.String())
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// ParseMethods converts configured method names into a Method mask.
// An empty list permits every method.
func ParseMethods(names []string) (Method, error) {
	if len(names) == 0 {
		return AllMethods, nil
	}
	var m Method
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "instance-metadata":
			m |= MethodInstanceMetadata
		case "project-metadata":
			m |= MethodProjectMetadata
		case "os-login":
			m |= MethodOsLogin
		default:
			return 0, fmt.Errorf("%w: unknown authorization method %q", ErrInvalidArgument, name)
		}
	}
	return m, nil
}

// Identity is the authenticated principal on whose behalf keys are
// authorized.
type Identity struct {
	// Email is the principal's email address, recorded as the owner of
	// managed key records and used to derive usernames.
	Email string

	// Workforce marks a workforce-pool identity. Such identities have
	// no Google account and use the certificate-based OS-Login flow.
	Workforce bool
}

// Credential is the outcome of a successful authorization: the signer
// to authenticate with, the POSIX username to log in as, and the method
// that was used. The signer is borrowed from the request except on the
// workforce OS-Login path, where it is wrapped in a certificate signer.
type Credential struct {
	Signer   ssh.Signer
	Username string
	Method   Method
}

// Request describes one authorization attempt.
type Request struct {
	Instance gce.InstanceLocator

	// Signer holds the key pair to authorize.
	Signer ssh.Signer

	// PreferredUsername, when non-empty, overrides username derivation.
	// It must satisfy the POSIX username grammar.
	PreferredUsername string

	// Validity bounds the lifetime of a published managed key. It must
	// be positive. OS-Login applies it to imported keys; the
	// certificate flow uses the service's own lifetime.
	Validity time.Duration

	// AllowedMethods restricts which methods the engine may use.
	AllowedMethods Method
}

// Authorizer is the credential authorization engine. It is stateless
// between calls and safe for concurrent use; all shared state lives in
// the remote stores.
type Authorizer struct {
	identity  Identity
	store     *gce.MetadataStore
	resources gce.ResourceManagerClient
	osLogin   oslogin.Client
	now       func() time.Time
}

// NewAuthorizer returns an engine for the given identity and
// collaborator clients.
func NewAuthorizer(
	identity Identity,
	store *gce.MetadataStore,
	resources gce.ResourceManagerClient,
	osLoginClient oslogin.Client,
) *Authorizer {
	return &Authorizer{
		identity:  identity,
		store:     store,
		resources: resources,
		osLogin:   osLoginClient,
		now:       time.Now,
	}
}

// CreateUsernameForMetadata resolves the username to publish with a
// metadata key. A preferred username is validated and used as-is; an
// empty one is derived from the identity's email address.
func (a *Authorizer) CreateUsernameForMetadata(preferred string) (string, error) {
	if preferred != "" {
		if !IsValidUsername(preferred) {
			return "", fmt.Errorf("%w: %q is not a valid username", ErrInvalidArgument, preferred)
		}
		return preferred, nil
	}
	return usernameFromIdentity(a.identity.Email), nil
}

// Authorize publishes the request's public key via the best usable
// method and returns the credential to authenticate with.
func (a *Authorizer) Authorize(ctx context.Context, req Request) (*Credential, error) {
	if req.Signer == nil {
		return nil, fmt.Errorf("%w: signer must not be nil", ErrInvalidArgument)
	}
	if req.Validity <= 0 {
		return nil, fmt.Errorf("%w: validity must be positive", ErrInvalidArgument)
	}
	username, err := a.CreateUsernameForMetadata(req.PreferredUsername)
	if err != nil {
		return nil, err
	}

	scope, err := a.store.Describe(ctx, req.Instance)
	if err != nil {
		return nil, err
	}

	if scope.OsLoginEnabled() {
		if req.AllowedMethods&MethodOsLogin == 0 {
			return nil, &ConflictError{Instance: req.Instance}
		}
		if scope.OsLoginWithSecurityKeyEnabled() {
			return nil, &UnsupportedCapabilityError{Capability: "OS-Login with a security key"}
		}
		logging.Debugf("authorizing %s on %s via OS-Login", a.identity.Email, req.Instance)
		return a.authorizeOsLogin(ctx, req)
	}

	return a.authorizeMetadata(ctx, req, scope, username)
}

// authorizeOsLogin takes the OS-Login path. Workforce identities get a
// short-lived certificate from the zone signer; Google identities
// import the key into their login profile and use the profile's primary
// POSIX account.
func (a *Authorizer) authorizeOsLogin(ctx context.Context, req Request) (*Credential, error) {
	publicKey := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(req.Signer.PublicKey())))
	project := req.Instance.ProjectLocator()

	if a.identity.Workforce {
		zone := req.Instance.ZoneLocator()
		signed, err := a.osLogin.SignPublicKey(ctx, zone, publicKey)
		if err != nil && gce.IsNotFound(err) {
			// A missing POSIX profile surfaces as not-found. Provision
			// one for the region and retry exactly once.
			logging.Debugf("no POSIX profile for %s, provisioning in %s", a.identity.Email, zone.Region())
			if perr := a.osLogin.ProvisionPosixProfile(ctx, project, zone.Region()); perr != nil {
				return nil, perr
			}
			signed, err = a.osLogin.SignPublicKey(ctx, zone, publicKey)
		}
		if err != nil {
			return nil, err
		}

		parsed, _, _, _, err := ssh.ParseAuthorizedKey([]byte(signed))
		if err != nil {
			return nil, fmt.Errorf("failed to parse signed certificate: %w", err)
		}
		cert, ok := parsed.(*ssh.Certificate)
		if !ok || len(cert.ValidPrincipals) == 0 {
			return nil, &InvalidProfileError{Email: a.identity.Email}
		}
		signer, err := ssh.NewCertSigner(cert, req.Signer)
		if err != nil {
			return nil, fmt.Errorf("failed to build certificate signer: %w", err)
		}
		return &Credential{
			Signer:   signer,
			Username: cert.ValidPrincipals[0],
			Method:   MethodOsLogin,
		}, nil
	}

	profile, err := a.osLogin.ImportSSHPublicKey(ctx, project, publicKey, req.Validity)
	if err != nil {
		return nil, err
	}
	account, ok := profile.PrimaryPosixAccount(oslogin.SystemLinux)
	if !ok {
		return nil, &InvalidProfileError{Email: a.identity.Email}
	}
	return &Credential{
		Signer:   req.Signer,
		Username: account.Username,
		Method:   MethodOsLogin,
	}, nil
}

// authorizeMetadata publishes a managed key into project or instance
// metadata.
func (a *Authorizer) authorizeMetadata(
	ctx context.Context,
	req Request,
	scope *gce.Scope,
	username string,
) (*Credential, error) {
	if scope.LegacyKeyPresent() {
		return nil, &UnsupportedLegacyKeyError{Instance: req.Instance}
	}

	method, err := a.pickMetadataMethod(ctx, req, scope)
	if err != nil {
		return nil, err
	}

	now := a.now().UTC()
	pub := req.Signer.PublicKey()
	record := metakey.NewManagedRecord(
		username,
		pub.Type(),
		base64.StdEncoding.EncodeToString(pub.Marshal()),
		a.identity.Email,
		now.Add(req.Validity),
	)

	if a.reusableKeyPublished(scope, method, record, now) {
		logging.Debugf("key for %s already published via %s, skipping write", username, method)
		return &Credential{Signer: req.Signer, Username: username, Method: method}, nil
	}

	// Supersede any previous key for this username and prune expired
	// records in the same write.
	mutate := func(s *metakey.Set) *metakey.Set {
		s = s.Filter(func(r metakey.Record) bool { return r.Username != username })
		return s.RemoveExpired(now).Add(record)
	}
	switch method {
	case MethodProjectMetadata:
		err = a.store.UpdateProjectKeys(ctx, req.Instance.ProjectLocator(), mutate)
	default:
		err = a.store.UpdateInstanceKeys(ctx, req.Instance, mutate)
	}
	if err != nil {
		if gce.IsAccessDenied(err) {
			return nil, &KeyPushError{Instance: req.Instance, Err: err}
		}
		return nil, err
	}
	logging.Infof("published SSH key for %s to %s via %s", username, req.Instance, method)

	return &Credential{Signer: req.Signer, Username: username, Method: method}, nil
}

// pickMetadataMethod selects between project and instance metadata.
// Project metadata requires that the caller permits it, that neither
// scope blocks project keys, and that the caller can actually write
// project metadata.
func (a *Authorizer) pickMetadataMethod(
	ctx context.Context,
	req Request,
	scope *gce.Scope,
) (Method, error) {
	if req.AllowedMethods&MethodProjectMetadata != 0 && !scope.ProjectKeysBlocked() {
		granted, err := a.resources.IsAccessGranted(
			ctx, req.Instance.ProjectLocator(), gce.ProjectKeyWritePermissions)
		switch {
		case err != nil:
			logging.Warnf("permission check on project %s failed, falling back to instance metadata: %v",
				req.Instance.Project, err)
		case granted:
			return MethodProjectMetadata, nil
		default:
			logging.Debugf("no permission to write project metadata on %s, falling back to instance metadata",
				req.Instance.Project)
		}
	}
	if req.AllowedMethods&MethodInstanceMetadata != 0 {
		return MethodInstanceMetadata, nil
	}
	return 0, ErrNoUsableMethod
}

// reusableKeyPublished reports whether the target scope already holds
// this exact key as an unexpired managed record, making a write
// unnecessary.
func (a *Authorizer) reusableKeyPublished(
	scope *gce.Scope,
	method Method,
	record metakey.Record,
	now time.Time,
) bool {
	var existing *metakey.Set
	var err error
	if method == MethodProjectMetadata {
		existing, err = scope.ProjectKeys()
	} else {
		existing, err = scope.InstanceKeys()
	}
	if err != nil {
		// Malformed existing metadata is rejected by the update path;
		// never treat it as a published key.
		return false
	}
	for _, r := range existing.Records() {
		if r.Equal(record) && r.Managed != nil && !r.Expired(now) {
			return true
		}
	}
	return false
}
