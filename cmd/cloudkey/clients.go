// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/toeirei/cloudkey/internal/authorize"
	"github.com/toeirei/cloudkey/internal/gce"
	"github.com/toeirei/cloudkey/internal/hostdb"
	"github.com/toeirei/cloudkey/internal/logging"
	"github.com/toeirei/cloudkey/internal/oslogin"
	"github.com/toeirei/cloudkey/internal/session"
	"golang.org/x/crypto/ssh"
)

// targetInstance resolves a positional instance name against the
// configured project and zone.
func targetInstance(name string) (gce.InstanceLocator, error) {
	if cfg.Project == "" {
		return gce.InstanceLocator{}, errors.New("no project configured, set --project or the config file")
	}
	if cfg.Zone == "" {
		return gce.InstanceLocator{}, errors.New("no zone configured, set --zone or the config file")
	}
	return gce.InstanceLocator{Project: cfg.Project, Zone: cfg.Zone, Name: name}, nil
}

// buildAuthorizer wires the production API clients into an Authorizer
// for the configured identity.
func buildAuthorizer(ctx context.Context) (*authorize.Authorizer, gce.ComputeClient, error) {
	if cfg.Email == "" {
		return nil, nil, errors.New("no identity configured, set --email or the config file")
	}
	computeClient, err := gce.NewComputeClient(ctx)
	if err != nil {
		return nil, nil, err
	}
	resources, err := gce.NewResourceManagerClient(ctx)
	if err != nil {
		return nil, nil, err
	}
	osLoginClient, err := oslogin.NewClient(ctx, cfg.Email)
	if err != nil {
		return nil, nil, err
	}
	identity := authorize.Identity{Email: cfg.Email, Workforce: cfg.Workforce}
	auth := authorize.NewAuthorizer(identity, gce.NewMetadataStore(computeClient), resources, osLoginClient)
	return auth, computeClient, nil
}

// loadSigner picks the key pair to authorize: an explicit key file if
// configured, else the first agent key, else a fresh in-memory key.
func loadSigner() (ssh.Signer, error) {
	if cfg.KeyFile != "" {
		data, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse key file %s: %w", cfg.KeyFile, err)
		}
		return signer, nil
	}
	if signers := session.AgentSigners(); len(signers) > 0 {
		logging.Debugf("using the first of %d agent keys", len(signers))
		return signers[0], nil
	}
	logging.Debugf("no agent key available, generating an ephemeral key")
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return ssh.NewSignerFromKey(priv)
}

// keyValidity returns the configured key lifetime.
func keyValidity() time.Duration {
	minutes := cfg.KeyValidityMinutes
	if minutes <= 0 {
		minutes = 30
	}
	return time.Duration(minutes) * time.Minute
}

// authorizeTarget runs the full authorization flow for an instance and
// returns the credential together with the instance snapshot.
func authorizeTarget(ctx context.Context, name string) (*authorize.Credential, *gce.Instance, error) {
	instance, err := targetInstance(name)
	if err != nil {
		return nil, nil, err
	}
	allowed, err := authorize.ParseMethods(cfg.AuthMethods)
	if err != nil {
		return nil, nil, err
	}
	signer, err := loadSigner()
	if err != nil {
		return nil, nil, err
	}
	auth, computeClient, err := buildAuthorizer(ctx)
	if err != nil {
		return nil, nil, err
	}
	cred, err := auth.Authorize(ctx, authorize.Request{
		Instance:          instance,
		Signer:            signer,
		PreferredUsername: cfg.Username,
		Validity:          keyValidity(),
		AllowedMethods:    allowed,
	})
	if err != nil {
		return nil, nil, err
	}
	vm, err := computeClient.GetInstance(ctx, instance)
	if err != nil {
		return nil, nil, err
	}
	if vm.ConnectAddr() == "" {
		return nil, nil, fmt.Errorf("instance %s has no reachable IP address", instance)
	}
	return cred, vm, nil
}

// openHostStore opens the known-hosts database configured for this run.
func openHostStore(ctx context.Context) (*hostdb.Store, error) {
	dsn := cfg.DBDSN
	if dsn == "" {
		dsn = "cloudkey.db"
	}
	return hostdb.Open(ctx, cfg.DBType, dsn)
}
