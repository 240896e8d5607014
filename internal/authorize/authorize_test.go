// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

package authorize

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
	"google.golang.org/api/googleapi"

	"github.com/toeirei/cloudkey/internal/gce"
	"github.com/toeirei/cloudkey/internal/metakey"
	"github.com/toeirei/cloudkey/internal/oslogin"
	"github.com/toeirei/cloudkey/internal/testutil"
)

var (
	testInstance = gce.InstanceLocator{Project: "project-1", Zone: "us-central1-a", Name: "vm-1"}
	testNow      = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
)

func newTestSigner(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey failed: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("ssh.NewSignerFromKey failed: %v", err)
	}
	return signer
}

type fixture struct {
	compute   *testutil.FakeComputeClient
	resources *testutil.FakeResourceManagerClient
	osLogin   *testutil.FakeOsLoginClient
	auth      *Authorizer
}

func newFixture(t *testing.T, identity Identity) *fixture {
	t.Helper()
	f := &fixture{
		compute:   testutil.NewFakeComputeClient(),
		resources: &testutil.FakeResourceManagerClient{Granted: true},
		osLogin: &testutil.FakeOsLoginClient{
			Profile: oslogin.Profile{
				PosixAccounts: []oslogin.PosixAccount{
					{Username: "sa_12345", Primary: true, OperatingSystem: oslogin.SystemLinux},
				},
			},
		},
	}
	f.auth = NewAuthorizer(identity, gce.NewMetadataStore(f.compute), f.resources, f.osLogin)
	f.auth.now = func() time.Time { return testNow }
	return f
}

func request(signer ssh.Signer) Request {
	return Request{
		Instance:       testInstance,
		Signer:         signer,
		Validity:       time.Hour,
		AllowedMethods: AllMethods,
	}
}

func TestAuthorizeRejectsBadArguments(t *testing.T) {
	f := newFixture(t, Identity{Email: "alice@example.com"})
	signer := newTestSigner(t)

	tests := []struct {
		name string
		req  Request
	}{
		{"nil signer", Request{Instance: testInstance, Validity: time.Hour, AllowedMethods: AllMethods}},
		{"zero validity", Request{Instance: testInstance, Signer: signer, AllowedMethods: AllMethods}},
		{"negative validity", Request{Instance: testInstance, Signer: signer, Validity: -time.Minute, AllowedMethods: AllMethods}},
		{"invalid preferred username", Request{Instance: testInstance, Signer: signer, Validity: time.Hour, AllowedMethods: AllMethods, PreferredUsername: "-bad"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.auth.Authorize(context.Background(), tt.req)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("err = %v, want ErrInvalidArgument", err)
			}
		})
	}
	if f.compute.ProjectWrites+f.compute.InstanceWrites != 0 {
		t.Error("validation failures must not write metadata")
	}
}

func TestAuthorizePrefersOsLogin(t *testing.T) {
	f := newFixture(t, Identity{Email: "alice@example.com"})
	f.compute.ProjectItems[gce.EnableOsLoginFlag] = "TRUE"

	cred, err := f.auth.Authorize(context.Background(), request(newTestSigner(t)))
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if cred.Method != MethodOsLogin {
		t.Errorf("Method = %v, want %v", cred.Method, MethodOsLogin)
	}
	if cred.Username != "sa_12345" {
		t.Errorf("Username = %q, want %q", cred.Username, "sa_12345")
	}
	if len(f.osLogin.ImportedKeys) != 1 {
		t.Errorf("imported %d keys, want 1", len(f.osLogin.ImportedKeys))
	}
	if f.compute.ProjectWrites+f.compute.InstanceWrites != 0 {
		t.Error("OS-Login must not touch metadata")
	}
}

func TestAuthorizeOsLoginInstanceOverride(t *testing.T) {
	f := newFixture(t, Identity{Email: "alice@example.com"})
	f.compute.ProjectItems[gce.EnableOsLoginFlag] = "true"
	f.compute.InstanceItems[gce.EnableOsLoginFlag] = "false"

	cred, err := f.auth.Authorize(context.Background(), request(newTestSigner(t)))
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if cred.Method == MethodOsLogin {
		t.Error("instance-level disable must override project-level enable")
	}
}

func TestAuthorizeOsLoginConflict(t *testing.T) {
	f := newFixture(t, Identity{Email: "alice@example.com"})
	f.compute.InstanceItems[gce.EnableOsLoginFlag] = "y"

	req := request(newTestSigner(t))
	req.AllowedMethods = MethodProjectMetadata | MethodInstanceMetadata
	_, err := f.auth.Authorize(context.Background(), req)

	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
	if f.compute.ProjectWrites+f.compute.InstanceWrites != 0 {
		t.Error("conflict must be detected before any metadata mutation")
	}
}

func TestAuthorizeOsLoginSecurityKeyUnsupported(t *testing.T) {
	f := newFixture(t, Identity{Email: "alice@example.com"})
	f.compute.InstanceItems[gce.EnableOsLoginFlag] = "true"
	f.compute.InstanceItems[gce.EnableOsLoginWithSecurityKeyFlag] = "true"

	_, err := f.auth.Authorize(context.Background(), request(newTestSigner(t)))

	var unsupported *UnsupportedCapabilityError
	if !errors.As(err, &unsupported) {
		t.Fatalf("err = %v, want UnsupportedCapabilityError", err)
	}
}

func TestAuthorizeOsLoginInvalidProfile(t *testing.T) {
	f := newFixture(t, Identity{Email: "alice@example.com"})
	f.compute.InstanceItems[gce.EnableOsLoginFlag] = "true"
	f.osLogin.Profile = oslogin.Profile{}

	_, err := f.auth.Authorize(context.Background(), request(newTestSigner(t)))

	var invalid *InvalidProfileError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidProfileError", err)
	}
}

func signedCertificate(t *testing.T, signer ssh.Signer, principal string) string {
	t.Helper()
	_, caPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey failed: %v", err)
	}
	ca, err := ssh.NewSignerFromKey(caPriv)
	if err != nil {
		t.Fatalf("ssh.NewSignerFromKey failed: %v", err)
	}
	cert := &ssh.Certificate{
		Key:             signer.PublicKey(),
		CertType:        ssh.UserCert,
		ValidPrincipals: []string{principal},
		ValidBefore:     uint64(testNow.Add(time.Hour).Unix()),
	}
	if err := cert.SignCert(rand.Reader, ca); err != nil {
		t.Fatalf("SignCert failed: %v", err)
	}
	return string(ssh.MarshalAuthorizedKey(cert))
}

func TestAuthorizeWorkforceUsesCertificate(t *testing.T) {
	f := newFixture(t, Identity{Email: "bob@workforce.example", Workforce: true})
	f.compute.InstanceItems[gce.EnableOsLoginFlag] = "true"

	signer := newTestSigner(t)
	f.osLogin.SignedKey = signedCertificate(t, signer, "wf_bob")

	cred, err := f.auth.Authorize(context.Background(), request(signer))
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if cred.Username != "wf_bob" {
		t.Errorf("Username = %q, want %q", cred.Username, "wf_bob")
	}
	if !strings.Contains(cred.Signer.PublicKey().Type(), "cert") {
		t.Errorf("signer type = %q, want a certificate signer", cred.Signer.PublicKey().Type())
	}
	if len(f.osLogin.ImportedKeys) != 0 {
		t.Error("workforce path must not import keys")
	}
}

func TestAuthorizeWorkforceProvisionsProfileOnce(t *testing.T) {
	f := newFixture(t, Identity{Email: "bob@workforce.example", Workforce: true})
	f.compute.InstanceItems[gce.EnableOsLoginFlag] = "true"

	signer := newTestSigner(t)
	f.osLogin.SignedKey = signedCertificate(t, signer, "wf_bob")
	f.osLogin.SignErr = &googleapi.Error{Code: 404}
	f.osLogin.ProvisionOnSign = true

	cred, err := f.auth.Authorize(context.Background(), request(signer))
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if cred.Username != "wf_bob" {
		t.Errorf("Username = %q, want %q", cred.Username, "wf_bob")
	}
	if len(f.osLogin.Provisions) != 1 {
		t.Fatalf("provisioned %d times, want 1", len(f.osLogin.Provisions))
	}
	if f.osLogin.Provisions[0] != "us-central1" {
		t.Errorf("provision region = %q, want %q", f.osLogin.Provisions[0], "us-central1")
	}
}

func TestAuthorizeProjectMetadata(t *testing.T) {
	f := newFixture(t, Identity{Email: "alice@example.com"})

	cred, err := f.auth.Authorize(context.Background(), request(newTestSigner(t)))
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if cred.Method != MethodProjectMetadata {
		t.Errorf("Method = %v, want %v", cred.Method, MethodProjectMetadata)
	}
	if cred.Username != "alice" {
		t.Errorf("Username = %q, want %q", cred.Username, "alice")
	}
	if f.compute.ProjectWrites != 1 || f.compute.InstanceWrites != 0 {
		t.Errorf("writes = %d project / %d instance, want 1 / 0",
			f.compute.ProjectWrites, f.compute.InstanceWrites)
	}
	if len(f.resources.LastPermissions) == 0 {
		t.Error("expected a permission probe before writing project metadata")
	}
}

func TestAuthorizeFallsBackWithoutPermission(t *testing.T) {
	f := newFixture(t, Identity{Email: "alice@example.com"})
	f.resources.Granted = false

	cred, err := f.auth.Authorize(context.Background(), request(newTestSigner(t)))
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if cred.Method != MethodInstanceMetadata {
		t.Errorf("Method = %v, want %v", cred.Method, MethodInstanceMetadata)
	}
	if f.compute.ProjectWrites != 0 || f.compute.InstanceWrites != 1 {
		t.Errorf("writes = %d project / %d instance, want 0 / 1",
			f.compute.ProjectWrites, f.compute.InstanceWrites)
	}
}

func TestAuthorizeFallsBackWhenProjectKeysBlocked(t *testing.T) {
	f := newFixture(t, Identity{Email: "alice@example.com"})
	f.compute.InstanceItems[gce.BlockProjectSSHKeysFlag] = "true"

	cred, err := f.auth.Authorize(context.Background(), request(newTestSigner(t)))
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if cred.Method != MethodInstanceMetadata {
		t.Errorf("Method = %v, want %v", cred.Method, MethodInstanceMetadata)
	}
	if f.compute.InstanceWrites != 1 {
		t.Errorf("instance writes = %d, want 1", f.compute.InstanceWrites)
	}
}

func TestAuthorizeFailsWhenOnlyBlockedProjectAllowed(t *testing.T) {
	f := newFixture(t, Identity{Email: "alice@example.com"})
	f.compute.ProjectItems[gce.BlockProjectSSHKeysFlag] = "true"

	req := request(newTestSigner(t))
	req.AllowedMethods = MethodProjectMetadata
	_, err := f.auth.Authorize(context.Background(), req)
	if !errors.Is(err, ErrNoUsableMethod) {
		t.Fatalf("err = %v, want ErrNoUsableMethod", err)
	}
}

func TestAuthorizeRefusesLegacyKeys(t *testing.T) {
	f := newFixture(t, Identity{Email: "alice@example.com"})
	f.compute.InstanceItems[metakey.LegacyMetadataKey] = "alice:ssh-rsa AAAA alice"

	_, err := f.auth.Authorize(context.Background(), request(newTestSigner(t)))

	var legacy *UnsupportedLegacyKeyError
	if !errors.As(err, &legacy) {
		t.Fatalf("err = %v, want UnsupportedLegacyKeyError", err)
	}
	if f.compute.ProjectWrites+f.compute.InstanceWrites != 0 {
		t.Error("legacy check must fail before any write")
	}
}

func TestAuthorizeIsIdempotent(t *testing.T) {
	f := newFixture(t, Identity{Email: "alice@example.com"})
	signer := newTestSigner(t)

	if _, err := f.auth.Authorize(context.Background(), request(signer)); err != nil {
		t.Fatalf("first Authorize failed: %v", err)
	}
	first, second := f.compute.ProjectWrites, 0

	cred, err := f.auth.Authorize(context.Background(), request(signer))
	if err != nil {
		t.Fatalf("second Authorize failed: %v", err)
	}
	second = f.compute.ProjectWrites

	if first != 1 || second != 1 {
		t.Errorf("writes after first/second call = %d/%d, want 1/1", first, second)
	}
	if cred.Username != "alice" || cred.Method != MethodProjectMetadata {
		t.Errorf("second credential = %q via %v, want alice via project metadata", cred.Username, cred.Method)
	}
}

func TestAuthorizeSupersedesAndPrunes(t *testing.T) {
	f := newFixture(t, Identity{Email: "alice@example.com"})
	f.resources.Granted = false
	signer := newTestSigner(t)

	stale := metakey.NewManagedRecord("alice", "ssh-rsa", "AAAAold", "alice@example.com", testNow.Add(time.Hour))
	expired := metakey.NewManagedRecord("carol", "ssh-ed25519", "AAAAgone", "carol@example.com", testNow.Add(-time.Hour))
	unmanaged := metakey.NewUnmanagedRecord("dave", "ssh-ed25519", "AAAAkeep", "dave")
	f.compute.InstanceItems[metakey.MetadataKey] = metakey.NewSet(stale, expired, unmanaged).String()

	if _, err := f.auth.Authorize(context.Background(), request(signer)); err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if f.compute.InstanceWrites != 1 {
		t.Fatalf("instance writes = %d, want 1", f.compute.InstanceWrites)
	}

	result, err := metakey.ParseSet(f.compute.InstanceItems[metakey.MetadataKey])
	if err != nil {
		t.Fatalf("ParseSet failed: %v", err)
	}
	if result.Len() != 2 {
		t.Fatalf("result has %d records, want 2: %s", result.Len(), result)
	}
	if result.Contains(stale) {
		t.Error("stale key for alice must be superseded")
	}
	if result.Contains(expired) {
		t.Error("expired key must be pruned in the same write")
	}
	if !result.Contains(unmanaged) {
		t.Error("unmanaged records must survive")
	}
	want := base64.StdEncoding.EncodeToString(signer.PublicKey().Marshal())
	found := false
	for _, r := range result.Records() {
		if r.Username == "alice" && r.Key == want && r.Managed != nil {
			found = true
		}
	}
	if !found {
		t.Error("new managed key for alice not present")
	}
}

func TestAuthorizeWrapsRejectedWrites(t *testing.T) {
	for _, code := range []int{403, 400} {
		f := newFixture(t, Identity{Email: "alice@example.com"})
		f.resources.Granted = false
		f.compute.WriteErr = &googleapi.Error{Code: code}

		_, err := f.auth.Authorize(context.Background(), request(newTestSigner(t)))

		var push *KeyPushError
		if !errors.As(err, &push) {
			t.Errorf("code %d: err = %v, want KeyPushError", code, err)
		}
	}
}

func TestCreateUsernameForMetadata(t *testing.T) {
	tests := []struct {
		email     string
		preferred string
		want      string
	}{
		{"alice@example.com", "user", "user"},
		{"j@ex.ample", "", "j"},
		{"1+9@ex.ample", "", "g1_9"},
		{"ABCDEFGHIJKLMNOPQRSTUVWXYZabcxyz0@ex.ample", "", "abcdefghijklmnopqrstuvwxyzabcxyz"},
		{"not-an-email", "", "not-an-email"},
	}
	for _, tt := range tests {
		a := NewAuthorizer(Identity{Email: tt.email}, nil, nil, nil)
		got, err := a.CreateUsernameForMetadata(tt.preferred)
		if err != nil {
			t.Errorf("CreateUsernameForMetadata(%q) failed: %v", tt.preferred, err)
			continue
		}
		if got != tt.want {
			t.Errorf("email %q preferred %q: got %q, want %q", tt.email, tt.preferred, got, tt.want)
		}
	}
}

func TestCreateUsernameForMetadataRejectsInvalidPreferred(t *testing.T) {
	a := NewAuthorizer(Identity{Email: "alice@example.com"}, nil, nil, nil)
	for _, preferred := range []string{" ", "!user", "-user", strings.Repeat("x", 33)} {
		if _, err := a.CreateUsernameForMetadata(preferred); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("preferred %q: err = %v, want ErrInvalidArgument", preferred, err)
		}
	}
}

func TestIsValidUsername(t *testing.T) {
	tests := []struct {
		s    string
		want bool
	}{
		{"some.user", true},
		{"some_user", true},
		{"some-user", true},
		{"1user", true},
		{"user", true},
		{"-someuser", false},
		{"some+user", false},
		{"some@user", false},
		{"", false},
		{strings.Repeat("u", 32), true},
		{strings.Repeat("u", 34), false},
	}
	for _, tt := range tests {
		if got := IsValidUsername(tt.s); got != tt.want {
			t.Errorf("IsValidUsername(%q) = %v, want %v", tt.s, got, tt.want)
		}
	}
}

func TestParseMethods(t *testing.T) {
	tests := []struct {
		names   []string
		want    Method
		wantErr bool
	}{
		{nil, AllMethods, false},
		{[]string{}, AllMethods, false},
		{[]string{"os-login"}, MethodOsLogin, false},
		{[]string{"instance-metadata", "project-metadata"}, MethodInstanceMetadata | MethodProjectMetadata, false},
		{[]string{" OS-Login "}, MethodOsLogin, false},
		{[]string{"oslogin"}, 0, true},
		{[]string{"os-login", "bogus"}, 0, true},
	}
	for _, tt := range tests {
		got, err := ParseMethods(tt.names)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("ParseMethods(%v): err = %v, want ErrInvalidArgument", tt.names, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseMethods(%v) failed: %v", tt.names, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMethods(%v) = %v, want %v", tt.names, got, tt.want)
		}
	}
}
