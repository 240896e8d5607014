// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	cfg "github.com/toeirei/cloudkey/internal/config"
)

func TestLoadConfigAppliesDefaults(t *testing.T) {
	tmp := t.TempDir()
	os.Setenv("XDG_CONFIG_HOME", tmp)
	defer os.Unsetenv("XDG_CONFIG_HOME")

	c, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), nil)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if c.DBType != "sqlite" {
		t.Errorf("DBType = %q, want sqlite default", c.DBType)
	}
	if c.KeyValidityMinutes != 30 {
		t.Errorf("KeyValidityMinutes = %d, want 30 default", c.KeyValidityMinutes)
	}
}

func TestLoadConfigReadsFile(t *testing.T) {
	tmp := t.TempDir()
	os.Setenv("XDG_CONFIG_HOME", tmp)
	defer os.Unsetenv("XDG_CONFIG_HOME")

	cfgDir := filepath.Join(tmp, "cloudkey")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	content := "project: project-1\nzone: europe-west1-b\ndebug: true\n"
	if err := os.WriteFile(filepath.Join(cfgDir, "cloudkey.yaml"), []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	c, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), nil)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if c.Project != "project-1" {
		t.Errorf("Project = %q, want project-1", c.Project)
	}
	if c.Zone != "europe-west1-b" {
		t.Errorf("Zone = %q, want europe-west1-b", c.Zone)
	}
	if !c.Debug {
		t.Error("Debug should be true from the config file")
	}
}

func TestLoadConfigExplicitFileWins(t *testing.T) {
	tmp := t.TempDir()
	os.Setenv("XDG_CONFIG_HOME", tmp)
	defer os.Unsetenv("XDG_CONFIG_HOME")

	path := filepath.Join(tmp, "custom.yaml")
	if err := os.WriteFile(path, []byte("project: custom-project\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	c, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), &path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if c.Project != "custom-project" {
		t.Errorf("Project = %q, want custom-project", c.Project)
	}
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	tmp := t.TempDir()
	os.Setenv("XDG_CONFIG_HOME", tmp)
	os.Setenv("CLOUDKEY_PROJECT", "env-project")
	defer os.Unsetenv("XDG_CONFIG_HOME")
	defer os.Unsetenv("CLOUDKEY_PROJECT")

	cfgDir := filepath.Join(tmp, "cloudkey")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, "cloudkey.yaml"), []byte("project: file-project\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	c, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), nil)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if c.Project != "env-project" {
		t.Errorf("Project = %q, want the environment to win", c.Project)
	}
}

func TestWriteConfigFileCreatesFile(t *testing.T) {
	tmp := t.TempDir()
	os.Setenv("XDG_CONFIG_HOME", tmp)
	defer os.Unsetenv("XDG_CONFIG_HOME")

	c := cfg.Config{Project: "project-1", DBType: "sqlite"}
	if err := cfg.WriteConfigFile(&c, false); err != nil {
		t.Fatalf("WriteConfigFile failed: %v", err)
	}
	path := filepath.Join(tmp, "cloudkey", "cloudkey.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if len(data) == 0 {
		t.Error("config file is empty")
	}
}
