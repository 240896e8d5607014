// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

// package config loads the application configuration from files,
// environment variables and command-line flags, in ascending order of
// precedence.
package config // import "github.com/toeirei/cloudkey/internal/config"

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the application configuration.
type Config struct {
	// Project and Zone select the default target scope.
	Project string `mapstructure:"project" yaml:"project"`
	Zone    string `mapstructure:"zone" yaml:"zone"`

	// Email identifies the principal on whose behalf keys are
	// authorized. It is recorded in managed key records and used to
	// derive usernames.
	Email string `mapstructure:"email" yaml:"email"`

	// Workforce marks a workforce-pool identity, which uses the
	// certificate-based OS-Login flow.
	Workforce bool `mapstructure:"workforce" yaml:"workforce"`

	// Username overrides the derived POSIX username for metadata keys.
	Username string `mapstructure:"username" yaml:"username"`

	// KeyFile points at a private key to authorize. Empty selects a key
	// from the SSH agent, or an ephemeral key when no agent is running.
	KeyFile string `mapstructure:"key_file" yaml:"key_file"`

	// KeyValidityMinutes bounds the lifetime of published managed keys.
	KeyValidityMinutes int `mapstructure:"key_validity_minutes" yaml:"key_validity_minutes"`

	// AuthMethods restricts the usable authorization methods. Valid
	// entries: os-login, project-metadata, instance-metadata. Empty
	// means all.
	AuthMethods []string `mapstructure:"auth_methods" yaml:"auth_methods"`

	// DBType and DBDSN configure the known-hosts store.
	DBType string `mapstructure:"db_type" yaml:"db_type"`
	DBDSN  string `mapstructure:"db_dsn" yaml:"db_dsn"`

	// Language selects the UI language (e.g. "en", "de").
	Language string `mapstructure:"language" yaml:"language"`

	// Debug enables debug logging.
	Debug bool `mapstructure:"debug" yaml:"debug"`
}

// Defaults returns the default configuration values keyed the way the
// config file spells them.
func Defaults() map[string]any {
	return map[string]any{
		"key_validity_minutes": 30,
		"db_type":              "sqlite",
		"db_dsn":               defaultDBPath(),
		"language":             "",
		"debug":                false,
	}
}

func defaultDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "cloudkey.db"
	}
	return filepath.Join(dir, "cloudkey", "cloudkey.db")
}

// getConfigPath returns the full path for the configuration file.
func getConfigPath(system bool) (string, error) {
	var configDir string
	var err error

	if system {
		// System-wide configuration paths
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "Cloudkey")
		default: // Linux, macOS, etc.
			configDir = "/etc/cloudkey"
		}
	} else {
		// User-specific configuration paths
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "cloudkey")
	}

	return filepath.Join(configDir, "cloudkey.yaml"), nil
}

// LoadConfig resolves the configuration for a command: defaults, then
// config files, then CLOUDKEY_* environment variables, then flags.
func LoadConfig[T any](cmd *cobra.Command, defaults map[string]any, configFilePath *string) (T, error) {
	var c T
	v := viper.New()

	// 1. Set defaults
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// 2. Set up file search paths
	v.SetConfigName("cloudkey")
	v.SetConfigType("yaml")

	// 3. Add explicit config file path if provided via --config flag.
	// This has the highest precedence for file-based configuration.
	if configFilePath != nil {
		v.SetConfigFile(*configFilePath)
	}

	// 4. Add standard config locations
	if userConfigPath, err := getConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userConfigPath))
	}
	if systemConfigPath, err := getConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemConfigPath))
	}
	v.AddConfigPath(".") // Look for cloudkey.yaml in current dir

	// 5. Read in the primary config file.
	if err := v.ReadInConfig(); err != nil {
		// It's okay if the file is not found, but other errors are fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return c, err
		}
	}

	// 6. Read from environment variables
	v.AutomaticEnv()
	v.AllowEmptyEnv(true)
	v.SetEnvPrefix("cloudkey")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 7. Command-line flags win over everything else. Flags spell keys
	// with dashes, the config file with underscores.
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
			bindErr = err
		}
	})
	if bindErr != nil {
		return c, bindErr
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}

	return c, nil
}

// WriteConfigFile persists a configuration to the user or system
// location.
func WriteConfigFile[T any](c *T, system bool) error {
	path, err := getConfigPath(system)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	// Create directory if it doesn't exist
	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", configDir, err)
	}

	err = os.WriteFile(path, data, 0600) // Use 0600 for security, as it may contain secrets
	if err != nil {
		return err
	}

	return nil
}
