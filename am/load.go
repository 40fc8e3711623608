package am

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/teranos/cadence/errors"
)

// EnvPrefix prefixes every environment override, e.g. CADENCE_DATABASE_PATH.
const EnvPrefix = "CADENCE"

var (
	loadMu       sync.Mutex
	globalConfig *Config
	globalFiles  []string
)

// Load reads the configuration from defaults, config files and the environment.
// The result is cached until Reset.
func Load() (*Config, error) {
	loadMu.Lock()
	defer loadMu.Unlock()
	if globalConfig != nil {
		return globalConfig, nil
	}

	v, files := newViper(DefaultConfigPaths())
	cfg, err := LoadWithViper(v)
	if err != nil {
		return nil, err
	}
	globalConfig = cfg
	globalFiles = files
	return globalConfig, nil
}

// Reset clears the cached configuration so the next Load reads again
func Reset() {
	loadMu.Lock()
	defer loadMu.Unlock()
	globalConfig = nil
	globalFiles = nil
}

// ConfigFilesUsed lists the files merged by the last Load, lowest precedence first.
func ConfigFilesUsed() []string {
	loadMu.Lock()
	defer loadMu.Unlock()
	return append([]string(nil), globalFiles...)
}

// LoadWithViper loads and validates configuration from a prepared Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadFromFile loads configuration from defaults, the environment and one file
func LoadFromFile(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}
	v, _ := newViper([]string{configPath})
	return LoadWithViper(v)
}

// DefaultConfigPaths returns the config file locations, lowest precedence first:
// system, user, then the working directory.
func DefaultConfigPaths() []string {
	paths := []string{filepath.Join(DefaultSystemDir, DefaultConfigName)}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, DefaultUserDirName, DefaultConfigName))
	}
	return append(paths, DefaultConfigName)
}

// newViper layers defaults, the given TOML files and CADENCE_ environment
// variables. It returns the files that were found and merged.
func newViper(configPaths []string) (*viper.Viper, []string) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	var merged []string
	for _, configPath := range configPaths {
		if _, err := os.Stat(configPath); err != nil {
			continue
		}
		fileViper := viper.New()
		fileViper.SetConfigFile(configPath)
		fileViper.SetConfigType("toml")
		if err := fileViper.ReadInConfig(); err != nil {
			continue
		}
		// Nested tables merge key by key, so a later file can override one setting
		if err := v.MergeConfigMap(fileViper.AllSettings()); err == nil {
			merged = append(merged, configPath)
		}
	}
	return v, merged
}
