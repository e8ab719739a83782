package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultConfigFile       = "appsettings.json"
	DefaultWorkDir          = "temp"
	DefaultLogDir           = "logs"
	DefaultCompressionLevel = 9

	envPrefix = "LBM"
)

// GeneralConfig selects what gets backed up and how long remote copies are kept
type GeneralConfig struct {
	Directories     []string `mapstructure:"Directories"`
	Ignores         []string `mapstructure:"Ignores"`
	DaysAfterDelete int      `mapstructure:"DaysAfterDelete"`
}

// S3Config holds the connection settings for the S3-compatible bucket
type S3Config struct {
	ServiceURL     string `mapstructure:"ServiceUrl"`
	RegionEndpoint string `mapstructure:"RegionEndpoint"`
	AccessKeyID    string `mapstructure:"AccessKeyId"`
	AccessKey      string `mapstructure:"AccessKey"`
	BucketName     string `mapstructure:"BucketName"`
}

// RunConfig controls local output and stage sequencing
type RunConfig struct {
	WorkDir                      string `mapstructure:"WorkDir"`
	LogDir                       string `mapstructure:"LogDir"`
	CompressionLevel             int    `mapstructure:"CompressionLevel"`
	SkipUploadOnArchiveFailure   bool   `mapstructure:"SkipUploadOnArchiveFailure"`
	SkipRetentionOnUploadFailure bool   `mapstructure:"SkipRetentionOnUploadFailure"`
}

type Config struct {
	GeneralConfig GeneralConfig `mapstructure:"GeneralConfig"`
	S3Config      S3Config      `mapstructure:"S3Config"`
	RunConfig     RunConfig     `mapstructure:"RunConfig"`

	// ConfigPath is the file that was read, empty when none was found
	ConfigPath string `mapstructure:"-"`
}

// flagKeys maps command line flags onto config keys
var flagKeys = map[string]string{
	"work-dir":          "RunConfig.WorkDir",
	"log-dir":           "RunConfig.LogDir",
	"compression-level": "RunConfig.CompressionLevel",
}

// Load reads configuration from configPath, environment variables prefixed with LBM_ and the given flags.
// A missing config file is not an error; malformed content is. Values are not validated here,
// missing settings surface where they are used.
func Load(configPath string, flags *pflag.FlagSet) (Config, error) {
	var cfg Config

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key needs a default so AutomaticEnv can override it during Unmarshal
	v.SetDefault("GeneralConfig.Directories", []string{})
	v.SetDefault("GeneralConfig.Ignores", []string{})
	v.SetDefault("GeneralConfig.DaysAfterDelete", 0)
	v.SetDefault("S3Config.ServiceUrl", "")
	v.SetDefault("S3Config.RegionEndpoint", "")
	v.SetDefault("S3Config.AccessKeyId", "")
	v.SetDefault("S3Config.AccessKey", "")
	v.SetDefault("S3Config.BucketName", "")
	v.SetDefault("RunConfig.WorkDir", DefaultWorkDir)
	v.SetDefault("RunConfig.LogDir", DefaultLogDir)
	v.SetDefault("RunConfig.CompressionLevel", DefaultCompressionLevel)
	v.SetDefault("RunConfig.SkipUploadOnArchiveFailure", false)
	v.SetDefault("RunConfig.SkipRetentionOnUploadFailure", false)

	if flags != nil {
		for name, key := range flagKeys {
			if flag := flags.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return cfg, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	if configPath == "" {
		configPath = DefaultConfigFile
	}
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("reading config %s: %w", configPath, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}
	cfg.ConfigPath = v.ConfigFileUsed()
	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		cfg.ConfigPath = ""
	}

	return cfg, nil
}

// Validate checks that every storage setting is present
func (c S3Config) Validate() error {
	var missing []string
	for name, value := range map[string]string{
		"ServiceUrl":     c.ServiceURL,
		"RegionEndpoint": c.RegionEndpoint,
		"AccessKeyId":    c.AccessKeyID,
		"AccessKey":      c.AccessKey,
		"BucketName":     c.BucketName,
	} {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	sort.Strings(missing)
	return fmt.Errorf("S3Config is missing required settings: %s", strings.Join(missing, ", "))
}
