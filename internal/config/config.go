package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/openmined/syftsync/internal/remote/s3remote"
	"github.com/openmined/syftsync/internal/utils"
)

const (
	RemoteDir = "dir"
	RemoteS3  = "s3"

	DefaultCriteria        = "content"
	DefaultRefreshInterval = "30s"
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigPath = filepath.Join(home, ".syftsync", "config.json")
	DefaultDataDir    = filepath.Join(home, "SyftSync")
)

var ErrInvalidConfig = errors.New("invalid config")

type RemoteConfig struct {
	Kind string           `json:"kind"`
	Dir  string           `json:"dir,omitempty"`
	S3   *s3remote.Config `json:"s3,omitempty"`
}

type Config struct {
	DataDir         string       `json:"data_dir"`
	BaseDir         string       `json:"base_dir"`
	Remote          RemoteConfig `json:"remote"`
	Criteria        string       `json:"criteria"`
	RefreshInterval string       `json:"refresh_interval"`
	LogFile         string       `json:"log_file,omitempty"`
	Path            string       `json:"-"`
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate resolves paths and fills defaults.
func (c *Config) Validate() error {
	var err error

	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.DataDir, err = utils.ResolvePath(c.DataDir); err != nil {
		return invalid("data dir: %v", err)
	}

	if c.BaseDir == "" {
		c.BaseDir = filepath.Join(c.DataDir, ".data", "base")
	}
	if c.BaseDir, err = utils.ResolvePath(c.BaseDir); err != nil {
		return invalid("base dir: %v", err)
	}

	switch c.Remote.Kind {
	case "", RemoteDir:
		c.Remote.Kind = RemoteDir
		if c.Remote.Dir == "" {
			return invalid("remote dir is required")
		}
		if c.Remote.Dir, err = utils.ResolvePath(c.Remote.Dir); err != nil {
			return invalid("remote dir: %v", err)
		}
		if c.Remote.Dir == c.DataDir {
			return invalid("remote dir must differ from data dir")
		}
	case RemoteS3:
		if c.Remote.S3 == nil {
			return invalid("s3 remote needs an s3 block")
		}
		if err := c.Remote.S3.Validate(); err != nil {
			return invalid("%v", err)
		}
	default:
		return invalid("unknown remote kind %q", c.Remote.Kind)
	}

	if c.Criteria == "" {
		c.Criteria = DefaultCriteria
	}

	if c.RefreshInterval == "" {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if d, err := time.ParseDuration(c.RefreshInterval); err != nil || d <= 0 {
		return invalid("refresh interval %q", c.RefreshInterval)
	}

	if c.LogFile == "" {
		c.LogFile = filepath.Join(c.DataDir, ".data", "logs", "syftsync.log")
	}

	if c.Path == "" {
		c.Path = DefaultConfigPath
	}
	if c.Path, err = utils.ResolvePath(c.Path); err != nil {
		return invalid("config path: %v", err)
	}

	return nil
}

// Interval is the parsed refresh interval. Call Validate first.
func (c *Config) Interval() time.Duration {
	d, err := time.ParseDuration(c.RefreshInterval)
	if err != nil {
		return 0
	}
	return d
}

func (c *Config) Save() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(c.Path, data, 0o600)
}

func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.Path = path
	return &cfg, nil
}
