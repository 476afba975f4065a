package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/openmined/syftsync/internal/config"
	"github.com/openmined/syftsync/internal/remote/s3remote"
	"github.com/openmined/syftsync/internal/utils"
	"github.com/openmined/syftsync/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "SYFTSYNC"

var home, _ = os.UserHomeDir()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "syftsync",
		Short:         "SyftSync three-way sync state for a workspace",
		Version:       version.Detailed(),
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				stdoutLevel.Set(slog.LevelDebug)
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.SortFlags = false
	flags.StringP("config", "c", config.DefaultConfigPath, "SyftSync config file")
	flags.StringP("datadir", "d", config.DefaultDataDir, "Workspace directory")
	flags.StringP("remote", "r", "", "Remote mirror directory")
	flags.String("criteria", "", "Comparison criteria id")
	flags.BoolP("verbose", "v", false, "Log debug output to stdout")

	cmd.AddCommand(
		newInitCmd(),
		newStatusCmd(),
		newRefreshCmd(),
		newIgnoreCmd(),
		newCriteriaCmd(),
		newWatchCmd(),
		newVersionCmd(),
	)
	return cmd
}

// resolveConfigPath determines which config file path to use, honoring (in order):
// 1) An explicitly set --config flag
// 2) SYFTSYNC_CONFIG_PATH environment variable
// 3) Existing config files in common locations
// 4) The default path
func resolveConfigPath(cmd *cobra.Command) string {
	if cfgFlag := cmd.Flag("config"); cfgFlag != nil && cfgFlag.Changed {
		return cfgFlag.Value.String()
	}

	if envPath := os.Getenv(envPrefix + "_CONFIG_PATH"); envPath != "" {
		return envPath
	}

	candidates := []string{
		config.DefaultConfigPath,
		filepath.Join(home, ".config", "syftsync", "config.json"),
	}
	for _, candidate := range candidates {
		if utils.FileExists(candidate) {
			return candidate
		}
	}

	return config.DefaultConfigPath
}

// loadConfig merges flags, SYFTSYNC_* env vars and the config file, in that
// order of precedence, and validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()

	path := resolveConfigPath(cmd)
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, ok := err.(viper.ConfigFileNotFoundError)
		if !enoent && !ok {
			return nil, fmt.Errorf("config read '%s': %w", path, err)
		}
	}

	for key, flag := range map[string]string{
		"data_dir":   "datadir",
		"remote.dir": "remote",
		"criteria":   "criteria",
	} {
		if f := cmd.Flags().Lookup(flag); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &config.Config{
		Path:            path,
		DataDir:         v.GetString("data_dir"),
		BaseDir:         v.GetString("base_dir"),
		Criteria:        v.GetString("criteria"),
		RefreshInterval: v.GetString("refresh_interval"),
		LogFile:         v.GetString("log_file"),
		Remote: config.RemoteConfig{
			Kind: v.GetString("remote.kind"),
			Dir:  v.GetString("remote.dir"),
		},
	}
	if cfg.Remote.Kind == config.RemoteS3 {
		cfg.Remote.S3 = &s3remote.Config{
			Bucket:    v.GetString("remote.s3.bucket"),
			Prefix:    v.GetString("remote.s3.prefix"),
			Region:    v.GetString("remote.s3.region"),
			Endpoint:  v.GetString("remote.s3.endpoint"),
			AccessKey: v.GetString("remote.s3.access_key"),
			SecretKey: v.GetString("remote.s3.secret_key"),
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
