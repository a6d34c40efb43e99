// Package config loads tasksync settings from a YAML file and TASKSYNC_*
// environment variables, and rewrites the credentials section on request.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentworkforce/tasksync/internal/remote"
	"github.com/spf13/viper"
)

const (
	EnvPrefix      = "TASKSYNC"
	ConfigFileName = "config.yaml"
)

type Config struct {
	DataDir           string         `mapstructure:"data_dir" yaml:"data_dir,omitempty"`
	Storage           string         `mapstructure:"storage" yaml:"storage,omitempty"`
	BackupBeforeWrite bool           `mapstructure:"backup_before_write" yaml:"backup_before_write"`
	Poll              PollConfig     `mapstructure:"poll" yaml:"poll"`
	Timeouts          TimeoutConfig  `mapstructure:"timeouts" yaml:"timeouts"`
	Conflict          ConflictConfig `mapstructure:"conflict" yaml:"conflict"`
	Log               LogConfig      `mapstructure:"log" yaml:"log"`
	Credentials       Credentials    `mapstructure:"credentials" yaml:"credentials,omitempty"`

	// Path is the file the config was loaded from, if any.
	Path string `mapstructure:"-" yaml:"-"`
}

type PollConfig struct {
	Interval             time.Duration `mapstructure:"interval" yaml:"interval"`
	Jitter               float64       `mapstructure:"jitter" yaml:"jitter"`
	VisibilityDebounce   time.Duration `mapstructure:"visibility_debounce" yaml:"visibility_debounce"`
	ConnectivityInterval time.Duration `mapstructure:"connectivity_interval" yaml:"connectivity_interval"`
}

type TimeoutConfig struct {
	Request    time.Duration `mapstructure:"request" yaml:"request"`
	PublicFile time.Duration `mapstructure:"public_file" yaml:"public_file"`
}

type ConflictConfig struct {
	Policy string `mapstructure:"policy" yaml:"policy"`
}

type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file,omitempty"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// Credentials holds one optional block per backend. A nil block means the
// backend is not configured.
type Credentials struct {
	LocalServer       *LocalServerCredentials       `mapstructure:"local_server" yaml:"local_server,omitempty"`
	Dropbox           *DropboxCredentials           `mapstructure:"dropbox" yaml:"dropbox,omitempty"`
	GoogleDrive       *GoogleDriveCredentials       `mapstructure:"google_drive" yaml:"google_drive,omitempty"`
	GoogleDrivePublic *GoogleDrivePublicCredentials `mapstructure:"google_drive_public" yaml:"google_drive_public,omitempty"`
	GitHub            *GitHubCredentials            `mapstructure:"github" yaml:"github,omitempty"`
}

type LocalServerCredentials struct {
	URL string `mapstructure:"url" yaml:"url"`
}

type DropboxCredentials struct {
	AccessToken string `mapstructure:"access_token" yaml:"access_token"`
	Path        string `mapstructure:"path" yaml:"path,omitempty"`
}

type GoogleDriveCredentials struct {
	AccessToken  string `mapstructure:"access_token" yaml:"access_token,omitempty"`
	RefreshToken string `mapstructure:"refresh_token" yaml:"refresh_token,omitempty"`
	ClientID     string `mapstructure:"client_id" yaml:"client_id,omitempty"`
	ClientSecret string `mapstructure:"client_secret" yaml:"client_secret,omitempty"`
	FileName     string `mapstructure:"file_name" yaml:"file_name,omitempty"`
	FolderID     string `mapstructure:"folder_id" yaml:"folder_id,omitempty"`
}

type GoogleDrivePublicCredentials struct {
	FileID string `mapstructure:"file_id" yaml:"file_id"`
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
}

type GitHubCredentials struct {
	Token  string `mapstructure:"token" yaml:"token"`
	Owner  string `mapstructure:"owner" yaml:"owner"`
	Repo   string `mapstructure:"repo" yaml:"repo"`
	Path   string `mapstructure:"path" yaml:"path,omitempty"`
	Branch string `mapstructure:"branch" yaml:"branch,omitempty"`
}

// credentialEnv maps credential keys to the environment variables that may
// supply them. Credentials have no defaults, so AutomaticEnv alone would
// never see them.
var credentialEnv = map[string]string{
	"credentials.local_server.url":            "TASKSYNC_LOCAL_SERVER_URL",
	"credentials.dropbox.access_token":        "TASKSYNC_DROPBOX_TOKEN",
	"credentials.google_drive.access_token":   "TASKSYNC_GDRIVE_TOKEN",
	"credentials.google_drive.refresh_token":  "TASKSYNC_GDRIVE_REFRESH_TOKEN",
	"credentials.google_drive.client_id":      "TASKSYNC_GDRIVE_CLIENT_ID",
	"credentials.google_drive.client_secret":  "TASKSYNC_GDRIVE_CLIENT_SECRET",
	"credentials.google_drive_public.file_id": "TASKSYNC_GDRIVE_PUBLIC_FILE_ID",
	"credentials.google_drive_public.api_key": "TASKSYNC_GDRIVE_PUBLIC_API_KEY",
	"credentials.github.token":                "TASKSYNC_GITHUB_TOKEN",
	"credentials.github.owner":                "TASKSYNC_GITHUB_OWNER",
	"credentials.github.repo":                 "TASKSYNC_GITHUB_REPO",
	"credentials.github.branch":               "TASKSYNC_GITHUB_BRANCH",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backup_before_write", true)
	v.SetDefault("poll.interval", 5*time.Second)
	v.SetDefault("poll.jitter", 0.0)
	v.SetDefault("poll.visibility_debounce", 3*time.Second)
	v.SetDefault("poll.connectivity_interval", 15*time.Second)
	v.SetDefault("timeouts.request", remote.DefaultTimeout)
	v.SetDefault("timeouts.public_file", remote.DefaultPublicTimeout)
	v.SetDefault("conflict.policy", "refetch")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("data_dir", "")
	v.SetDefault("storage", "")
	v.SetDefault("log.file", "")
}

// DefaultPath is $TASKSYNC_CONFIG or ~/.tasksync/config.yaml.
func DefaultPath() string {
	if path := strings.TrimSpace(os.Getenv(EnvPrefix + "_CONFIG")); path != "" {
		return path
	}
	return filepath.Join(defaultDataDir(), ConfigFileName)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tasksync"
	}
	return filepath.Join(home, ".tasksync")
}

// Load reads path if it exists and layers environment overrides on top of
// it. A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range credentialEnv {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}

	path = strings.TrimSpace(path)
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Path = path
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = defaultDataDir()
	}
	if strings.TrimSpace(c.Storage) == "" {
		c.Storage = "file://" + filepath.Join(c.DataDir, "state")
	}
	if strings.TrimSpace(c.Log.File) == "" {
		c.Log.File = filepath.Join(c.DataDir, "tasksync.log")
	}
	switch strings.ToLower(strings.TrimSpace(c.Conflict.Policy)) {
	case "", "refetch":
		c.Conflict.Policy = "refetch"
	case "force":
		c.Conflict.Policy = "force"
	default:
		return fmt.Errorf("invalid conflict policy %q: want refetch or force", c.Conflict.Policy)
	}
	if c.Poll.Jitter < 0 || c.Poll.Jitter > 1 {
		return fmt.Errorf("invalid poll jitter %v: want a ratio between 0 and 1", c.Poll.Jitter)
	}
	return nil
}

// RemoteOptions converts the credentials into adapter configuration.
func (c *Config) RemoteOptions() remote.Options {
	var opts remote.Options
	creds := c.Credentials
	if creds.LocalServer != nil {
		opts.LocalServer = &remote.LocalServerConfig{BaseURL: creds.LocalServer.URL, Timeout: c.Timeouts.Request}
	}
	if creds.Dropbox != nil {
		opts.Dropbox = &remote.DropboxConfig{AccessToken: creds.Dropbox.AccessToken, Path: creds.Dropbox.Path, Timeout: c.Timeouts.Request}
	}
	if creds.GoogleDrive != nil {
		opts.GoogleDrive = &remote.GoogleDriveConfig{
			AccessToken:  creds.GoogleDrive.AccessToken,
			RefreshToken: creds.GoogleDrive.RefreshToken,
			ClientID:     creds.GoogleDrive.ClientID,
			ClientSecret: creds.GoogleDrive.ClientSecret,
			FileName:     creds.GoogleDrive.FileName,
			FolderID:     creds.GoogleDrive.FolderID,
			Timeout:      c.Timeouts.Request,
		}
	}
	if creds.GoogleDrivePublic != nil {
		opts.GoogleDrivePublic = &remote.GoogleDrivePublicConfig{
			FileID:  creds.GoogleDrivePublic.FileID,
			APIKey:  creds.GoogleDrivePublic.APIKey,
			Timeout: c.Timeouts.PublicFile,
		}
	}
	if creds.GitHub != nil {
		opts.GitHub = &remote.GitHubConfig{
			Token:   creds.GitHub.Token,
			Owner:   creds.GitHub.Owner,
			Repo:    creds.GitHub.Repo,
			Path:    creds.GitHub.Path,
			Branch:  creds.GitHub.Branch,
			Timeout: c.Timeouts.Request,
		}
	}
	return opts
}

// ConfiguredModes lists the backends that have a credentials block, in
// probe order.
func (c *Config) ConfiguredModes() []remote.Mode {
	var modes []remote.Mode
	opts := c.RemoteOptions()
	for _, mode := range remote.Modes {
		switch mode {
		case remote.ModeLocalServer:
			if opts.LocalServer != nil {
				modes = append(modes, mode)
			}
		case remote.ModeDropbox:
			if opts.Dropbox != nil {
				modes = append(modes, mode)
			}
		case remote.ModeGoogleDrivePublic:
			if opts.GoogleDrivePublic != nil {
				modes = append(modes, mode)
			}
		case remote.ModeGoogleDrive:
			if opts.GoogleDrive != nil {
				modes = append(modes, mode)
			}
		case remote.ModeGitHub:
			if opts.GitHub != nil {
				modes = append(modes, mode)
			}
		}
	}
	return modes
}
