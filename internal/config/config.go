package config

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	RestartModeReExec = "reexec"
	RestartModeReload = "reload"
)

type Config struct {
	Host                   string   `mapstructure:"host"`
	Port                   int      `mapstructure:"port"`
	MaxConnections         int      `mapstructure:"max_connections"`
	CORSOrigins            []string `mapstructure:"cors_origins"`
	RateLimit              string   `mapstructure:"rate_limit"`
	ShutdownTimeoutSeconds int      `mapstructure:"shutdown_timeout"`

	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`

	JokesDir        string   `mapstructure:"jokes_dir"`
	Languages       []string `mapstructure:"languages"`
	Categories      []string `mapstructure:"categories"`
	DefaultLanguage string   `mapstructure:"default_language"`
	DefaultCategory string   `mapstructure:"default_category"`

	AutoUpdateEnabled          bool     `mapstructure:"auto_update_enabled"`
	UpdateCheckIntervalSeconds int      `mapstructure:"update_check_interval"`
	GitBranch                  string   `mapstructure:"git_branch"`
	GitRemote                  string   `mapstructure:"git_remote"`
	RepoDir                    string   `mapstructure:"repo_dir"`
	RestartMode                string   `mapstructure:"restart_mode"`
	ReloadCommand              string   `mapstructure:"reload_command"`
	ReloadSignal               string   `mapstructure:"reload_signal"`
	ReconcileCommands          []string `mapstructure:"reconcile_commands"`
}

func Default() *Config {
	return &Config{
		Host:                   "0.0.0.0",
		Port:                   8000,
		MaxConnections:         1024,
		CORSOrigins:            []string{"*"},
		RateLimit:              "100 per minute",
		ShutdownTimeoutSeconds: 15,

		LogLevel:      "info",
		LogFormat:     "text",
		LogMaxSizeMB:  10,
		LogMaxBackups: 10,

		JokesDir:        "jokes",
		Languages:       []string{"cz", "sk", "en-gb", "en-us"},
		Categories:      []string{"normal", "explicit"},
		DefaultLanguage: "cz",
		DefaultCategory: "normal",

		AutoUpdateEnabled:          true,
		UpdateCheckIntervalSeconds: 48 * 3600,
		GitBranch:                  "main",
		GitRemote:                  "origin",
		RepoDir:                    ".",
		RestartMode:                RestartModeReExec,
		ReloadSignal:               "SIGHUP",
		ReconcileCommands: []string{
			"go mod download",
			"go build -o {executable} ./cmd/joker",
		},
	}
}

// Load reads configuration from, in increasing priority: built-in defaults,
// the YAML config file, a .env file in the working directory, and the
// process environment (JOKER_<KEY> or the bare upper-case key).
func Load(cfgFile string) (*Config, error) {
	cfg := Default()
	v := viper.New()
	setDefaults(v, cfg)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("joker")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	if err := mergeDotEnv(v, ".env"); err != nil {
		return nil, err
	}

	for _, key := range v.AllKeys() {
		upper := strings.ToUpper(key)
		if err := v.BindEnv(key, "JOKER_"+upper, upper); err != nil {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// mergeDotEnv merges KEY=value pairs from a dotenv file, if present. Keys are
// matched case-insensitively against the config keys; unknown keys are ignored.
func mergeDotEnv(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	env := viper.New()
	env.SetConfigFile(path)
	env.SetConfigType("env")
	if err := env.ReadInConfig(); err != nil {
		return err
	}

	known := make(map[string]bool)
	for _, key := range v.AllKeys() {
		known[key] = true
	}
	for _, key := range env.AllKeys() {
		if !known[key] {
			continue
		}
		// Real environment variables win over the file, as with load_dotenv.
		upper := strings.ToUpper(key)
		if _, ok := os.LookupEnv("JOKER_" + upper); ok {
			continue
		}
		if _, ok := os.LookupEnv(upper); ok {
			continue
		}
		v.Set(key, env.Get(key))
	}
	return nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("host", cfg.Host)
	v.SetDefault("port", cfg.Port)
	v.SetDefault("max_connections", cfg.MaxConnections)
	v.SetDefault("cors_origins", cfg.CORSOrigins)
	v.SetDefault("rate_limit", cfg.RateLimit)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeoutSeconds)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("log_max_size_mb", cfg.LogMaxSizeMB)
	v.SetDefault("log_max_backups", cfg.LogMaxBackups)
	v.SetDefault("jokes_dir", cfg.JokesDir)
	v.SetDefault("languages", cfg.Languages)
	v.SetDefault("categories", cfg.Categories)
	v.SetDefault("default_language", cfg.DefaultLanguage)
	v.SetDefault("default_category", cfg.DefaultCategory)
	v.SetDefault("auto_update_enabled", cfg.AutoUpdateEnabled)
	v.SetDefault("update_check_interval", cfg.UpdateCheckIntervalSeconds)
	v.SetDefault("git_branch", cfg.GitBranch)
	v.SetDefault("git_remote", cfg.GitRemote)
	v.SetDefault("repo_dir", cfg.RepoDir)
	v.SetDefault("restart_mode", cfg.RestartMode)
	v.SetDefault("reload_command", cfg.ReloadCommand)
	v.SetDefault("reload_signal", cfg.ReloadSignal)
	v.SetDefault("reconcile_commands", cfg.ReconcileCommands)
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// CheckInterval is the updater poll period.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.UpdateCheckIntervalSeconds) * time.Second
}

// ShutdownTimeout bounds graceful HTTP shutdown.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Joker")
	case "darwin":
		return "/Library/Application Support/Joker"
	default:
		return "/etc/joker"
	}
}
