package config

import (
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
)

const (
	minUpdateIntervalSeconds = 60
	maxUpdateIntervalSeconds = 30 * 24 * 3600
)

var rateLimitRegex = regexp.MustCompile(`^\s*\d+\s*(/|per)\s*(second|minute|hour|day)\s*$`)

var branchRegex = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

var validSignals = map[string]bool{
	"SIGHUP":  true,
	"SIGUSR1": true,
	"SIGUSR2": true,
	"SIGTERM": true,
}

// ValidationResult separates problems that must stop startup from those that
// were corrected or can be tolerated.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

// HasFatals reports whether any fatal problem was found.
func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// Validate checks the config and returns all problems found, fatal or not.
// Out-of-range numbers are clamped in place. Every problem is logged as a warning.
func (c *Config) Validate() []error {
	result := c.ValidateTiered()
	errs := append(append([]error{}, result.Fatals...), result.Warnings...)
	for _, err := range errs {
		slog.Warn("config validation", "error", err)
	}
	return errs
}

// ValidateTiered checks the config. Fatals describe values the server cannot
// run with (port, branch, restart mode); warnings describe values that were
// clamped or ignored.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult

	if c.Port < 1 || c.Port > 65535 {
		r.Fatals = append(r.Fatals, fmt.Errorf("port %d is out of range 1-65535", c.Port))
	}

	if c.RateLimit != "" && !rateLimitRegex.MatchString(c.RateLimit) {
		r.Fatals = append(r.Fatals, fmt.Errorf("rate_limit %q is not of the form \"<n> per <second|minute|hour|day>\"", c.RateLimit))
	}

	if c.GitBranch == "" || !branchRegex.MatchString(c.GitBranch) || strings.HasPrefix(c.GitBranch, "-") {
		r.Fatals = append(r.Fatals, fmt.Errorf("git_branch %q is not a valid branch name", c.GitBranch))
	}
	if c.GitRemote == "" || strings.HasPrefix(c.GitRemote, "-") {
		r.Fatals = append(r.Fatals, fmt.Errorf("git_remote %q is not a valid remote name", c.GitRemote))
	}

	switch strings.ToLower(c.RestartMode) {
	case RestartModeReExec, RestartModeReload:
		c.RestartMode = strings.ToLower(c.RestartMode)
	default:
		r.Fatals = append(r.Fatals, fmt.Errorf("restart_mode %q is not valid (use reexec or reload)", c.RestartMode))
	}

	if c.ReloadSignal != "" && !validSignals[strings.ToUpper(c.ReloadSignal)] {
		r.Fatals = append(r.Fatals, fmt.Errorf("reload_signal %q is not supported", c.ReloadSignal))
	}

	if c.UpdateCheckIntervalSeconds < minUpdateIntervalSeconds {
		r.Warnings = append(r.Warnings, fmt.Errorf("update_check_interval %d is below minimum %d, clamping", c.UpdateCheckIntervalSeconds, minUpdateIntervalSeconds))
		c.UpdateCheckIntervalSeconds = minUpdateIntervalSeconds
	} else if c.UpdateCheckIntervalSeconds > maxUpdateIntervalSeconds {
		r.Warnings = append(r.Warnings, fmt.Errorf("update_check_interval %d exceeds maximum %d, clamping", c.UpdateCheckIntervalSeconds, maxUpdateIntervalSeconds))
		c.UpdateCheckIntervalSeconds = maxUpdateIntervalSeconds
	}

	if c.MaxConnections < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("max_connections %d is below minimum 1, clamping", c.MaxConnections))
		c.MaxConnections = 1
	}

	if c.ShutdownTimeoutSeconds < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("shutdown_timeout %d is below minimum 1, clamping", c.ShutdownTimeoutSeconds))
		c.ShutdownTimeoutSeconds = 1
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	if len(c.Languages) == 0 {
		r.Fatals = append(r.Fatals, fmt.Errorf("languages must not be empty"))
	} else if !slices.Contains(c.Languages, c.DefaultLanguage) {
		r.Warnings = append(r.Warnings, fmt.Errorf("default_language %q is not in languages, using %q", c.DefaultLanguage, c.Languages[0]))
		c.DefaultLanguage = c.Languages[0]
	}

	if len(c.Categories) == 0 {
		r.Fatals = append(r.Fatals, fmt.Errorf("categories must not be empty"))
	} else if !slices.Contains(c.Categories, c.DefaultCategory) {
		r.Warnings = append(r.Warnings, fmt.Errorf("default_category %q is not in categories, using %q", c.DefaultCategory, c.Categories[0]))
		c.DefaultCategory = c.Categories[0]
	}

	for _, name := range append(append([]string{}, c.Languages...), c.Categories...) {
		if strings.ContainsAny(name, `/\_`) || strings.Contains(name, "..") {
			r.Fatals = append(r.Fatals, fmt.Errorf("language/category %q may not contain path separators, '_' or '..'", name))
		}
	}

	return r
}
