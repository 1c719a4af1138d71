package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"portalwatch-backend/internal/portal"
	"portalwatch-backend/internal/portal/doctorid"
	"portalwatch-backend/internal/portal/rhid"
	"portalwatch-backend/internal/sheets"
	"portalwatch-backend/lib/configutil"
	configlibsql "portalwatch-backend/lib/configutil/libsql"

	"dario.cat/mergo"
)

type BrowserConfig struct {
	// Headful shows the browser window, for debugging locators locally.
	Headful  bool   `json:"headful"`
	ExecPath string `json:"exec_path"`
	// ActionTimeoutSeconds bounds every browser action.
	ActionTimeoutSeconds int `json:"action_timeout_seconds"`
	// LaunchesPerMinute limits how often browsers start, 0 is unlimited.
	LaunchesPerMinute float64 `json:"launches_per_minute"`
}

type ChecksConfig struct {
	BudgetSeconds int `json:"budget_seconds"`
	// Schedule is a cron spec for the periodic batch check, empty disables it.
	Schedule      string `json:"schedule"`
	RetentionDays int    `json:"retention_days"`
}

type SessionsConfig struct {
	TTLMinutes int `json:"ttl_minutes"`
	Size       int `json:"size"`
}

type Config struct {
	Port        int                 `json:"port"`
	DownloadDir string              `json:"download_dir"`
	Browser     BrowserConfig       `json:"browser"`
	Checks      ChecksConfig        `json:"checks"`
	Sessions    SessionsConfig      `json:"sessions"`
	Database    configlibsql.Struct `json:"database"`
	RHID        rhid.Config         `json:"rhid"`
	DoctorID    doctorid.Config     `json:"doctorid"`
	// Sheets maps a portal key to the spreadsheet holding its finances.
	Sheets map[string]sheets.Config `json:"sheets"`
}

func defaultConfig() Config {
	return Config{
		Port:        3000,
		DownloadDir: "downloads",
		Browser: BrowserConfig{
			ActionTimeoutSeconds: 60,
		},
		Checks: ChecksConfig{
			BudgetSeconds: 180,
			RetentionDays: 30,
		},
		Sessions: SessionsConfig{
			TTLMinutes: 60,
			Size:       1024,
		},
		Database: configlibsql.Struct{File: "data/portalwatch.db"},
		RHID:     rhid.DefaultConfig(),
		DoctorID: doctorid.DefaultConfig(),
		Sheets: map[string]sheets.Config{
			"viva-saude": sheets.DefaultConfig(),
		},
	}
}

// loadConfig merges the config file and its local override over the
// defaults, a missing file leaves the defaults in place.
func loadConfig(path string, production bool) (Config, error) {
	out := defaultConfig()

	file, err := configutil.ReadConfig[Config](path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Info("no config file found, using defaults", "path", path)
	} else if err != nil {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	} else {
		// sheet entries only list what they change
		for key, sheet := range file.Sheets {
			base, ok := out.Sheets[key]
			if !ok {
				base = sheets.DefaultConfig()
			}
			err = mergo.Merge(&base, sheet, mergo.WithOverride)
			if err != nil {
				return Config{}, err
			}
			file.Sheets[key] = base
		}
		err = mergo.Merge(&out, file, mergo.WithOverride)
		if err != nil {
			return Config{}, fmt.Errorf("merge %s: %w", path, err)
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return Config{}, fmt.Errorf("PORT is not a number: %q", port)
		}
		out.Port = n
	}
	if dir := os.Getenv("DOWNLOAD_DIR"); dir != "" {
		out.DownloadDir = dir
	}
	if production {
		out.Browser.Headful = false
	}
	return out, nil
}

func (c Config) budget() time.Duration {
	return time.Duration(c.Checks.BudgetSeconds) * time.Second
}

// isProduction is true on hosted deployments where missing configuration
// is tolerated and errors carry no details.
func isProduction() bool {
	if os.Getenv("NODE_ENV") == "production" {
		return true
	}
	_, render := os.LookupEnv("RENDER")
	return render
}

// portals lists every checkable portal by key.
var portals = []struct {
	Key    string
	Family portal.Family
}{
	{Key: "coop-vitta", Family: portal.FamilyRHID},
	{Key: "delta", Family: portal.FamilyRHID},
	{Key: "viva-saude", Family: portal.FamilyDoctorID},
}

// loadCredentials reads the credential of every portal from the environment,
// incomplete credentials are fatal unless production is set.
func loadCredentials(production bool) (map[string]portal.Credential, error) {
	out := make(map[string]portal.Credential, len(portals))
	var missing []error
	for _, p := range portals {
		prefix := portal.EnvPrefix(p.Key)
		cred := portal.Credential{
			Key:      p.Key,
			Family:   p.Family,
			Username: os.Getenv(prefix + "_USERNAME"),
			Password: os.Getenv(prefix + "_PASSWORD"),
		}
		if !cred.Complete() {
			missing = append(missing, fmt.Errorf("%s: set %s_USERNAME and %s_PASSWORD", p.Key, prefix, prefix))
			continue
		}
		out[p.Key] = cred
	}

	if len(missing) == 0 {
		return out, nil
	}
	err := fmt.Errorf("missing credentials: %w", errors.Join(missing...))
	if production {
		slog.Warn("some portals cannot be checked", "err", err)
		return out, nil
	}
	return out, err
}
