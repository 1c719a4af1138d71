package cmd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"portalwatch-backend/internal/checker"
	"portalwatch-backend/internal/portal"
	"portalwatch-backend/internal/reconcile"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{"PORT", "DOWNLOAD_DIR", "NODE_ENV"} {
		t.Setenv(key, "")
	}
	for _, p := range portals {
		prefix := portal.EnvPrefix(p.Key)
		t.Setenv(prefix+"_USERNAME", "")
		t.Setenv(prefix+"_PASSWORD", "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	config, err := loadConfig(filepath.Join(t.TempDir(), "config.json5"), false)
	require.NoError(t, err)
	require.Equal(t, defaultConfig().Port, config.Port)
	require.Equal(t, 3*time.Minute, config.budget())
	require.Contains(t, config.Sheets, "viva-saude")
}

func TestLoadConfigOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	require.NoError(t, os.WriteFile(path, []byte(`{
		// comments are allowed
		port: 8080,
		checks: { schedule: "@every 1h" },
		browser: { headful: true },
		sheets: { "viva-saude": { gids: ["5"] } },
	}`), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.local.json5"), []byte(`{
		download_dir: "/tmp/exports",
	}`), 0600))

	config, err := loadConfig(path, false)
	require.NoError(t, err)
	require.Equal(t, 8080, config.Port)
	require.Equal(t, "/tmp/exports", config.DownloadDir)
	require.Equal(t, "@every 1h", config.Checks.Schedule)
	require.True(t, config.Browser.Headful)

	sheet := config.Sheets["viva-saude"]
	require.Equal(t, []string{"5"}, sheet.Gids)
	require.NotEmpty(t, sheet.SpreadsheetID)
	require.NotEmpty(t, sheet.BaseURL)

	t.Setenv("PORT", "9090")
	config, err = loadConfig(path, true)
	require.NoError(t, err)
	require.Equal(t, 9090, config.Port)
	require.False(t, config.Browser.Headful)
}

func TestLoadConfigBadPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "http")

	_, err := loadConfig(filepath.Join(t.TempDir(), "config.json5"), false)
	require.Error(t, err)
}

func TestIsProduction(t *testing.T) {
	clearEnv(t)
	t.Setenv("RENDER", "")
	os.Unsetenv("RENDER")
	require.False(t, isProduction())

	t.Setenv("NODE_ENV", "production")
	require.True(t, isProduction())

	t.Setenv("NODE_ENV", "")
	t.Setenv("RENDER", "true")
	require.True(t, isProduction())
}

func TestLoadCredentials(t *testing.T) {
	clearEnv(t)
	t.Setenv("COOP_VITTA_USERNAME", "coop")
	t.Setenv("COOP_VITTA_PASSWORD", "secret")
	t.Setenv("DELTA_USERNAME", "delta")

	credentials, err := loadCredentials(false)
	require.Error(t, err)
	require.ErrorContains(t, err, "DELTA_PASSWORD")
	require.ErrorContains(t, err, "VIVA_SAUDE_USERNAME")

	credentials, err = loadCredentials(true)
	require.NoError(t, err)
	require.Equal(t, map[string]portal.Credential{
		"coop-vitta": {Key: "coop-vitta", Family: portal.FamilyRHID, Username: "coop", Password: "secret"},
	}, credentials)
}

func TestRenderOutcomes(t *testing.T) {
	var out bytes.Buffer
	renderOutcomes(&out, []checker.Outcome{
		{System: "coop-vitta", Result: portal.Result{Success: true}, Duration: 1500 * time.Millisecond},
		{System: "delta", Err: errors.New("navigation failed")},
	})

	rendered := out.String()
	require.Contains(t, rendered, "coop-vitta")
	require.Contains(t, rendered, "Login bem-sucedido")
	require.Contains(t, rendered, "1.5s")
	require.Contains(t, rendered, "navigation failed")
	require.Contains(t, rendered, "╭")
}

func TestRenderReconciliation(t *testing.T) {
	var out bytes.Buffer
	renderReconciliation(&out, reconcile.Result{
		Months: []reconcile.MonthResult{
			{Month: "JUNHO", Value: decimal.NewFromInt(-2300), Pairs: 3},
		},
		Total: decimal.NewFromInt(-2300),
	})

	rendered := out.String()
	require.Contains(t, rendered, "JUNHO")
	require.Contains(t, rendered, "-R$ 2.300,00")
}
